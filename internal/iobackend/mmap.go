package iobackend

import (
	"os"

	"github.com/edsrzf/mmap-go"
)

// MMapReader layers a zero-copy read path on top of another backend: reads
// at or above threshold map the requested region and copy out the answer;
// the mapping is torn down before the call returns, so nothing is retained
// between calls. Smaller reads, and all writes, fall through to the
// wrapped backend.
type MMapReader struct {
	file      *os.File
	fallback  Backend
	threshold int
}

// NewMMapReader wraps fallback with a zero-copy read path over file. The two
// must refer to the same underlying descriptor.
func NewMMapReader(file *os.File, fallback Backend, threshold int) *MMapReader {
	if threshold <= 0 {
		threshold = 64 * 1024
	}
	return &MMapReader{file: file, fallback: fallback, threshold: threshold}
}

// ReadAt implements Backend.
func (m *MMapReader) ReadAt(offset int64, length int) ([]byte, error) {
	if length < m.threshold {
		return m.fallback.ReadAt(offset, length)
	}

	pageSize := int64(os.Getpagesize())
	alignedOff := AlignDown(offset, int(pageSize))
	mapLen := int(offset-alignedOff) + length

	region, err := mmap.MapRegion(m.file, mapLen, mmap.RDONLY, 0, alignedOff)
	if err != nil {
		// Degrade to the buffered path rather than fail the read outright.
		return m.fallback.ReadAt(offset, length)
	}
	defer region.Unmap()

	lo := offset - alignedOff
	out := make([]byte, length)
	copy(out, region[lo:lo+int64(length)])
	return out, nil
}

// WriteAt implements Backend.
func (m *MMapReader) WriteAt(offset int64, data []byte) error {
	return m.fallback.WriteAt(offset, data)
}

// Sync implements Backend.
func (m *MMapReader) Sync() error { return m.fallback.Sync() }

// Alignment implements Backend.
func (m *MMapReader) Alignment() int { return m.fallback.Alignment() }

// DirectIOEnabled implements Backend.
func (m *MMapReader) DirectIOEnabled() bool { return m.fallback.DirectIOEnabled() }

// Close implements Backend.
func (m *MMapReader) Close() error { return m.fallback.Close() }
