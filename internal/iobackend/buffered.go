package iobackend

import (
	"io"
	"os"
	"sync"
)

// Buffered is a lock-serialized handle to the backing file: every read or
// write seeks to the target offset and then performs the transfer under a
// single mutex, going through the OS page cache.
type Buffered struct {
	mu   sync.Mutex
	file *os.File
}

// NewBuffered wraps an already-open file in a buffered backend.
func NewBuffered(f *os.File) *Buffered {
	return &Buffered{file: f}
}

// ReadAt implements Backend.
func (b *Buffered) ReadAt(offset int64, length int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	// Bytes past the current end of file read back as zeros, as with Direct.
	if _, err := io.ReadFull(b.file, buf); err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return buf, nil
}

// WriteAt implements Backend.
func (b *Buffered) WriteAt(offset int64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	_, err := b.file.Write(data)
	return err
}

// Sync implements Backend. It calls (*os.File).Sync, a full fsync that
// flushes the file's metadata as well as its data.
func (b *Buffered) Sync() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Sync()
}

// Alignment implements Backend: the buffered backend has no alignment requirement.
func (b *Buffered) Alignment() int { return 1 }

// DirectIOEnabled implements Backend.
func (b *Buffered) DirectIOEnabled() bool { return false }

// Close implements Backend.
func (b *Buffered) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}

// File returns the underlying *os.File, for backends (mmap) that need to
// open their own mapping against the same descriptor.
func (b *Buffered) File() *os.File { return b.file }
