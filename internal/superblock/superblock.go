// Package superblock implements the cache's fixed 4 KiB on-disk header:
// format identification, block size, capacity, and the metadata/data region
// layout. Encoding is bit-exact little-endian, following the same
// fixed-width encode/decode discipline as the rest of the engine's on-disk
// structures.
package superblock

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Size is the fixed on-disk size of the superblock.
const Size = 4096

// Magic identifies the on-disk format. Chosen once, never changed.
const Magic uint32 = 0x424C4B43 // "BLKC"

// Version is the current on-disk format version.
const Version uint32 = 1

const (
	// MinMetadataSize is the smallest allowed metadata region.
	MinMetadataSize = 64 * 1024
	// MaxMetadataSize is the largest allowed metadata region.
	MaxMetadataSize = 100 * 1024 * 1024
	// MetadataFraction is the fraction of capacity reserved for metadata
	// before clamping to [MinMetadataSize, MaxMetadataSize].
	MetadataFraction = 0.01
)

var (
	// ErrInvalidMagic means the file is not a recognized cache file.
	ErrInvalidMagic = errors.New("superblock: invalid magic")
	// ErrUnsupportedVersion means the file's format version cannot be read.
	ErrUnsupportedVersion = errors.New("superblock: unsupported version")
	// ErrInvalidLayout means the region offsets/sizes are inconsistent.
	ErrInvalidLayout = errors.New("superblock: invalid region layout")
)

// Superblock is the fixed-offset header describing the on-disk format.
type Superblock struct {
	Magic          uint32
	Version        uint32
	BlockSize      uint32
	TotalSize      uint64
	MetadataOffset uint64
	MetadataSize   uint64
	DataOffset     uint64
}

// New computes a fresh superblock for a cache of the given capacity and
// block size. MetadataSize is derived as ~1% of capacity, clamped to
// [MinMetadataSize, MaxMetadataSize].
func New(capacity uint64, blockSize uint32) Superblock {
	metaSize := uint64(float64(capacity) * MetadataFraction)
	if metaSize < MinMetadataSize {
		metaSize = MinMetadataSize
	}
	if metaSize > MaxMetadataSize {
		metaSize = MaxMetadataSize
	}

	return Superblock{
		Magic:          Magic,
		Version:        Version,
		BlockSize:      blockSize,
		TotalSize:      capacity,
		MetadataOffset: Size,
		MetadataSize:   metaSize,
		DataOffset:     Size + metaSize,
	}
}

// TotalBlocks returns the number of whole blocks available in the data region.
func (s Superblock) TotalBlocks() uint64 {
	if s.TotalSize <= s.DataOffset || s.BlockSize == 0 {
		return 0
	}
	return (s.TotalSize - s.DataOffset) / uint64(s.BlockSize)
}

// Validate checks the superblock's internal invariants.
func (s Superblock) Validate() error {
	if s.Magic != Magic {
		return ErrInvalidMagic
	}
	if s.Version != Version {
		return fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, s.Version, Version)
	}
	if s.DataOffset != s.MetadataOffset+s.MetadataSize {
		return ErrInvalidLayout
	}
	if s.BlockSize == 0 {
		return fmt.Errorf("%w: zero block size", ErrInvalidLayout)
	}
	if s.TotalSize < s.DataOffset {
		return fmt.Errorf("%w: capacity smaller than header+metadata", ErrInvalidLayout)
	}
	return nil
}

// Encode serializes the superblock into a Size-byte little-endian buffer.
func (s Superblock) Encode() []byte {
	buf := make([]byte, Size)
	binary.LittleEndian.PutUint32(buf[0:4], s.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], s.Version)
	binary.LittleEndian.PutUint32(buf[8:12], s.BlockSize)
	binary.LittleEndian.PutUint64(buf[12:20], s.TotalSize)
	binary.LittleEndian.PutUint64(buf[20:28], s.MetadataOffset)
	binary.LittleEndian.PutUint64(buf[28:36], s.MetadataSize)
	binary.LittleEndian.PutUint64(buf[36:44], s.DataOffset)
	return buf
}

// Decode parses a Size-byte buffer into a Superblock. It does not call
// Validate; callers should do so explicitly after Decode.
func Decode(buf []byte) (Superblock, error) {
	if len(buf) < Size {
		return Superblock{}, fmt.Errorf("superblock: buffer too small: %d < %d", len(buf), Size)
	}
	return Superblock{
		Magic:          binary.LittleEndian.Uint32(buf[0:4]),
		Version:        binary.LittleEndian.Uint32(buf[4:8]),
		BlockSize:      binary.LittleEndian.Uint32(buf[8:12]),
		TotalSize:      binary.LittleEndian.Uint64(buf[12:20]),
		MetadataOffset: binary.LittleEndian.Uint64(buf[20:28]),
		MetadataSize:   binary.LittleEndian.Uint64(buf[28:36]),
		DataOffset:     binary.LittleEndian.Uint64(buf[36:44]),
	}, nil
}
