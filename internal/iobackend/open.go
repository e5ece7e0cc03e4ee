package iobackend

import "os"

// Config selects and configures the backend stack for a cache file.
type Config struct {
	// DirectIO opens the file with O_DIRECT when the platform supports it.
	DirectIO bool
	// Alignment overrides the detected filesystem block size; 0 autodetects.
	Alignment int

	// MMapThreshold enables the zero-copy read path for reads >= threshold.
	// 0 disables the mmap read path.
	MMapThreshold int

	// BatchMaxEntries and BatchMaxBytes enable write batching / read
	// coalescing when either is > 0.
	BatchMaxEntries int
	BatchMaxBytes   int

	// Ring enables the Linux io_uring backend instead of buffered/direct.
	Ring       bool
	RingConfig RingConfig
}

// Open builds the configured backend stack for path.
func Open(path string, cfg Config) (Backend, error) {
	var base Backend

	switch {
	case cfg.Ring:
		ring, err := OpenRing(path, cfg.RingConfig)
		if err != nil {
			// Fall back to buffered I/O if io_uring is unavailable
			// (e.g. non-Linux or kernel too old); ring is a best-effort
			// performance backend, never a hard requirement.
			f, openErr := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
			if openErr != nil {
				return nil, openErr
			}
			base = NewBuffered(f)
		} else {
			base = ring
		}

	case cfg.DirectIO && directIOSupported:
		d, err := OpenDirect(path, cfg.Alignment)
		if err != nil {
			return nil, err
		}
		base = d

	default:
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, err
		}
		base = NewBuffered(f)
	}

	if cfg.MMapThreshold > 0 {
		if f := fileOf(base); f != nil {
			base = NewMMapReader(f, base, cfg.MMapThreshold)
		}
	}

	if cfg.BatchMaxEntries > 0 || cfg.BatchMaxBytes > 0 {
		base = NewBatch(base, cfg.BatchMaxEntries, cfg.BatchMaxBytes)
	}

	return base, nil
}

// fileOf extracts the underlying *os.File from backends that expose one, so
// the mmap read path can share the same descriptor.
func fileOf(b Backend) *os.File {
	switch v := b.(type) {
	case *Buffered:
		return v.File()
	case *Direct:
		return v.File()
	default:
		return nil
	}
}
