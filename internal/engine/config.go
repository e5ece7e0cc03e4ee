package engine

import (
	"fmt"
	"time"

	"github.com/blockvault/rawcache/internal/checksum"
	"github.com/blockvault/rawcache/internal/compression"
	"github.com/blockvault/rawcache/internal/defrag"
	"github.com/blockvault/rawcache/internal/gc"
	"github.com/blockvault/rawcache/internal/iobackend"
	"github.com/blockvault/rawcache/internal/logging"
	"github.com/blockvault/rawcache/internal/prefetch"
	"github.com/blockvault/rawcache/internal/verify"
)

// Config configures a cache engine instance.
type Config struct {
	// Capacity is the total on-disk file size, including the superblock
	// and metadata region.
	Capacity uint64
	// BlockSize is the allocation granularity in bytes. Must be a power of
	// two and at least 512.
	BlockSize uint32

	ChecksumAlgorithm checksum.Type

	// TTL expires entries whose Timestamp + TTL is in the past at lookup
	// time. Zero disables expiry.
	TTL time.Duration

	Compression compression.Config
	IO          iobackend.Config
	GC          gc.Config
	Defrag      defrag.Config
	Prefetch    prefetch.Config
	Verify      verify.Config

	Logger logging.Logger
}

// DefaultConfig returns a Config with every subsystem's defaults, sized for
// a 1 GiB cache file with 4 KiB blocks.
func DefaultConfig() Config {
	return Config{
		Capacity:          1 << 30,
		BlockSize:         4096,
		ChecksumAlgorithm: checksum.TypeXXH3,
		Compression:       compression.DefaultConfig(),
		IO:                iobackend.Config{MMapThreshold: 64 * 1024, BatchMaxEntries: 64, BatchMaxBytes: 4 << 20},
		GC:                gc.DefaultConfig(),
		Defrag:            defrag.DefaultConfig(),
		Prefetch:          prefetch.DefaultConfig(),
		Verify:            verify.DefaultConfig(),
	}
}

// Validate checks the configuration's invariants and delegates to each
// subsystem's own Validate.
func (c Config) Validate() error {
	if c.BlockSize < 512 || c.BlockSize&(c.BlockSize-1) != 0 {
		return fmt.Errorf("engine: block size must be a power of two >= 512, got %d", c.BlockSize)
	}
	if c.Capacity == 0 {
		return fmt.Errorf("engine: capacity must be positive")
	}
	if err := c.Compression.Validate(); err != nil {
		return err
	}
	if err := c.GC.Validate(); err != nil {
		return err
	}
	if err := c.Defrag.Validate(); err != nil {
		return err
	}
	if err := c.Verify.Validate(); err != nil {
		return err
	}
	return nil
}
