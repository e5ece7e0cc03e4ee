// Package compression implements the cache's pluggable compression
// subsystem: algorithm selection, codec dispatch, and expansion detection.
//
// Payloads are compressed before being written to the data region. Each
// stored entry remembers, via the directory's DiskLocation, whether its
// on-disk bytes are compressed and which algorithm produced them.
package compression

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type identifies a compression algorithm.
type Type uint8

const (
	// NoCompression stores payloads verbatim.
	NoCompression Type = 0x0
	// FastCompression favors speed over ratio (Snappy).
	FastCompression Type = 0x1
	// BalancedCompression favors ratio while staying reasonably fast (Zstandard).
	BalancedCompression Type = 0x2
	// LZ4Compression is an alternative fast codec, selectable explicitly.
	LZ4Compression Type = 0x3
)

// String returns the human-readable name of the compression type.
func (t Type) String() string {
	switch t {
	case NoCompression:
		return "none"
	case FastCompression:
		return "fast"
	case BalancedCompression:
		return "balanced"
	case LZ4Compression:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// IsSupported returns true if the compression type can be dispatched.
func (t Type) IsSupported() bool {
	switch t {
	case NoCompression, FastCompression, BalancedCompression, LZ4Compression:
		return true
	default:
		return false
	}
}

// Config configures the compression policy applied on store.
type Config struct {
	// Enabled turns compression on or off globally.
	Enabled bool
	// Algorithm selects the codec used for new writes.
	Algorithm Type
	// Level is the codec-specific compression level (meaning varies by algorithm).
	Level int
	// MinSize is the smallest payload, in bytes, eligible for compression.
	MinSize int
}

// DefaultConfig returns the cache's default compression policy:
// balanced algorithm, level 3, 1 KiB minimum size, enabled.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Algorithm: BalancedCompression,
		Level:     3,
		MinSize:   1024,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if !c.Algorithm.IsSupported() {
		return fmt.Errorf("compression: unsupported algorithm %s", c.Algorithm)
	}
	if c.MinSize < 0 {
		return fmt.Errorf("compression: negative min_size")
	}
	return nil
}

// Stats tracks cumulative compression activity.
type Stats struct {
	BytesIn     uint64
	BytesOut    uint64
	Compressed  uint64
	Skipped     uint64
	Expanded    uint64
}

// Ratio returns stored bytes / original bytes, or 1 if nothing has run yet.
func (s Stats) Ratio() float64 {
	if s.BytesIn == 0 {
		return 1
	}
	return float64(s.BytesOut) / float64(s.BytesIn)
}

// SpaceSaved returns BytesIn - BytesOut (can be negative only in theory; the
// expansion guard in Compress prevents stored output from ever exceeding input).
func (s Stats) SpaceSaved() uint64 {
	if s.BytesOut >= s.BytesIn {
		return 0
	}
	return s.BytesIn - s.BytesOut
}

// Compressor applies the store-time compression policy and tracks stats.
// It is safe for concurrent use; callers serialize stat updates with a mutex
// at a higher layer (the engine already holds no lock across this call, so
// Compressor keeps its own lightweight counters via atomics-free simple
// accumulation guarded by the caller).
type Compressor struct {
	cfg   Config
	stats Stats
}

// New creates a Compressor with the given policy.
func New(cfg Config) *Compressor {
	return &Compressor{cfg: cfg}
}

// Config returns the active compression policy.
func (c *Compressor) Config() Config { return c.cfg }

// SetConfig replaces the active compression policy (used by
// UpdateCompressionConfig on the cache handle).
func (c *Compressor) SetConfig(cfg Config) { c.cfg = cfg }

// Stats returns a snapshot of cumulative compression statistics.
func (c *Compressor) Stats() Stats { return c.stats }

// Compress applies the configured policy to payload, returning the bytes to
// store and whether they are compressed. It never returns an error: codec
// failures degrade to storing the original bytes uncompressed, since a
// compression failure must never block a store.
func (c *Compressor) Compress(payload []byte) (out []byte, compressed bool) {
	if !c.cfg.Enabled || c.cfg.Algorithm == NoCompression || len(payload) < c.cfg.MinSize {
		c.stats.Skipped++
		return payload, false
	}

	encoded, err := Compress(c.cfg.Algorithm, payload, c.cfg.Level)
	if err != nil {
		c.stats.Skipped++
		return payload, false
	}

	c.stats.BytesIn += uint64(len(payload))
	if len(encoded) >= len(payload) {
		c.stats.Expanded++
		c.stats.BytesOut += uint64(len(payload))
		return payload, false
	}

	c.stats.Compressed++
	c.stats.BytesOut += uint64(len(encoded))
	return encoded, true
}

// Decompress reverses Compress given the algorithm an entry was stored with.
// If the entry was not compressed, data is returned unchanged.
func (c *Compressor) Decompress(data []byte, wasCompressed bool, algorithm Type, originalSize int) ([]byte, error) {
	if !wasCompressed {
		return data, nil
	}
	return DecompressWithSize(algorithm, data, originalSize)
}

// Compress compresses data using the specified algorithm and level.
func Compress(t Type, data []byte, level int) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil

	case FastCompression:
		return snappy.Encode(nil, data), nil

	case BalancedCompression:
		return compressZstd(data, zstdLevel(level))

	case LZ4Compression:
		return compressLZ4(data)

	default:
		return nil, fmt.Errorf("compression: unsupported algorithm %s", t)
	}
}

func zstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 4:
		return zstd.SpeedDefault
	case level <= 8:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func compressZstd(data []byte, level zstd.EncoderLevel) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	out := encoder.EncodeAll(data, nil)
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("zstd encoder close: %w", err)
	}
	return out, nil
}

// compressLZ4 compresses data using LZ4's raw block format.
func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	var ht [1 << 16]int
	n, err := lz4.CompressBlock(data, dst, ht[:])
	if err != nil {
		return nil, fmt.Errorf("lz4 compress block: %w", err)
	}
	if n == 0 {
		// Incompressible input; caller's expansion check will fall back to raw.
		return data, nil
	}
	return dst[:n], nil
}

// Decompress decompresses data using the specified algorithm, with no known
// original size hint (only safe for algorithms that self-describe length).
func Decompress(t Type, data []byte) ([]byte, error) {
	return DecompressWithSize(t, data, 0)
}

// DecompressWithSize decompresses data given a known (or best-guess) original
// size. LZ4's raw block format requires this hint for correct decoding.
func DecompressWithSize(t Type, data []byte, expectedSize int) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil

	case FastCompression:
		return snappy.Decode(nil, data)

	case BalancedCompression:
		return decompressZstd(data)

	case LZ4Compression:
		return decompressLZ4(data, expectedSize)

	default:
		return nil, fmt.Errorf("compression: unsupported algorithm %s", t)
	}
}

func decompressLZ4(data []byte, expectedSize int) ([]byte, error) {
	if expectedSize > 0 {
		dst := make([]byte, expectedSize)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 uncompress block: %w", err)
		}
		return dst[:n], nil
	}

	bufSize := max(len(data)*4, 256)
	for range 10 {
		dst := make([]byte, bufSize)
		n, err := lz4.UncompressBlock(data, dst)
		if err == nil {
			return dst[:n], nil
		}
		bufSize *= 2
	}
	return nil, fmt.Errorf("lz4 uncompress block: buffer too small after retries")
}

func decompressZstd(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}
