package rawcache

import (
	"context"

	"github.com/blockvault/rawcache/internal/compression"
	"github.com/blockvault/rawcache/internal/defrag"
	"github.com/blockvault/rawcache/internal/engine"
	"github.com/blockvault/rawcache/internal/gc"
	"github.com/blockvault/rawcache/internal/logging"
	"github.com/blockvault/rawcache/internal/verify"
)

// Re-exported so callers never need to import internal packages directly.
type (
	// Config configures a Handle. See engine.Config for subsystem detail.
	Config = engine.Config
	// Stats is the cumulative counters surfaced by Handle.Stats.
	Stats = engine.Stats
	// Logger is the ambient logging interface accepted by Config.
	Logger = logging.Logger
)

var (
	// ErrNotFound is returned by Lookup and Remove when the key is absent.
	ErrNotFound = engine.ErrNotFound
	// ErrChecksumMismatch is returned by Lookup when stored data fails
	// checksum verification and cannot be repaired.
	ErrChecksumMismatch = engine.ErrChecksumMismatch
	// ErrClosed is returned by any operation invoked after Close.
	ErrClosed = engine.ErrClosed
)

// DefaultConfig returns a Config with every subsystem's defaults.
func DefaultConfig() Config { return engine.DefaultConfig() }

// Handle is the cache's public entry point: a single-file, block-managed
// content cache reachable by opaque string keys.
type Handle struct {
	eng *engine.Engine
}

// Open opens (or creates) a cache file at path per cfg.
func Open(path string, cfg Config) (*Handle, error) {
	eng, err := engine.Open(path, cfg)
	if err != nil {
		return nil, err
	}
	return &Handle{eng: eng}, nil
}

// Store writes bytes under key, compressing and checksumming per the
// handle's configuration. It replaces any existing entry for key.
func (h *Handle) Store(key string, value []byte) error {
	return h.eng.Store(key, value)
}

// Lookup returns the bytes stored under key, or ErrNotFound if absent or
// expired. Returns ErrChecksumMismatch if the stored payload is corrupted
// and could not be repaired from backup.
func (h *Handle) Lookup(ctx context.Context, key string) ([]byte, error) {
	return h.eng.Lookup(ctx, key)
}

// Remove deletes key, freeing its blocks. Returns ErrNotFound if key was
// not present.
func (h *Handle) Remove(key string) error {
	return h.eng.Remove(key)
}

// PurgeMatching removes every key for which match returns true, returning
// the number of entries removed.
func (h *Handle) PurgeMatching(match func(key string) bool) int {
	return h.eng.PurgeMatching(match)
}

// Stats returns a snapshot of the handle's cumulative counters.
func (h *Handle) Stats() Stats {
	return h.eng.Stats()
}

// SaveMetadata serializes the directory into the file's metadata region.
func (h *Handle) SaveMetadata() error {
	return h.eng.SaveMetadata()
}

// LoadMetadata reloads the directory from the file's metadata region,
// replacing the in-memory directory.
func (h *Handle) LoadMetadata() error {
	return h.eng.LoadMetadata()
}

// Defragment runs one defragmentation pass if fragmentation exceeds the
// configured threshold, returning the number of entries relocated.
func (h *Handle) Defragment(ctx context.Context) (int, error) {
	return h.eng.Defragment(ctx)
}

// Close flushes metadata and releases the backing file.
func (h *Handle) Close() error {
	return h.eng.Close()
}

// UpdateGCConfig replaces the eviction manager's policy for subsequent
// allocation-pressure-triggered and explicit GC runs.
func (h *Handle) UpdateGCConfig(cfg gc.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	h.eng.SetGCConfig(cfg)
	return nil
}

// UpdateDefragConfig replaces the defragmentation policy for subsequent
// Defragment calls.
func (h *Handle) UpdateDefragConfig(cfg defrag.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	h.eng.SetDefragConfig(cfg)
	return nil
}

// UpdateVerificationConfig replaces the verification manager's policy,
// including the bounded backup store's size.
func (h *Handle) UpdateVerificationConfig(cfg verify.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	h.eng.SetVerifyConfig(cfg)
	return nil
}

// UpdateCompressionConfig replaces the active compression policy for
// subsequent Store calls. Existing stored entries are unaffected.
func (h *Handle) UpdateCompressionConfig(cfg compression.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	h.eng.SetCompressionConfig(cfg)
	return nil
}
