// Package engine composes the allocator, directory, compression, checksum,
// eviction, defragmentation, prefetch, and verification subsystems into the
// cache's store/lookup/remove pipeline over a single backing file.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blockvault/rawcache/internal/allocator"
	"github.com/blockvault/rawcache/internal/checksum"
	"github.com/blockvault/rawcache/internal/compression"
	"github.com/blockvault/rawcache/internal/defrag"
	"github.com/blockvault/rawcache/internal/directory"
	"github.com/blockvault/rawcache/internal/gc"
	"github.com/blockvault/rawcache/internal/iobackend"
	"github.com/blockvault/rawcache/internal/logging"
	"github.com/blockvault/rawcache/internal/prefetch"
	"github.com/blockvault/rawcache/internal/superblock"
	"github.com/blockvault/rawcache/internal/verify"
)

// Stats reports a snapshot of the engine's state across subsystems.
type Stats struct {
	Entries     int
	UsedBlocks  uint64
	FreeBlocks  uint64
	TotalBlocks uint64
	Hits        uint64
	Misses      uint64
	HitRate     float64

	Compression   compression.Stats
	Eviction      gc.Stats
	Verify        verify.Stats
	Fragmentation float64
}

// Engine is the cache's on-disk storage engine, addressed by opaque string
// keys. It is safe for concurrent use.
type Engine struct {
	closed bool
	mu     sync.RWMutex // guards closed, superblock mutation

	sb      superblock.Superblock
	backend iobackend.Backend
	logger  logging.Logger

	alloc      *allocator.Allocator
	dir        *directory.Directory
	compressor *compression.Compressor
	gcMgr      *gc.Manager
	gcCfg      gc.Config
	defragCfg  defrag.Config
	detector   *prefetch.Detector
	prefetched *prefetch.Cache
	verifyMgr  *verify.Manager

	checksumAlgo checksum.Type
	ttl          time.Duration
}

// Open opens (or creates) a cache file at path per cfg.
func Open(path string, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.OrDefault(cfg.Logger)

	backend, err := iobackend.Open(path, cfg.IO)
	if err != nil {
		return nil, fmt.Errorf("engine: open backend: %w", err)
	}

	sb, isNew, err := loadOrCreateSuperblock(backend, cfg)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	alloc := allocator.New(sb.BlockSize, sb.TotalBlocks())

	var dir *directory.Directory
	if isNew {
		dir = directory.New()
	} else {
		dir, err = loadDirectory(backend, sb)
		if err != nil {
			logger.Warnf(logging.NSDirectory+"failed to load metadata, starting empty: %v", err)
			dir = directory.New()
		}
	}

	e := &Engine{
		sb:           sb,
		backend:      backend,
		logger:       logger,
		alloc:        alloc,
		dir:          dir,
		compressor:   compression.New(cfg.Compression),
		defragCfg:    cfg.Defrag,
		detector:     prefetch.NewDetector(cfg.Prefetch),
		prefetched:   prefetch.NewCache(cfg.Prefetch.CacheSize),
		verifyMgr:    verify.New(cfg.Verify, logger),
		checksumAlgo: cfg.ChecksumAlgorithm,
		gcCfg:        cfg.GC,
		ttl:          cfg.TTL,
	}
	e.gcMgr = gc.New(dirSource{dir}, cfg.GC)

	logger.Infof(logging.NSEngine+"opened %s: capacity=%d block_size=%d total_blocks=%d entries=%d",
		path, sb.TotalSize, sb.BlockSize, sb.TotalBlocks(), dir.Len())

	return e, nil
}

// dirSource adapts *directory.Directory to gc.Source.
type dirSource struct{ d *directory.Directory }

func (s dirSource) LRUVictims(n int) []string  { return s.d.LRUVictims(n) }
func (s dirSource) FIFOVictims(n int) []string { return s.d.FIFOVictims(n) }
func (s dirSource) Accesses(key string) uint64 { return s.d.Accesses(key) }

func loadOrCreateSuperblock(backend iobackend.Backend, cfg Config) (superblock.Superblock, bool, error) {
	buf, err := backend.ReadAt(0, superblock.Size)
	if err == nil && len(buf) == superblock.Size {
		if sb, decErr := superblock.Decode(buf); decErr == nil && sb.Validate() == nil {
			return sb, false, nil
		}
	}

	sb := superblock.New(cfg.Capacity, cfg.BlockSize)
	if err := backend.WriteAt(0, sb.Encode()); err != nil {
		return superblock.Superblock{}, false, fmt.Errorf("engine: write superblock: %w", err)
	}
	if err := backend.Sync(); err != nil {
		return superblock.Superblock{}, false, fmt.Errorf("engine: sync superblock: %w", err)
	}
	return sb, true, nil
}

func loadDirectory(backend iobackend.Backend, sb superblock.Superblock) (*directory.Directory, error) {
	buf, err := backend.ReadAt(int64(sb.MetadataOffset), int(sb.MetadataSize))
	if err != nil {
		return nil, err
	}
	return directory.Load(buf)
}

// blocksFor returns the number of whole blocks needed to hold n bytes.
func (e *Engine) blocksFor(n int) uint64 {
	bs := uint64(e.sb.BlockSize)
	return (uint64(n) + bs - 1) / bs
}

// byteOffset converts a block-relative offset into an absolute file offset
// within the data region.
func (e *Engine) byteOffset(blockOffset uint64) int64 {
	return int64(e.sb.DataOffset + blockOffset*uint64(e.sb.BlockSize))
}

// Store compresses (if configured), writes, and indexes data under key,
// replacing any existing entry. It retries once against the eviction
// manager if the allocator is out of contiguous space.
func (e *Engine) Store(key string, data []byte) error {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	payload, compressed := e.compressor.Compress(data)
	blocks := e.blocksFor(len(payload))
	if blocks == 0 {
		blocks = 1
	}

	loc, err := e.alloc.Allocate(blocks)
	if err != nil {
		e.gcMgr.NoteAllocationFailure()
		e.runEvictionPass()
		loc, err = e.alloc.Allocate(blocks)
		if err != nil {
			return fmt.Errorf("engine: store %q: %w", key, err)
		}
	}
	e.gcMgr.NoteAllocationSuccess()

	if err := e.backend.WriteAt(e.byteOffset(loc.BlockOffset), payload); err != nil {
		e.alloc.Free(loc.BlockOffset, loc.BlockCount)
		return fmt.Errorf("engine: write %q: %w", key, err)
	}

	sum := checksum.Compute(e.checksumAlgo, payload)

	now := time.Now()
	diskLoc := directory.DiskLocation{
		BlockOffset:   loc.BlockOffset,
		BlockCount:    loc.BlockCount,
		PayloadLength: uint32(len(payload)),
		Checksum:      sum,
		Timestamp:     now.Unix(),
		Compressed:    compressed,
		Algorithm:     uint8(e.compressor.Config().Algorithm),
	}
	if compressed {
		diskLoc.OriginalLength = uint32(len(data))
	}

	if old, ok := e.dir.Remove(key); ok {
		e.alloc.Free(old.BlockOffset, old.BlockCount)
	}
	e.dir.Insert(key, diskLoc)
	e.verifyMgr.Backup(key, payload)
	e.detector.Record(key, loc.BlockOffset, now)

	return nil
}

// Lookup reads and validates the entry for key, repairing it from backup
// and retrying once if the stored checksum does not match.
func (e *Engine) Lookup(ctx context.Context, key string) ([]byte, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	if cached, ok := e.prefetched.Take(key); ok {
		return cached, nil
	}

	loc, ok := e.dir.Get(key)
	if !ok {
		return nil, ErrNotFound
	}

	if e.ttl > 0 && time.Since(time.Unix(loc.Timestamp, 0)) > e.ttl {
		_ = e.Remove(key)
		return nil, ErrNotFound
	}

	e.detector.Record(key, loc.BlockOffset, time.Now())

	data, err := e.readAndVerify(key, loc)
	if err != nil {
		return nil, err
	}

	e.prefetchAhead(ctx, key)

	return data, nil
}

func (e *Engine) readAndVerify(key string, loc directory.DiskLocation) ([]byte, error) {
	payload, err := e.backend.ReadAt(e.byteOffset(loc.BlockOffset), int(loc.PayloadLength))
	if err != nil {
		return nil, fmt.Errorf("engine: read %q: %w", key, err)
	}

	if !checksum.Verify(loc.Checksum, payload) {
		e.logger.Warnf(logging.NSEngine+"checksum mismatch for %q, attempting repair", key)
		repaired, rerr := e.verifyMgr.RepairFromBackup(e.backend, key, e.byteOffset(loc.BlockOffset))
		if rerr != nil || !repaired {
			return nil, ErrChecksumMismatch
		}
		payload, err = e.backend.ReadAt(e.byteOffset(loc.BlockOffset), int(loc.PayloadLength))
		if err != nil {
			return nil, fmt.Errorf("engine: re-read %q after repair: %w", key, err)
		}
		if !checksum.Verify(loc.Checksum, payload) {
			return nil, ErrChecksumMismatch
		}
	}

	if loc.Compressed {
		return compression.DecompressWithSize(compression.Type(loc.Algorithm), payload, int(loc.OriginalLength))
	}
	return payload, nil
}

// prefetchAhead asks the pattern detector what (if anything) to load next
// and warms the prefetch cache with it.
func (e *Engine) prefetchAhead(_ context.Context, key string) {
	for _, k := range e.detector.PredictNext(key, e.dir.SortedKeys()) {
		loc, ok := e.dir.Peek(k)
		if !ok {
			continue
		}
		data, err := e.readAndVerify(k, loc)
		if err != nil {
			continue
		}
		e.prefetched.Insert(k, data)
	}
}

// Remove deletes key, freeing its blocks, discarding any held backup, and
// invalidating its prefetch-cache entry.
func (e *Engine) Remove(key string) error {
	loc, ok := e.dir.Remove(key)
	if !ok {
		return ErrNotFound
	}
	e.alloc.Free(loc.BlockOffset, loc.BlockCount)
	e.verifyMgr.ClearBackup(key)
	e.prefetched.Take(key) // discard without returning, if present
	return nil
}

// PurgeMatching removes every key for which match returns true, returning
// the number of entries removed.
func (e *Engine) PurgeMatching(match func(key string) bool) int {
	var victims []string
	e.dir.ForEach(func(key string, _ directory.DiskLocation) {
		if match(key) {
			victims = append(victims, key)
		}
	})

	for _, k := range victims {
		_ = e.Remove(k)
	}
	return len(victims)
}

// Stats returns a snapshot of the engine's current state.
func (e *Engine) Stats() Stats {
	return Stats{
		Entries:       e.dir.Len(),
		UsedBlocks:    e.alloc.UsedBlocks(),
		FreeBlocks:    e.alloc.FreeBlocks(),
		TotalBlocks:   e.alloc.TotalBlocks(),
		Hits:          e.dir.Hits(),
		Misses:        e.dir.Misses(),
		HitRate:       e.dir.HitRate(),
		Compression:   e.compressor.Stats(),
		Eviction:      e.gcMgr.Stats(),
		Verify:        e.verifyMgr.Stats(),
		Fragmentation: defrag.Metric(e.alloc),
	}
}

// runEvictionPass runs one eviction batch via the gc manager, freeing the
// allocator blocks of each evicted entry.
func (e *Engine) runEvictionPass() {
	e.gcMgr.Run(func(key string) uint64 {
		loc, ok := e.dir.Remove(key)
		if !ok {
			return 0
		}
		e.alloc.Free(loc.BlockOffset, loc.BlockCount)
		e.verifyMgr.ClearBackup(key)
		e.prefetched.Take(key)
		return loc.BlockCount
	})
}

// Defragment runs one defragmentation pass if the current fragmentation
// metric exceeds the configured threshold, relocating live entries to
// compact free space.
func (e *Engine) Defragment(ctx context.Context) (int, error) {
	if defrag.Metric(e.alloc) < e.defragCfg.Threshold {
		return 0, nil
	}

	var candidates []defrag.Candidate
	e.dir.ForEach(func(key string, loc directory.DiskLocation) {
		candidates = append(candidates, defrag.Candidate{
			Key:         key,
			BlockOffset: loc.BlockOffset,
			BlockCount:  loc.BlockCount,
		})
	})

	plan := defrag.Plan(e.alloc, candidates, e.defragCfg)
	runner := defrag.Runner{Move: e.relocate}
	return runner.Execute(ctx, plan)
}

// relocate copies an entry's payload to a new block range and atomically
// repoints the directory at the new location, then frees the old range.
func (e *Engine) relocate(ctx context.Context, key string, oldBlock, newBlock, blocks uint64) error {
	loc, ok := e.dir.Peek(key)
	if !ok {
		return nil // entry was removed concurrently; nothing to relocate
	}

	if err := e.alloc.Reserve(newBlock, blocks); err != nil {
		return fmt.Errorf("engine: reserve relocation target: %w", err)
	}

	payload, err := e.backend.ReadAt(e.byteOffset(oldBlock), int(loc.PayloadLength))
	if err != nil {
		e.alloc.Free(newBlock, blocks)
		return err
	}
	if err := e.backend.WriteAt(e.byteOffset(newBlock), payload); err != nil {
		e.alloc.Free(newBlock, blocks)
		return err
	}

	newLoc := loc
	newLoc.BlockOffset = newBlock
	e.dir.Insert(key, newLoc)
	e.alloc.Free(oldBlock, blocks)

	return nil
}

// SaveMetadata serializes the directory into the metadata region and syncs it.
func (e *Engine) SaveMetadata() error {
	img := e.dir.Save()
	if uint64(len(img)) > e.sb.MetadataSize {
		return fmt.Errorf("engine: directory image (%d bytes) exceeds metadata region (%d bytes)", len(img), e.sb.MetadataSize)
	}
	if err := e.backend.WriteAt(int64(e.sb.MetadataOffset), img); err != nil {
		return fmt.Errorf("engine: save metadata: %w", err)
	}
	return e.backend.Sync()
}

// LoadMetadata reloads the directory from the metadata region, replacing
// the in-memory directory. Existing allocator state is not affected; callers
// reopening a cache should call LoadMetadata before serving traffic.
func (e *Engine) LoadMetadata() error {
	dir, err := loadDirectory(e.backend, e.sb)
	if err != nil {
		return fmt.Errorf("engine: load metadata: %w", err)
	}
	e.dir = dir
	e.gcMgr = gc.New(dirSource{dir}, e.gcCfg)
	return nil
}

// SetCompressionConfig replaces the active compression policy used by
// subsequent Store calls.
func (e *Engine) SetCompressionConfig(cfg compression.Config) {
	e.compressor.SetConfig(cfg)
}

// SetGCConfig replaces the eviction manager's configuration, rebuilding it
// against the current directory.
func (e *Engine) SetGCConfig(cfg gc.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gcCfg = cfg
	e.gcMgr = gc.New(dirSource{e.dir}, cfg)
}

// SetDefragConfig replaces the defragmentation policy used by subsequent
// Defragment calls.
func (e *Engine) SetDefragConfig(cfg defrag.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defragCfg = cfg
}

// SetVerifyConfig replaces the verification manager's configuration.
// Existing backups are preserved; only policy (thresholds, repair,
// backup bound) changes take effect immediately.
func (e *Engine) SetVerifyConfig(cfg verify.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.verifyMgr.SetConfig(cfg)
}

// Close flushes metadata and releases the backend.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if err := e.SaveMetadata(); err != nil {
		e.logger.Errorf(logging.NSEngine+"failed to save metadata on close: %v", err)
	}
	return e.backend.Close()
}
