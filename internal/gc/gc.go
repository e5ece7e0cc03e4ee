// Package gc implements the cache's eviction manager: pluggable victim
// selection strategies (LRU, LFU, FIFO) and the adaptive threshold tuning
// that widens or narrows how aggressively eviction runs in response to
// allocation pressure.
package gc

import (
	"sync"
	"sync/atomic"
)

// Strategy selects which keys to evict when the cache is under pressure.
type Strategy uint8

const (
	// LRU evicts the least recently used entries first.
	LRU Strategy = iota
	// LFU evicts the least frequently used entries first.
	LFU
	// FIFO evicts the oldest-inserted entries first, ignoring access pattern.
	FIFO
)

func (s Strategy) String() string {
	switch s {
	case LRU:
		return "lru"
	case LFU:
		return "lfu"
	case FIFO:
		return "fifo"
	default:
		return "unknown"
	}
}

// Source is the subset of directory operations the eviction manager needs.
// Implemented by *directory.Directory; kept as an interface so gc does not
// import directory and tests can supply a fake.
type Source interface {
	LRUVictims(n int) []string
	FIFOVictims(n int) []string
	Accesses(key string) uint64
}

// Config configures the eviction manager.
type Config struct {
	Strategy Strategy

	// BatchSize is the number of candidate keys considered per eviction run.
	BatchSize int

	// LowWatermark and HighWatermark are free-block ratios (0..1). Eviction
	// runs start once the free-block ratio drops below HighWatermark and stop
	// once it rises back to LowWatermark or above.
	LowWatermark  float64
	HighWatermark float64

	// AdaptiveThreshold enables widening BatchSize when recent allocation
	// attempts have been failing, and narrowing it back down once
	// allocation pressure subsides.
	AdaptiveThreshold bool
	MaxBatchSize      int
}

// DefaultConfig returns the eviction manager's default configuration.
func DefaultConfig() Config {
	return Config{
		Strategy:          LRU,
		BatchSize:         64,
		LowWatermark:      0.20,
		HighWatermark:     0.10,
		AdaptiveThreshold: true,
		MaxBatchSize:      1024,
	}
}

// Validate checks the configuration's invariants.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return errBatchSize
	}
	if c.LowWatermark <= c.HighWatermark {
		return errWatermarks
	}
	if c.AdaptiveThreshold && c.MaxBatchSize < c.BatchSize {
		return errMaxBatch
	}
	return nil
}

// Stats reports cumulative eviction activity.
type Stats struct {
	Runs           uint64
	EntriesEvicted uint64
	BlocksFreed    uint64
	FailedAttempts uint64
}

// Manager runs eviction passes against a Source using the configured
// strategy, adaptively tuning its batch size with allocation pressure.
type Manager struct {
	mu     sync.Mutex
	cfg    Config
	batch  int
	source Source

	runs           atomic.Uint64
	entriesEvicted atomic.Uint64
	blocksFreed    atomic.Uint64
	failedAllocs   atomic.Uint64
}

// New creates an eviction manager over source with the given configuration.
func New(source Source, cfg Config) *Manager {
	return &Manager{cfg: cfg, batch: cfg.BatchSize, source: source}
}

// NoteAllocationFailure records that a block allocation failed to find
// space, feeding the adaptive threshold tuner.
func (m *Manager) NoteAllocationFailure() {
	m.failedAllocs.Add(1)
	if !m.cfg.AdaptiveThreshold {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batch < m.cfg.MaxBatchSize {
		m.batch *= 2
		if m.batch > m.cfg.MaxBatchSize {
			m.batch = m.cfg.MaxBatchSize
		}
	}
}

// NoteAllocationSuccess narrows the batch size back toward its configured
// baseline once allocation pressure eases.
func (m *Manager) NoteAllocationSuccess() {
	if !m.cfg.AdaptiveThreshold {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batch > m.cfg.BatchSize {
		m.batch -= (m.batch - m.cfg.BatchSize + 1) / 2
	}
}

// BatchSize returns the eviction manager's current (possibly adapted)
// batch size.
func (m *Manager) BatchSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batch
}

// ShouldRun reports whether eviction should start given the current free
// block ratio.
func (m *Manager) ShouldRun(freeRatio float64) bool {
	return freeRatio < m.cfg.HighWatermark
}

// ShouldStop reports whether a running eviction pass should stop given the
// current free block ratio.
func (m *Manager) ShouldStop(freeRatio float64) bool {
	return freeRatio >= m.cfg.LowWatermark
}

// Run selects up to the current batch size of victims per the configured
// strategy and removes them via evict, accumulating freed blocks into the
// manager's statistics. evict is called once per selected key and must
// return the number of blocks freed (0 if the key was already gone).
func (m *Manager) Run(evict func(key string) (blocksFreed uint64)) Stats {
	batch := m.BatchSize()

	var victims []string
	switch m.cfg.Strategy {
	case LFU:
		candidates := m.source.LRUVictims(batch * 4) // oversample for re-ranking
		victims = rankByFrequency(m.source, candidates, batch)
	case FIFO:
		victims = m.source.FIFOVictims(batch)
	case LRU:
		fallthrough
	default:
		victims = m.source.LRUVictims(batch)
	}

	var evicted, freed uint64
	for _, key := range victims {
		n := evict(key)
		if n > 0 {
			evicted++
			freed += n
		}
	}

	m.runs.Add(1)
	m.entriesEvicted.Add(evicted)
	m.blocksFreed.Add(freed)

	return m.Stats()
}

// Stats returns a snapshot of cumulative eviction statistics.
func (m *Manager) Stats() Stats {
	return Stats{
		Runs:           m.runs.Load(),
		EntriesEvicted: m.entriesEvicted.Load(),
		BlocksFreed:    m.blocksFreed.Load(),
		FailedAttempts: m.failedAllocs.Load(),
	}
}

// rankByFrequency reorders candidates ascending by access count (least
// frequently used first) and returns the first n.
func rankByFrequency(src Source, candidates []string, n int) []string {
	type scored struct {
		key string
		n   uint64
	}
	scoredKeys := make([]scored, len(candidates))
	for i, k := range candidates {
		scoredKeys[i] = scored{key: k, n: src.Accesses(k)}
	}

	// Simple insertion sort: candidate lists are small (a few hundred at most).
	for i := 1; i < len(scoredKeys); i++ {
		for j := i; j > 0 && scoredKeys[j].n < scoredKeys[j-1].n; j-- {
			scoredKeys[j], scoredKeys[j-1] = scoredKeys[j-1], scoredKeys[j]
		}
	}

	if n > len(scoredKeys) {
		n = len(scoredKeys)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = scoredKeys[i].key
	}
	return out
}
