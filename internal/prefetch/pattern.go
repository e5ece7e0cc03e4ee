// Package prefetch implements access-pattern detection (sequential,
// temporal, random) and the prefetch cache that stores speculatively-loaded
// entries ahead of a caller's request.
package prefetch

import (
	"container/list"
	"sync"
	"time"
)

// Pattern classifies the recent access stream.
type Pattern uint8

const (
	// PatternRandom means no clear pattern was detected.
	PatternRandom Pattern = iota
	// PatternSequential means keys are being accessed in ascending
	// block-offset order.
	PatternSequential
	// PatternTemporal means the same small set of keys is being accessed
	// repeatedly.
	PatternTemporal
)

func (p Pattern) String() string {
	switch p {
	case PatternSequential:
		return "sequential"
	case PatternTemporal:
		return "temporal"
	default:
		return "random"
	}
}

// Config configures pattern detection and prefetching.
type Config struct {
	Enabled bool

	// MaxPrefetchEntries bounds how many keys are prefetched per detected
	// pattern.
	MaxPrefetchEntries int
	// CacheSize is the prefetch cache's entry capacity.
	CacheSize int
	// WindowSize is how many recent accesses feed pattern detection.
	WindowSize int

	// SequentialThreshold and TemporalThreshold are score thresholds
	// (0..1) a pattern must meet to be declared.
	SequentialThreshold float64
	TemporalThreshold   float64

	// SequentialGap bounds how far offsets may jump and still count as
	// part of a sequential run.
	SequentialGap uint64
}

// DefaultConfig returns the prefetch subsystem's default configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		MaxPrefetchEntries:  4,
		CacheSize:           100,
		WindowSize:          20,
		SequentialThreshold: 0.7,
		TemporalThreshold:   0.5,
		SequentialGap:       10 * 1024 * 1024,
	}
}

// accessRecord is one entry in the detector's bounded history.
type accessRecord struct {
	key    string
	offset uint64
	at     time.Time
}

// Detector observes a stream of accesses and classifies the current pattern.
type Detector struct {
	mu      sync.Mutex
	cfg     Config
	history []accessRecord
}

// NewDetector creates a pattern detector with the given configuration.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg, history: make([]accessRecord, 0, cfg.WindowSize)}
}

// Record appends an access to the detector's history, evicting the oldest
// entry once the configured window is exceeded.
func (d *Detector) Record(key string, offset uint64, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.history = append(d.history, accessRecord{key: key, offset: offset, at: at})
	if len(d.history) > d.cfg.WindowSize {
		d.history = d.history[len(d.history)-d.cfg.WindowSize:]
	}
}

// Detect classifies the current access pattern from recorded history.
func (d *Detector) Detect() Pattern {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detectLocked()
}

func (d *Detector) detectLocked() Pattern {
	if len(d.history) < 3 {
		return PatternRandom
	}

	seq := d.sequentialScore()
	temporal := d.temporalScore()

	switch {
	case seq >= d.cfg.SequentialThreshold:
		return PatternSequential
	case temporal >= d.cfg.TemporalThreshold:
		return PatternTemporal
	default:
		return PatternRandom
	}
}

func (d *Detector) sequentialScore() float64 {
	if len(d.history) < 2 {
		return 0
	}

	var ascending, pairs int
	for i := 1; i < len(d.history); i++ {
		prev, curr := d.history[i-1], d.history[i]
		pairs++
		if curr.offset > prev.offset && curr.offset-prev.offset < d.cfg.SequentialGap {
			ascending++
		}
	}
	if pairs == 0 {
		return 0
	}
	return float64(ascending) / float64(pairs)
}

func (d *Detector) temporalScore() float64 {
	if len(d.history) == 0 {
		return 0
	}

	counts := make(map[string]int, len(d.history))
	for _, r := range d.history {
		counts[r.key]++
	}

	repeats := len(d.history) - len(counts)
	return float64(repeats) / float64(len(d.history))
}

// PredictNext returns the keys to speculatively load next, given the
// current key and (for sequential prediction) the full ordered key space.
// orderedKeys may be nil if the caller cannot supply key ordering; sequential
// prediction then yields no candidates.
func (d *Detector) PredictNext(currentKey string, orderedKeys []string) []string {
	d.mu.Lock()
	pattern := d.detectLocked()
	history := append([]accessRecord(nil), d.history...)
	d.mu.Unlock()

	switch pattern {
	case PatternSequential:
		return predictSequential(currentKey, orderedKeys, d.cfg.MaxPrefetchEntries)
	case PatternTemporal:
		return predictTemporal(history, d.cfg.MaxPrefetchEntries)
	default:
		return nil
	}
}

func predictSequential(currentKey string, orderedKeys []string, max int) []string {
	pos := -1
	for i, k := range orderedKeys {
		if k == currentKey {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil
	}

	end := pos + 1 + max
	if end > len(orderedKeys) {
		end = len(orderedKeys)
	}
	if pos+1 >= end {
		return nil
	}
	out := make([]string, end-pos-1)
	copy(out, orderedKeys[pos+1:end])
	return out
}

func predictTemporal(history []accessRecord, max int) []string {
	counts := make(map[string]int, len(history))
	for _, r := range history {
		counts[r.key]++
	}

	type scored struct {
		key string
		n   int
	}
	scoredKeys := make([]scored, 0, len(counts))
	for k, n := range counts {
		scoredKeys = append(scoredKeys, scored{key: k, n: n})
	}
	for i := 1; i < len(scoredKeys); i++ {
		for j := i; j > 0 && scoredKeys[j].n > scoredKeys[j-1].n; j-- {
			scoredKeys[j], scoredKeys[j-1] = scoredKeys[j-1], scoredKeys[j]
		}
	}

	if max > len(scoredKeys) {
		max = len(scoredKeys)
	}
	out := make([]string, max)
	for i := 0; i < max; i++ {
		out[i] = scoredKeys[i].key
	}
	return out
}

// Cache holds speculatively-prefetched payloads, evicted in LRU order once
// it reaches capacity.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	table   map[string]*list.Element
	lru     *list.List
	hits    uint64
	misses  uint64
}

type cacheEntry struct {
	key  string
	data []byte
}

// NewCache creates a prefetch cache holding up to maxSize entries.
func NewCache(maxSize int) *Cache {
	return &Cache{
		maxSize: maxSize,
		table:   make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// Insert stores prefetched payload data for key, evicting the least
// recently used entry if the cache is full.
func (c *Cache) Insert(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.table[key]; ok {
		elem.Value.(*cacheEntry).data = data
		c.lru.MoveToFront(elem)
		return
	}

	for len(c.table) >= c.maxSize && c.lru.Len() > 0 {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.table, oldest.Value.(*cacheEntry).key)
	}

	elem := c.lru.PushFront(&cacheEntry{key: key, data: data})
	c.table[key] = elem
}

// Take removes and returns a prefetched payload for key, if present. A
// successful prefetch hit consumes the entry: once the caller's real
// request is satisfied from it, it is gone.
func (c *Cache) Take(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.table[key]
	if !ok {
		c.misses++
		return nil, false
	}

	c.hits++
	c.lru.Remove(elem)
	delete(c.table, key)
	return elem.Value.(*cacheEntry).data, true
}

// Len returns the number of entries currently held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.table)
}

// HitRate returns Hits / (Hits + Misses), or 0 if Take has never been called.
func (c *Cache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}
