// Package tiered fronts a rawcache.Handle with a bounded in-memory L1
// cache, keyed by the proxy's request-level cache key (typically
// url:slice:start:end). Stores always write through to L2; lookups consult
// L1 first and promote on an L2 hit.
package tiered

import (
	"context"
	"sync"

	"github.com/blockvault/rawcache"
	"github.com/blockvault/rawcache/internal/cachelru"
)

// Config configures the L1 façade.
type Config struct {
	// MaxBytes bounds L1's total charged bytes. 0 means unbounded by bytes.
	MaxBytes uint64
	// MaxEntries is not applied: New builds L1 with a byte budget only, so
	// MaxBytes is the sole bound on L1.
	MaxEntries int
}

// DefaultConfig returns the tiered façade's default configuration: a 64 MiB
// L1 budget.
func DefaultConfig() Config {
	return Config{MaxBytes: 64 << 20}
}

// Cache is the L1/L2 tiered façade.
type Cache struct {
	l2  *rawcache.Handle
	l1  *cachelru.LRUCache
	cfg Config

	mu         sync.Mutex
	promotions uint64
	l1Hits     uint64
	l1Misses   uint64
}

// New wraps l2 with a bounded in-memory L1 cache.
func New(l2 *rawcache.Handle, cfg Config) *Cache {
	budget := cfg.MaxBytes
	if budget == 0 {
		budget = 1 << 62 // effectively unbounded by bytes
	}
	return &Cache{
		l2:  l2,
		l1:  cachelru.NewLRUCache(budget),
		cfg: cfg,
	}
}

// Store writes through to L2 and, if the payload fits within L1's budget,
// also inserts it into L1.
func (c *Cache) Store(key string, value []byte) error {
	if err := c.l2.Store(key, value); err != nil {
		return err
	}

	if c.cfg.MaxBytes == 0 || uint64(len(value)) <= c.l1.GetCapacity() {
		// Insert returns a pinned handle; release it immediately since
		// tiered does not hold long-lived references, only the LRU cache's
		// own table does.
		c.l1.Release(c.l1.Insert(cachelru.CacheKey(key), value, uint64(len(value))))
	}
	return nil
}

// Lookup consults L1 first; on an L1 miss it asks L2 and, on an L2 hit,
// promotes the payload into L1.
func (c *Cache) Lookup(ctx context.Context, key string) ([]byte, error) {
	if h := c.l1.Lookup(cachelru.CacheKey(key)); h != nil {
		defer c.l1.Release(h)
		c.mu.Lock()
		c.l1Hits++
		c.mu.Unlock()
		return h.Value(), nil
	}

	c.mu.Lock()
	c.l1Misses++
	c.mu.Unlock()

	data, err := c.l2.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}

	if c.cfg.MaxBytes == 0 || uint64(len(data)) <= c.l1.GetCapacity() {
		c.l1.Release(c.l1.Insert(cachelru.CacheKey(key), data, uint64(len(data))))
		c.mu.Lock()
		c.promotions++
		c.mu.Unlock()
	}

	return data, nil
}

// Purge deletes key from both L1 and L2.
func (c *Cache) Purge(key string) error {
	c.l1.Erase(cachelru.CacheKey(key))
	return c.l2.Remove(key)
}

// Stats reports L1/L2 combined statistics.
type Stats struct {
	L2 rawcache.Stats

	L1Entries    uint64
	L1Hits       uint64
	L1Misses     uint64
	L1HitRate    float64
	L1Promotions uint64
}

// Stats returns a snapshot of the façade's combined counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	hits, misses, promos := c.l1Hits, c.l1Misses, c.promotions
	c.mu.Unlock()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		L2:           c.l2.Stats(),
		L1Entries:    c.l1.GetOccupancyCount(),
		L1Hits:       hits,
		L1Misses:     misses,
		L1HitRate:    hitRate,
		L1Promotions: promos,
	}
}

// Close flushes L2's metadata and releases its backing file. L1 is
// in-memory only and is simply discarded.
func (c *Cache) Close() error {
	c.l1.Close()
	return c.l2.Close()
}
