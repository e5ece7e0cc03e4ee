package cachelru

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAndLookup(t *testing.T) {
	c := NewLRUCache(1024)
	h := c.Insert("a", []byte("hello"), 5)
	require.NotNil(t, h)
	c.Release(h)

	got := c.Lookup("a")
	require.NotNil(t, got)
	assert.Equal(t, []byte("hello"), got.Value())
	c.Release(got)

	assert.Equal(t, uint64(1), c.GetHitCount())
}

func TestLookupMissIncrementsMisses(t *testing.T) {
	c := NewLRUCache(1024)
	got := c.Lookup("missing")
	assert.Nil(t, got)
	assert.Equal(t, uint64(1), c.GetMissCount())
}

func TestPinnedEntryIsNotEvicted(t *testing.T) {
	c := NewLRUCache(10)

	c.Insert("a", []byte("12345"), 5)
	// "a" stays pinned (never released) — must survive even though
	// inserting "b" and "c" would otherwise need to evict it.
	c.Release(c.Insert("b", []byte("12345"), 5))
	c.Release(c.Insert("c", []byte("1"), 1))

	got := c.Lookup("a")
	assert.NotNil(t, got)
	c.Release(got)
}

func TestReleasedEntryIsEvictableUnderPressure(t *testing.T) {
	c := NewLRUCache(10)

	c.Release(c.Insert("a", []byte("12345"), 5))
	c.Release(c.Insert("b", []byte("12345"), 5))
	// Cache is now full (usage=10). Inserting "c" must evict "a" (LRU, unpinned).
	c.Release(c.Insert("c", []byte("12345"), 5))

	assert.Nil(t, c.Lookup("a"))
	assert.Equal(t, uint64(2), c.GetOccupancyCount())
}

func TestEraseRemovesUnpinnedEntryImmediately(t *testing.T) {
	c := NewLRUCache(1024)
	c.Release(c.Insert("a", []byte("x"), 1))

	c.Erase("a")
	assert.Nil(t, c.Lookup("a"))
}

func TestErasePinnedEntryDefersRemoval(t *testing.T) {
	c := NewLRUCache(1024)
	h := c.Insert("a", []byte("x"), 1) // held, refs=1

	c.Erase("a")
	// Still pinned: occupancy shows the entry until released.
	assert.Equal(t, uint64(1), c.GetOccupancyCount())

	c.Release(h)
	assert.Equal(t, uint64(0), c.GetOccupancyCount())
}

func TestSetCapacityEvictsDownToNewLimit(t *testing.T) {
	c := NewLRUCache(100)
	c.Release(c.Insert("a", []byte("12345"), 50))
	c.Release(c.Insert("b", []byte("12345"), 50))

	c.SetCapacity(50)
	assert.LessOrEqual(t, c.GetUsage(), uint64(50))
}

func TestGetPinnedUsage(t *testing.T) {
	c := NewLRUCache(1024)
	h := c.Insert("a", []byte("12345"), 5)
	c.Release(c.Insert("b", []byte("12345"), 5))

	assert.Equal(t, uint64(5), c.GetPinnedUsage())
	c.Release(h)
	assert.Equal(t, uint64(0), c.GetPinnedUsage())
}

func TestCloseResetsState(t *testing.T) {
	c := NewLRUCache(1024)
	c.Release(c.Insert("a", []byte("x"), 1))
	c.Close()

	assert.Equal(t, uint64(0), c.GetOccupancyCount())
	assert.Equal(t, uint64(0), c.GetUsage())
}

func TestShardedCacheDistributesAcrossShards(t *testing.T) {
	c := NewShardedLRUCache(1024, 4)
	for i := 0; i < 20; i++ {
		key := CacheKey(rune('a' + i))
		c.Release(c.Insert(key, []byte("v"), 1))
	}
	assert.Equal(t, uint64(20), c.GetOccupancyCount())
}

func TestShardedCacheLookupRoundTrip(t *testing.T) {
	c := NewShardedLRUCache(1024, 8)
	c.Release(c.Insert("key", []byte("value"), 5))

	h := c.Lookup("key")
	require.NotNil(t, h)
	assert.Equal(t, []byte("value"), h.Value())
	c.Release(h)
}

func TestNextPowerOf2(t *testing.T) {
	assert.Equal(t, 1, nextPowerOf2(1))
	assert.Equal(t, 4, nextPowerOf2(3))
	assert.Equal(t, 16, nextPowerOf2(16))
	assert.Equal(t, 32, nextPowerOf2(17))
}
