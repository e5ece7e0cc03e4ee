package gc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	victims     []string
	fifoVictims []string
	accesses    map[string]uint64
}

func (f *fakeSource) LRUVictims(n int) []string {
	if n > len(f.victims) {
		n = len(f.victims)
	}
	return append([]string(nil), f.victims[:n]...)
}

func (f *fakeSource) FIFOVictims(n int) []string {
	if n > len(f.fifoVictims) {
		n = len(f.fifoVictims)
	}
	return append([]string(nil), f.fifoVictims[:n]...)
}

func (f *fakeSource) Accesses(key string) uint64 { return f.accesses[key] }

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.BatchSize = 0
	assert.ErrorIs(t, bad.Validate(), errBatchSize)

	bad = cfg
	bad.LowWatermark = 0.05
	bad.HighWatermark = 0.10
	assert.ErrorIs(t, bad.Validate(), errWatermarks)

	bad = cfg
	bad.AdaptiveThreshold = true
	bad.MaxBatchSize = 1
	bad.BatchSize = 64
	assert.ErrorIs(t, bad.Validate(), errMaxBatch)
}

func TestAdaptiveBatchWidensAndNarrows(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 64
	cfg.MaxBatchSize = 1024
	cfg.AdaptiveThreshold = true

	m := New(&fakeSource{}, cfg)
	assert.Equal(t, 64, m.BatchSize())

	m.NoteAllocationFailure()
	assert.Equal(t, 128, m.BatchSize())

	m.NoteAllocationFailure()
	assert.Equal(t, 256, m.BatchSize())

	m.NoteAllocationSuccess()
	assert.Less(t, m.BatchSize(), 256)
	assert.GreaterOrEqual(t, m.BatchSize(), 64)
}

func TestAdaptiveBatchCapsAtMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 900
	cfg.MaxBatchSize = 1000
	m := New(&fakeSource{}, cfg)

	m.NoteAllocationFailure()
	assert.Equal(t, 1000, m.BatchSize())
}

func TestAdaptiveDisabledIgnoresPressure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AdaptiveThreshold = false
	m := New(&fakeSource{}, cfg)

	m.NoteAllocationFailure()
	assert.Equal(t, cfg.BatchSize, m.BatchSize())
}

func TestShouldRunAndStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HighWatermark = 0.10
	cfg.LowWatermark = 0.20
	m := New(&fakeSource{}, cfg)

	assert.True(t, m.ShouldRun(0.05))
	assert.False(t, m.ShouldRun(0.50))

	assert.True(t, m.ShouldStop(0.25))
	assert.False(t, m.ShouldStop(0.15))
}

func TestRunLRUEvictsInOrder(t *testing.T) {
	src := &fakeSource{victims: []string{"a", "b", "c", "d"}}
	cfg := DefaultConfig()
	cfg.Strategy = LRU
	cfg.BatchSize = 2
	cfg.AdaptiveThreshold = false
	m := New(src, cfg)

	var evicted []string
	stats := m.Run(func(key string) uint64 {
		evicted = append(evicted, key)
		return 3
	})

	assert.Equal(t, []string{"a", "b"}, evicted)
	assert.Equal(t, uint64(1), stats.Runs)
	assert.Equal(t, uint64(2), stats.EntriesEvicted)
	assert.Equal(t, uint64(6), stats.BlocksFreed)
}

func TestRunLFUPrefersLeastFrequent(t *testing.T) {
	src := &fakeSource{
		victims:  []string{"a", "b", "c"},
		accesses: map[string]uint64{"a": 10, "b": 1, "c": 5},
	}
	cfg := DefaultConfig()
	cfg.Strategy = LFU
	cfg.BatchSize = 1
	cfg.AdaptiveThreshold = false
	m := New(src, cfg)

	var evicted []string
	m.Run(func(key string) uint64 {
		evicted = append(evicted, key)
		return 1
	})

	assert.Equal(t, []string{"b"}, evicted)
}

func TestRunFIFOEvictsInInsertionOrderNotRecency(t *testing.T) {
	src := &fakeSource{
		// LRUVictims would put "a" last (most recently touched); FIFOVictims
		// must still offer it first since it arrived first.
		victims:     []string{"c", "b", "a"},
		fifoVictims: []string{"a", "b", "c"},
	}
	cfg := DefaultConfig()
	cfg.Strategy = FIFO
	cfg.BatchSize = 2
	cfg.AdaptiveThreshold = false
	m := New(src, cfg)

	var evicted []string
	m.Run(func(key string) uint64 {
		evicted = append(evicted, key)
		return 1
	})

	assert.Equal(t, []string{"a", "b"}, evicted)
}

func TestRunSkipsZeroFreedWithoutCountingEvicted(t *testing.T) {
	src := &fakeSource{victims: []string{"gone"}}
	cfg := DefaultConfig()
	cfg.BatchSize = 1
	cfg.AdaptiveThreshold = false
	m := New(src, cfg)

	stats := m.Run(func(key string) uint64 { return 0 })
	assert.Equal(t, uint64(0), stats.EntriesEvicted)
	assert.Equal(t, uint64(1), stats.Runs)
}

func TestStrategyString(t *testing.T) {
	assert.Equal(t, "lru", LRU.String())
	assert.Equal(t, "lfu", LFU.String())
	assert.Equal(t, "fifo", FIFO.String())
	assert.Equal(t, "unknown", Strategy(99).String())
}
