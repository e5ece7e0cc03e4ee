package defrag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockvault/rawcache/internal/allocator"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Threshold = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Threshold = 1.5
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.MaxRelocationsPerRun = 0
	assert.Error(t, bad.Validate())
}

func TestMetricZeroWhenUnused(t *testing.T) {
	a := allocator.New(4096, 100)
	assert.Equal(t, float64(0), Metric(a))
}

func TestMetricZeroWithSingleGap(t *testing.T) {
	a := allocator.New(4096, 100)
	_, err := a.Allocate(10)
	require.NoError(t, err)
	// One contiguous free region remains; no fragmentation.
	assert.Equal(t, float64(0), Metric(a))
}

func TestMetricPositiveWithScatteredGaps(t *testing.T) {
	a := allocator.New(4096, 30)
	first, err := a.Allocate(10)
	require.NoError(t, err)
	_, err = a.Allocate(10) // middle block stays allocated
	require.NoError(t, err)
	third, err := a.Allocate(10)
	require.NoError(t, err)

	a.Free(first.BlockOffset, first.BlockCount)
	a.Free(third.BlockOffset, third.BlockCount)

	// Two free gaps of 10 blocks each flank 10 used blocks: total=20,
	// largest=10, used=10 -> (20-10)/10 = 1.0
	assert.InDelta(t, 1.0, Metric(a), 1e-9)
}

func TestPlanRelocatesTowardLowerAddressesOnly(t *testing.T) {
	a := allocator.New(4096, 30)
	// Layout: [0-9 free][10-19 used "x"][20-29 used "y"], then free 0-9.
	first, err := a.Allocate(10)
	require.NoError(t, err)
	x, err := a.Allocate(10)
	require.NoError(t, err)
	y, err := a.Allocate(10)
	require.NoError(t, err)
	a.Free(first.BlockOffset, first.BlockCount)

	candidates := []Candidate{
		{Key: "x", BlockOffset: x.BlockOffset, BlockCount: x.BlockCount},
		{Key: "y", BlockOffset: y.BlockOffset, BlockCount: y.BlockCount},
	}
	plan := Plan(a, candidates, DefaultConfig())

	require.Len(t, plan, 1)
	assert.Equal(t, "x", plan[0].Key)
	assert.Equal(t, x.BlockOffset, plan[0].OldBlock)
	assert.Less(t, plan[0].NewBlock, plan[0].OldBlock)
}

func TestPlanRespectsMaxRelocationsPerRun(t *testing.T) {
	a := allocator.New(4096, 100)
	locs := make([]allocator.Location, 0)
	for i := 0; i < 5; i++ {
		loc, err := a.Allocate(5)
		require.NoError(t, err)
		locs = append(locs, loc)
	}
	// Free the first region to create a gap below the remaining used ones.
	a.Free(locs[0].BlockOffset, locs[0].BlockCount)

	candidates := make([]Candidate, 0)
	for i := 1; i < len(locs); i++ {
		candidates = append(candidates, Candidate{
			Key: string(rune('a' + i)), BlockOffset: locs[i].BlockOffset, BlockCount: locs[i].BlockCount,
		})
	}

	cfg := DefaultConfig()
	cfg.MaxRelocationsPerRun = 1
	plan := Plan(a, candidates, cfg)
	assert.LessOrEqual(t, len(plan), 1)
}

func TestPlanSkipsWhenNoSuitableGap(t *testing.T) {
	a := allocator.New(4096, 10)
	loc, err := a.Allocate(10)
	require.NoError(t, err)

	candidates := []Candidate{{Key: "only", BlockOffset: loc.BlockOffset, BlockCount: loc.BlockCount}}
	plan := Plan(a, candidates, DefaultConfig())
	assert.Empty(t, plan)
}

func TestRunnerExecuteStopsOnError(t *testing.T) {
	plan := []Relocation{
		{Key: "a", OldBlock: 0, NewBlock: 1, Blocks: 1},
		{Key: "b", OldBlock: 2, NewBlock: 3, Blocks: 1},
	}

	calls := 0
	runner := Runner{Move: func(ctx context.Context, key string, oldBlock, newBlock, blocks uint64) error {
		calls++
		if key == "b" {
			return assert.AnError
		}
		return nil
	}}

	completed, err := runner.Execute(context.Background(), plan)
	assert.Error(t, err)
	assert.Equal(t, 1, completed)
	assert.Equal(t, 2, calls)
}

func TestRunnerExecuteAllSucceed(t *testing.T) {
	plan := []Relocation{
		{Key: "a", OldBlock: 0, NewBlock: 1, Blocks: 1},
		{Key: "b", OldBlock: 2, NewBlock: 3, Blocks: 1},
	}

	runner := Runner{Move: func(ctx context.Context, key string, oldBlock, newBlock, blocks uint64) error {
		return nil
	}}

	completed, err := runner.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 2, completed)
}
