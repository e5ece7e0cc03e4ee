package allocator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateFirstFit(t *testing.T) {
	a := New(4096, 100)

	loc, err := a.Allocate(10)
	require.NoError(t, err)
	assert.Equal(t, Location{BlockOffset: 0, BlockCount: 10}, loc)
	assert.Equal(t, uint64(10), a.UsedBlocks())
	assert.Equal(t, uint64(90), a.FreeBlocks())

	loc2, err := a.Allocate(20)
	require.NoError(t, err)
	assert.Equal(t, Location{BlockOffset: 10, BlockCount: 20}, loc2)
}

func TestAllocateExhaustion(t *testing.T) {
	a := New(4096, 10)

	_, err := a.Allocate(10)
	require.NoError(t, err)

	_, err = a.Allocate(1)
	require.ErrorIs(t, err, ErrNoSpace)
}

func TestAllocateZeroBlocksErrors(t *testing.T) {
	a := New(4096, 10)
	_, err := a.Allocate(0)
	require.Error(t, err)
}

func TestFreeCoalescesAdjacentRegions(t *testing.T) {
	a := New(4096, 30)

	first, err := a.Allocate(10)
	require.NoError(t, err)
	second, err := a.Allocate(10)
	require.NoError(t, err)
	third, err := a.Allocate(10)
	require.NoError(t, err)

	a.Free(second.BlockOffset, second.BlockCount)
	a.Free(first.BlockOffset, first.BlockCount)
	a.Free(third.BlockOffset, third.BlockCount)

	regions := a.FreeRegions()
	require.Len(t, regions, 1)
	assert.Equal(t, Location{BlockOffset: 0, BlockCount: 30}, regions[0])
	assert.Equal(t, uint64(0), a.UsedBlocks())
}

func TestFreeCoalescesOutOfOrder(t *testing.T) {
	a := New(4096, 3)

	// Allocate all three single blocks, then free them out of address order.
	locs := make([]Location, 3)
	for i := range locs {
		loc, err := a.Allocate(1)
		require.NoError(t, err)
		locs[i] = loc
	}

	a.Free(locs[2].BlockOffset, 1)
	a.Free(locs[0].BlockOffset, 1)
	a.Free(locs[1].BlockOffset, 1)

	regions := a.FreeRegions()
	require.Len(t, regions, 1)
	assert.Equal(t, uint64(3), regions[0].BlockCount)
}

func TestFreeRatio(t *testing.T) {
	a := New(4096, 4)
	assert.Equal(t, float64(1), a.FreeRatio())

	_, err := a.Allocate(2)
	require.NoError(t, err)
	assert.Equal(t, float64(0.5), a.FreeRatio())
}

func TestFreeRatioZeroBlocks(t *testing.T) {
	a := New(4096, 0)
	assert.Equal(t, float64(1), a.FreeRatio())
}

func TestReserveExactRegionRemovesItEntirely(t *testing.T) {
	a := New(4096, 10)
	require.NoError(t, a.Reserve(0, 10))
	assert.Empty(t, a.FreeRegions())
	assert.Equal(t, uint64(10), a.UsedBlocks())
}

func TestReserveSplitsHeadOfRegion(t *testing.T) {
	a := New(4096, 10)
	require.NoError(t, a.Reserve(0, 4))

	regions := a.FreeRegions()
	require.Len(t, regions, 1)
	assert.Equal(t, Location{BlockOffset: 4, BlockCount: 6}, regions[0])
}

func TestReserveSplitsTailOfRegion(t *testing.T) {
	a := New(4096, 10)
	require.NoError(t, a.Reserve(6, 4))

	regions := a.FreeRegions()
	require.Len(t, regions, 1)
	assert.Equal(t, Location{BlockOffset: 0, BlockCount: 6}, regions[0])
}

func TestReserveSplitsMiddleOfRegion(t *testing.T) {
	a := New(4096, 10)
	require.NoError(t, a.Reserve(4, 2))

	regions := a.FreeRegions()
	require.Len(t, regions, 2)
	assert.Equal(t, Location{BlockOffset: 0, BlockCount: 4}, regions[0])
	assert.Equal(t, Location{BlockOffset: 6, BlockCount: 4}, regions[1])
}

func TestReserveRejectsRangeNotEntirelyFree(t *testing.T) {
	a := New(4096, 10)
	_, err := a.Allocate(5) // claims [0,5)
	require.NoError(t, err)

	err = a.Reserve(3, 4) // overlaps the allocated region
	assert.ErrorIs(t, err, ErrNotFree)
}

func TestReserveThenAllocateDoesNotDoubleClaim(t *testing.T) {
	a := New(4096, 10)
	require.NoError(t, a.Reserve(2, 3))

	// The only remaining free space is [0,2) and [5,10); a 3-block request
	// must not succeed by silently reusing the reserved range.
	loc, err := a.Allocate(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), loc.BlockOffset)
}

func TestAllocateSplitsRegion(t *testing.T) {
	a := New(4096, 16)

	loc, err := a.Allocate(4)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), loc.BlockOffset)

	regions := a.FreeRegions()
	require.Len(t, regions, 1)
	assert.Equal(t, Location{BlockOffset: 4, BlockCount: 12}, regions[0])
}
