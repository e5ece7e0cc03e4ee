// Package allocator implements the cache's block allocator: a sorted,
// coalescing free list over the data region, handing out contiguous runs of
// fixed-size blocks.
package allocator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNoSpace is returned when no free region is large enough to satisfy a request.
var ErrNoSpace = errors.New("allocator: no space")

// ErrNotFree is returned by Reserve when the requested [offset, offset+count)
// range is not entirely contained within a single free region.
var ErrNotFree = errors.New("allocator: requested range is not free")

// Location is a contiguous allocated region, expressed in blocks.
type Location struct {
	// BlockOffset is the starting block index within the data region.
	BlockOffset uint64
	// BlockCount is the number of contiguous blocks allocated.
	BlockCount uint64
}

// region is a free span of blocks.
type region struct {
	offset uint64
	count  uint64
}

// Allocator hands out contiguous block runs from the data region and tracks
// free space. It is safe for concurrent use.
type Allocator struct {
	mu          sync.RWMutex
	blockSize   uint32
	totalBlocks uint64
	usedBlocks  uint64
	free        []region // sorted by offset, pairwise disjoint
}

// New creates an allocator over a data region of totalBlocks blocks, all
// initially free.
func New(blockSize uint32, totalBlocks uint64) *Allocator {
	a := &Allocator{blockSize: blockSize, totalBlocks: totalBlocks}
	if totalBlocks > 0 {
		a.free = []region{{offset: 0, count: totalBlocks}}
	}
	return a
}

// BlockSize returns the allocation granularity in bytes.
func (a *Allocator) BlockSize() uint32 { return a.blockSize }

// TotalBlocks returns the total number of blocks in the data region.
func (a *Allocator) TotalBlocks() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.totalBlocks
}

// UsedBlocks returns the number of currently allocated blocks.
func (a *Allocator) UsedBlocks() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.usedBlocks
}

// FreeBlocks returns the number of currently free blocks.
func (a *Allocator) FreeBlocks() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.totalBlocks - a.usedBlocks
}

// FreeRatio returns FreeBlocks / TotalBlocks, or 1 if there are no blocks at all.
func (a *Allocator) FreeRatio() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.totalBlocks == 0 {
		return 1
	}
	return float64(a.totalBlocks-a.usedBlocks) / float64(a.totalBlocks)
}

// Allocate reserves the first free region with at least blockCount blocks
// (first-fit), shrinking or removing it from the free list.
func (a *Allocator) Allocate(blockCount uint64) (Location, error) {
	if blockCount == 0 {
		return Location{}, fmt.Errorf("allocator: zero-block allocation requested")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for i, r := range a.free {
		if r.count < blockCount {
			continue
		}
		loc := Location{BlockOffset: r.offset, BlockCount: blockCount}

		if r.count == blockCount {
			a.free = append(a.free[:i], a.free[i+1:]...)
		} else {
			a.free[i] = region{offset: r.offset + blockCount, count: r.count - blockCount}
		}

		a.usedBlocks += blockCount
		return loc, nil
	}

	return Location{}, ErrNoSpace
}

// Reserve removes the exact [offset, offset+blockCount) range from the free
// list, splitting the containing free region as needed. Used by
// defragmentation to claim a specific relocation target chosen by the
// planner before the moved payload is written there — without this, the
// destination gap would remain marked free even after data lands in it.
func (a *Allocator) Reserve(offset, blockCount uint64) error {
	if blockCount == 0 {
		return fmt.Errorf("allocator: zero-block reservation requested")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	end := offset + blockCount

	for i, r := range a.free {
		if offset < r.offset || end > r.offset+r.count {
			continue
		}

		switch {
		case r.offset == offset && r.count == blockCount:
			a.free = append(a.free[:i], a.free[i+1:]...)
		case r.offset == offset:
			a.free[i] = region{offset: end, count: r.offset + r.count - end}
		case end == r.offset+r.count:
			a.free[i] = region{offset: r.offset, count: offset - r.offset}
		default:
			head := region{offset: r.offset, count: offset - r.offset}
			tail := region{offset: end, count: r.offset + r.count - end}
			a.free[i] = head
			a.free = append(a.free, region{})
			copy(a.free[i+2:], a.free[i+1:])
			a.free[i+1] = tail
		}

		a.usedBlocks += blockCount
		return nil
	}

	return ErrNotFree
}

// Free returns a region to the free list, coalescing with immediately
// adjacent free regions on either side.
func (a *Allocator) Free(offset, blockCount uint64) {
	if blockCount == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	idx := sort.Search(len(a.free), func(i int) bool { return a.free[i].offset >= offset })

	newRegion := region{offset: offset, count: blockCount}

	// Merge with the preceding region if adjacent.
	if idx > 0 {
		prev := a.free[idx-1]
		if prev.offset+prev.count == newRegion.offset {
			newRegion.offset = prev.offset
			newRegion.count += prev.count
			idx--
			a.free = append(a.free[:idx], a.free[idx+1:]...)
		}
	}

	// Merge with the following region if adjacent.
	if idx < len(a.free) {
		next := a.free[idx]
		if newRegion.offset+newRegion.count == next.offset {
			newRegion.count += next.count
			a.free = append(a.free[:idx], a.free[idx+1:]...)
		}
	}

	a.free = append(a.free, region{})
	copy(a.free[idx+1:], a.free[idx:])
	a.free[idx] = newRegion

	if blockCount > a.usedBlocks {
		a.usedBlocks = 0
	} else {
		a.usedBlocks -= blockCount
	}
}

// FreeRegions returns a snapshot of the current free list, sorted by offset.
// Used by the fragmentation metric and defragmentation planner.
func (a *Allocator) FreeRegions() []Location {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Location, len(a.free))
	for i, r := range a.free {
		out[i] = Location{BlockOffset: r.offset, BlockCount: r.count}
	}
	return out
}
