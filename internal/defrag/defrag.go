// Package defrag implements online defragmentation: measuring how
// fragmented the free space in the data region has become, and relocating
// live entries to compact gaps when the fragmentation metric crosses a
// configured threshold.
package defrag

import (
	"context"
	"fmt"

	"github.com/blockvault/rawcache/internal/allocator"
)

// Config configures the defragmentation planner.
type Config struct {
	// Threshold is the fragmentation ratio above which a defrag pass runs.
	Threshold float64

	// MaxRelocationsPerRun bounds how many entries a single pass moves,
	// keeping a run's latency impact predictable.
	MaxRelocationsPerRun int
}

// DefaultConfig returns the defragmentation planner's default configuration.
func DefaultConfig() Config {
	return Config{Threshold: 0.35, MaxRelocationsPerRun: 256}
}

// Validate checks the configuration's invariants.
func (c Config) Validate() error {
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("defrag: threshold must be in (0, 1], got %f", c.Threshold)
	}
	if c.MaxRelocationsPerRun <= 0 {
		return fmt.Errorf("defrag: max relocations per run must be positive")
	}
	return nil
}

// Metric computes the fragmentation ratio (total_gap - largest_gap) / used
// over the allocator's current free list and used-block count. A value near
// 0 means free space is already consolidated into one (or no) gap; a value
// near 1 means free space is scattered across many small gaps relative to
// how much space is in use.
func Metric(a *allocator.Allocator) float64 {
	used := a.UsedBlocks()
	if used == 0 {
		return 0
	}

	free := a.FreeRegions()
	if len(free) <= 1 {
		return 0
	}

	var total, largest uint64
	for _, r := range free {
		total += r.BlockCount
		if r.BlockCount > largest {
			largest = r.BlockCount
		}
	}

	if total <= largest {
		return 0
	}
	return float64(total-largest) / float64(used)
}

// Relocation describes a single entry move: the key, its old location, and
// its new one. Callers apply the move by copying the payload and updating
// the directory entry.
type Relocation struct {
	Key      string
	OldBlock uint64
	NewBlock uint64
	Blocks   uint64
}

// Candidate is a live entry eligible for relocation, supplied by the caller
// (the engine, which owns the directory).
type Candidate struct {
	Key         string
	BlockOffset uint64
	BlockCount  uint64
}

// Plan selects up to cfg.MaxRelocationsPerRun candidates to move into the
// allocator's free gaps, preferring to fill the smallest gap that fits each
// candidate (best-fit) so relocation itself does not create new
// fragmentation. Candidates are considered in the order given; the engine
// passes them in directory map iteration order, which is not sorted by
// block offset.
func Plan(a *allocator.Allocator, candidates []Candidate, cfg Config) []Relocation {
	free := a.FreeRegions()
	// Sort ascending by size for best-fit selection.
	for i := 1; i < len(free); i++ {
		for j := i; j > 0 && free[j].BlockCount < free[j-1].BlockCount; j-- {
			free[j], free[j-1] = free[j-1], free[j]
		}
	}

	var plan []Relocation
	for _, c := range candidates {
		if len(plan) >= cfg.MaxRelocationsPerRun {
			break
		}

		gapIdx := -1
		for i, g := range free {
			if g.BlockCount >= c.BlockCount {
				gapIdx = i
				break
			}
		}
		if gapIdx < 0 {
			continue
		}

		gap := free[gapIdx]
		if gap.BlockOffset >= c.BlockOffset {
			// Only relocate toward lower addresses; moving into a gap that
			// sits after the entry's current position does not reduce
			// fragmentation and risks oscillation between runs.
			continue
		}

		plan = append(plan, Relocation{
			Key:      c.Key,
			OldBlock: c.BlockOffset,
			NewBlock: gap.BlockOffset,
			Blocks:   c.BlockCount,
		})

		if gap.BlockCount == c.BlockCount {
			free = append(free[:gapIdx], free[gapIdx+1:]...)
		} else {
			free[gapIdx] = allocator.Location{
				BlockOffset: gap.BlockOffset + c.BlockCount,
				BlockCount:  gap.BlockCount - c.BlockCount,
			}
		}
	}

	return plan
}

// Runner executes a relocation plan against callbacks supplied by the
// engine, which owns the actual payload I/O and directory updates.
type Runner struct {
	// Move copies the payload at (oldBlock, blocks) to newBlock and updates
	// the directory entry for key. It must be atomic from the perspective
	// of concurrent readers (engine responsibility, e.g. directory lock
	// held only while swapping the location, not across the copy).
	Move func(ctx context.Context, key string, oldBlock, newBlock, blocks uint64) error
}

// Execute runs each relocation in plan via r.Move, stopping at the first
// error and returning how many relocations completed.
func (r Runner) Execute(ctx context.Context, plan []Relocation) (completed int, err error) {
	for _, reloc := range plan {
		if err := ctx.Err(); err != nil {
			return completed, err
		}
		if err := r.Move(ctx, reloc.Key, reloc.OldBlock, reloc.NewBlock, reloc.Blocks); err != nil {
			return completed, fmt.Errorf("defrag: relocate %q: %w", reloc.Key, err)
		}
		completed++
	}
	return completed, nil
}
