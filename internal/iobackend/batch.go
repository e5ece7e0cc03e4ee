package iobackend

import "sort"

// mergeGap is the maximum byte gap between two writes (or two reads) that
// still qualifies them for merging into a single I/O operation.
const mergeGap = 4096

// coalesceGap is the maximum byte gap between two requested read ranges
// that still qualifies them for a single coalesced read.
const coalesceGap = 64 * 1024

// Range describes a byte range request, used by the read coalescer.
type Range struct {
	Offset int64
	Length int
}

type pendingWrite struct {
	offset int64
	data   []byte
}

// Batch wraps another backend with a FIFO write buffer and a read
// coalescer. Writes accumulate until the caller flushes (on a should-flush
// signal from Add) or calls Flush explicitly; reads can be coalesced in bulk
// via ReadMany. Adjacent or near-adjacent (gap <= 4KiB) writes are merged
// into a single write, with the gap padded with zeroes.
type Batch struct {
	inner    Backend
	maxBatch int
	maxBytes int

	pending      []pendingWrite
	pendingBytes int
}

// NewBatch wraps inner with batching. maxBatch and maxBytes are the
// should-flush thresholds: entry count and total buffered bytes.
func NewBatch(inner Backend, maxBatch, maxBytes int) *Batch {
	if maxBatch <= 0 {
		maxBatch = 64
	}
	if maxBytes <= 0 {
		maxBytes = 4 << 20
	}
	return &Batch{inner: inner, maxBatch: maxBatch, maxBytes: maxBytes}
}

// WriteAt implements Backend: it buffers the write rather than issuing it
// immediately, flushing automatically once a threshold is crossed.
func (b *Batch) WriteAt(offset int64, data []byte) error {
	cp := append([]byte(nil), data...)
	shouldFlush := b.add(offset, cp)
	if shouldFlush {
		return b.Flush()
	}
	return nil
}

// add appends a pending write and reports whether a flush threshold was crossed.
func (b *Batch) add(offset int64, data []byte) bool {
	b.pending = append(b.pending, pendingWrite{offset: offset, data: data})
	b.pendingBytes += len(data)
	return len(b.pending) >= b.maxBatch || b.pendingBytes >= b.maxBytes
}

// Flush sorts pending writes by offset, merges adjacent/near-adjacent
// writes (gap <= mergeGap, padded with zeroes), issues each merged write to
// the inner backend, and syncs once for the whole batch.
func (b *Batch) Flush() error {
	if len(b.pending) == 0 {
		return nil
	}

	sort.Slice(b.pending, func(i, j int) bool {
		return b.pending[i].offset < b.pending[j].offset
	})

	merged := make([]pendingWrite, 0, len(b.pending))
	cur := b.pending[0]
	for _, w := range b.pending[1:] {
		curEnd := cur.offset + int64(len(cur.data))
		gap := w.offset - curEnd
		if gap >= 0 && gap <= mergeGap {
			padded := make([]byte, w.offset-cur.offset+int64(len(w.data)))
			copy(padded, cur.data)
			copy(padded[w.offset-cur.offset:], w.data)
			cur.data = padded
			continue
		}
		merged = append(merged, cur)
		cur = w
	}
	merged = append(merged, cur)

	for _, w := range merged {
		if err := b.inner.WriteAt(w.offset, w.data); err != nil {
			return err
		}
	}

	if err := b.inner.Sync(); err != nil {
		return err
	}

	b.pending = b.pending[:0]
	b.pendingBytes = 0
	return nil
}

// ReadAt implements Backend; individual reads pass straight through. Use
// ReadMany to exercise the coalescer for a batch of requests.
func (b *Batch) ReadAt(offset int64, length int) ([]byte, error) {
	return b.inner.ReadAt(offset, length)
}

// ReadMany answers a batch of read requests, merging requests within
// coalesceGap of each other into a single underlying read before slicing
// out each caller's answer.
func (b *Batch) ReadMany(reqs []Range) ([][]byte, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	order := make([]int, len(reqs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return reqs[order[i]].Offset < reqs[order[j]].Offset
	})

	out := make([][]byte, len(reqs))

	i := 0
	for i < len(order) {
		j := i
		groupStart := reqs[order[i]].Offset
		groupEnd := groupStart + int64(reqs[order[i]].Length)
		for j+1 < len(order) {
			next := reqs[order[j+1]]
			if next.Offset-groupEnd > coalesceGap {
				break
			}
			if end := next.Offset + int64(next.Length); end > groupEnd {
				groupEnd = end
			}
			j++
		}

		buf, err := b.inner.ReadAt(groupStart, int(groupEnd-groupStart))
		if err != nil {
			return nil, err
		}
		for k := i; k <= j; k++ {
			idx := order[k]
			lo := reqs[idx].Offset - groupStart
			out[idx] = buf[lo : lo+int64(reqs[idx].Length)]
		}
		i = j + 1
	}

	return out, nil
}

// Sync flushes any pending writes, then syncs the inner backend.
func (b *Batch) Sync() error {
	if err := b.Flush(); err != nil {
		return err
	}
	return b.inner.Sync()
}

// Alignment implements Backend.
func (b *Batch) Alignment() int { return b.inner.Alignment() }

// DirectIOEnabled implements Backend.
func (b *Batch) DirectIOEnabled() bool { return b.inner.DirectIOEnabled() }

// Close flushes pending writes and closes the inner backend.
func (b *Batch) Close() error {
	if err := b.Flush(); err != nil {
		_ = b.inner.Close()
		return err
	}
	return b.inner.Close()
}
