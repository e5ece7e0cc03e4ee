package iobackend

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTempFile(t *testing.T) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backend.db")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestBufferedWriteReadRoundTrip(t *testing.T) {
	b := NewBuffered(openTempFile(t))
	defer b.Close()

	require.NoError(t, b.WriteAt(0, []byte("hello world")))
	got, err := b.ReadAt(0, 11)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), got)
}

func TestBufferedWriteAtOffset(t *testing.T) {
	b := NewBuffered(openTempFile(t))
	defer b.Close()

	require.NoError(t, b.WriteAt(4096, []byte("abc")))
	got, err := b.ReadAt(4096, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestBufferedSyncAndAlignment(t *testing.T) {
	b := NewBuffered(openTempFile(t))
	defer b.Close()

	assert.Equal(t, 1, b.Alignment())
	assert.False(t, b.DirectIOEnabled())
	assert.NoError(t, b.Sync())
}

func TestIsAlignedAlignDownAlignUp(t *testing.T) {
	assert.True(t, IsAligned(4096, 4096))
	assert.False(t, IsAligned(4097, 4096))
	assert.True(t, IsAligned(100, 0)) // no alignment requirement

	assert.Equal(t, int64(4096), AlignDown(4100, 4096))
	assert.Equal(t, int64(0), AlignDown(100, 4096))

	assert.Equal(t, int64(4096), AlignUp(1, 4096))
	assert.Equal(t, int64(4096), AlignUp(4096, 4096))
	assert.Equal(t, int64(8192), AlignUp(4097, 4096))
}

func TestAllocAlignedReturnsAlignedSlice(t *testing.T) {
	buf := AllocAligned(4096, 512)
	assert.Len(t, buf, 4096)
	assert.Equal(t, int64(0), sliceAddr(buf)%512)
}

func TestAllocAlignedNoAlignmentRequirement(t *testing.T) {
	buf := AllocAligned(128, 0)
	assert.Len(t, buf, 128)
}

func TestBatchBuffersWritesUntilFlush(t *testing.T) {
	inner := NewBuffered(openTempFile(t))
	defer inner.Close()

	batch := NewBatch(inner, 64, 4<<20)
	require.NoError(t, batch.WriteAt(0, []byte("buffered")))

	// Not yet flushed to the inner backend.
	got, err := inner.ReadAt(0, 8)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 8), got)

	require.NoError(t, batch.Flush())
	got, err = inner.ReadAt(0, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("buffered"), got)
}

func TestBatchFlushesAutomaticallyAtEntryThreshold(t *testing.T) {
	inner := NewBuffered(openTempFile(t))
	defer inner.Close()

	batch := NewBatch(inner, 2, 4<<20)
	require.NoError(t, batch.WriteAt(0, []byte("a")))
	require.NoError(t, batch.WriteAt(100, []byte("b"))) // crosses maxBatch=2, auto-flushes

	got, err := inner.ReadAt(100, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), got)
}

func TestBatchMergesAdjacentWrites(t *testing.T) {
	inner := NewBuffered(openTempFile(t))
	defer inner.Close()

	batch := NewBatch(inner, 64, 4<<20)
	require.NoError(t, batch.WriteAt(0, []byte("AAAA")))
	require.NoError(t, batch.WriteAt(4, []byte("BBBB")))
	require.NoError(t, batch.Flush())

	got, err := inner.ReadAt(0, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("AAAABBBB"), got)
}

func TestBatchReadAtPassesThrough(t *testing.T) {
	inner := NewBuffered(openTempFile(t))
	defer inner.Close()
	require.NoError(t, inner.WriteAt(0, []byte("passthrough")))

	batch := NewBatch(inner, 64, 4<<20)
	got, err := batch.ReadAt(0, 11)
	require.NoError(t, err)
	assert.Equal(t, []byte("passthrough"), got)
}

func TestBatchReadManyCoalescesNearbyRanges(t *testing.T) {
	inner := NewBuffered(openTempFile(t))
	defer inner.Close()
	require.NoError(t, inner.WriteAt(0, []byte("0123456789")))

	batch := NewBatch(inner, 64, 4<<20)
	results, err := batch.ReadMany([]Range{
		{Offset: 5, Length: 3},
		{Offset: 0, Length: 2},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []byte("567"), results[0])
	assert.Equal(t, []byte("01"), results[1])
}

func TestBatchReadManyEmptyReturnsNil(t *testing.T) {
	inner := NewBuffered(openTempFile(t))
	defer inner.Close()
	batch := NewBatch(inner, 64, 4<<20)

	got, err := batch.ReadMany(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBatchSyncFlushesPending(t *testing.T) {
	inner := NewBuffered(openTempFile(t))
	defer inner.Close()

	batch := NewBatch(inner, 64, 4<<20)
	require.NoError(t, batch.WriteAt(0, []byte("sync-me")))
	require.NoError(t, batch.Sync())

	got, err := inner.ReadAt(0, 7)
	require.NoError(t, err)
	assert.Equal(t, []byte("sync-me"), got)
}

func TestBatchDelegatesAlignmentAndDirectIO(t *testing.T) {
	inner := NewBuffered(openTempFile(t))
	defer inner.Close()
	batch := NewBatch(inner, 64, 4<<20)

	assert.Equal(t, inner.Alignment(), batch.Alignment())
	assert.Equal(t, inner.DirectIOEnabled(), batch.DirectIOEnabled())
}

func TestMMapReaderFallsThroughBelowThreshold(t *testing.T) {
	f := openTempFile(t)
	buffered := NewBuffered(f)
	require.NoError(t, buffered.WriteAt(0, []byte("small")))

	reader := NewMMapReader(f, buffered, 4096)
	got, err := reader.ReadAt(0, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("small"), got)
}

func TestMMapReaderZeroCopyAboveThreshold(t *testing.T) {
	f := openTempFile(t)
	buffered := NewBuffered(f)

	payload := make([]byte, 8192)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	require.NoError(t, buffered.WriteAt(0, payload))

	reader := NewMMapReader(f, buffered, 1024)
	got, err := reader.ReadAt(0, len(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestMMapReaderWriteDelegatesToFallback(t *testing.T) {
	f := openTempFile(t)
	buffered := NewBuffered(f)
	reader := NewMMapReader(f, buffered, 4096)

	require.NoError(t, reader.WriteAt(0, []byte("via-fallback")))
	got, err := buffered.ReadAt(0, 12)
	require.NoError(t, err)
	assert.Equal(t, []byte("via-fallback"), got)
}

func TestOpenDefaultConfigYieldsBufferedBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	backend, err := Open(path, Config{})
	require.NoError(t, err)
	defer backend.Close()

	require.NoError(t, backend.WriteAt(0, []byte("data")))
	got, err := backend.ReadAt(0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)
}

func TestOpenWithBatchingWrapsBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	backend, err := Open(path, Config{BatchMaxEntries: 8})
	require.NoError(t, err)
	defer backend.Close()

	_, ok := backend.(*Batch)
	assert.True(t, ok)
}

func TestOpenWithMMapThresholdWrapsBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	backend, err := Open(path, Config{MMapThreshold: 4096})
	require.NoError(t, err)
	defer backend.Close()

	_, ok := backend.(*MMapReader)
	assert.True(t, ok)
}
