/*
Package rawcache implements a block-managed, single-file content cache
designed to sit in front of a range-based HTTP slice proxy.

Stored payloads live in block-aligned regions of one backing file, indexed
by an in-memory directory that is persisted into the file's own metadata
region by SaveMetadata and on Close. The engine composes a free-list block
allocator, pluggable eviction (LRU/LFU/FIFO) whose batch size adapts to
allocation failures (its watermarks stay fixed), online defragmentation,
transparent compression, multi-algorithm checksums with repair from backup,
and access-pattern-driven prefetching behind multiple interchangeable I/O
backends (buffered, direct/aligned, io_uring, memory-mapped, batched).

# Usage

Callers submit (key, bytes) to Store, ask (key) via Lookup, invalidate via
Remove, and read cumulative counters via Stats. A tiered.Cache wraps a
Handle with a bounded in-memory L1 in front of it for hot-path promotion.

# Concurrency

A Handle is safe for concurrent use by multiple goroutines. Store, Lookup,
and Remove may all be in flight at once. No background tasks run: eviction
runs inside Store when an allocation fails, defragmentation runs when
Defragment is called, and no verification pass is scheduled.

# Scope

HTTP/range parsing, subrequest dispatch, response reassembly, the PURGE
surface, metrics exporters, and configuration loading are all external to
this module; it exposes only the storage engine's handle API.
*/
package rawcache
