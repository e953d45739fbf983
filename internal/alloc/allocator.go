// Package alloc implements the engine's Allocator: a variable-size,
// offset-addressed arena that hands out byte spans for records and
// reclaims them through a segregated, size-classed free list.
package alloc

import (
	"errors"
	"sync"
	"sync/atomic"
)

// NullOffset mirrors record.NullOffset; duplicated here to keep this
// package free of a dependency on internal/record for the sentinel alone.
const NullOffset uint64 = ^uint64(0)

// SpaceEntry describes a byte span in the arena: an offset and a size, the
// unit both Allocate and Free operate on.
type SpaceEntry struct {
	Offset uint64
	Size   uint64
}

// Empty reports whether the entry carries no space.
func (s SpaceEntry) Empty() bool { return s.Size == 0 }

var (
	// ErrClosed is returned by any operation on a closed Allocator.
	ErrClosed = errors.New("alloc: allocator is closed")
	// ErrOutOfSpace is returned when the arena cannot grow further.
	ErrOutOfSpace = errors.New("alloc: arena exhausted")
)

// Allocator is the engine's storage-space provider: size-based allocation,
// explicit free, batched free, and offset<->address translation.
type Allocator interface {
	// Allocate returns a space of at least size bytes, or a zero SpaceEntry
	// if the arena could not satisfy the request.
	Allocate(size uint64) SpaceEntry
	// AllocateAligned is like Allocate but guarantees the returned offset
	// is a multiple of alignment.
	AllocateAligned(alignment, size uint64) SpaceEntry
	// Free returns entry to the free list for reuse.
	Free(entry SpaceEntry)
	// BatchFree returns many entries at once; equivalent to calling Free in
	// a loop but a single lock acquisition for callers who already batch
	// (the cleaner does).
	BatchFree(entries []SpaceEntry)
	// BytesAllocated returns the number of bytes currently handed out and
	// not yet freed.
	BytesAllocated() int64
	// Name identifies the allocator implementation, for logging/metrics.
	Name() string
	// Bytes returns a slice over the arena at [offset, offset+size).
	Bytes(offset, size uint64) []byte
	// Close releases the arena's backing resources.
	Close() error
}

// sizeClass buckets a request into one of a small number of classes so the
// free list can do fast first-fit within a class instead of scanning every
// freed span. Classes double from a 64-byte minimum.
func sizeClass(size uint64) int {
	class := 0
	bound := uint64(64)
	for bound < size {
		bound <<= 1
		class++
	}
	return class
}

func classFloor(class int) uint64 {
	return uint64(64) << uint(class)
}

const numSizeClasses = 32

// freeList is a segregated, size-classed cache of reusable spans: an
// in-memory LIFO cache per class. One mutex guards every class.
type freeList struct {
	mu      sync.Mutex
	classes [numSizeClasses][]SpaceEntry
	bytes   int64 // bytes currently sitting in the free list
}

func newFreeList() *freeList {
	return &freeList{}
}

// push returns entry to its size class. Entries larger than the largest
// class are pushed into the top class and satisfied by exact/oversized
// first-fit.
func (fl *freeList) push(entry SpaceEntry) {
	c := sizeClass(entry.Size)
	if c >= numSizeClasses {
		c = numSizeClasses - 1
	}
	fl.mu.Lock()
	fl.classes[c] = append(fl.classes[c], entry)
	fl.bytes += int64(entry.Size)
	fl.mu.Unlock()
}

// pop returns a span of at least size bytes from the smallest class that
// can satisfy it, or false if none is available.
func (fl *freeList) pop(size uint64) (SpaceEntry, bool) {
	start := sizeClass(size)
	if start >= numSizeClasses {
		start = numSizeClasses - 1
	}
	fl.mu.Lock()
	defer fl.mu.Unlock()
	for c := start; c < numSizeClasses; c++ {
		bucket := fl.classes[c]
		for i := len(bucket) - 1; i >= 0; i-- {
			if bucket[i].Size >= size {
				entry := bucket[i]
				bucket[i] = bucket[len(bucket)-1]
				fl.classes[c] = bucket[:len(bucket)-1]
				fl.bytes -= int64(entry.Size)
				return entry, true
			}
		}
	}
	return SpaceEntry{}, false
}

func (fl *freeList) freeBytes() int64 {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.bytes
}

// arenaAllocator is the concrete, arena-backed Allocator implementation.
// See arena.go for the memory-mapped backing store and Bytes/grow logic.
type arenaAllocator struct {
	arena     *Arena
	free      *freeList
	allocated int64
	closed    int32
}

// NewArenaAllocator wraps an already-open Arena as an Allocator.
func NewArenaAllocator(a *Arena) Allocator {
	return &arenaAllocator{arena: a, free: newFreeList()}
}

func (a *arenaAllocator) Name() string { return "arena" }

func (a *arenaAllocator) Allocate(size uint64) SpaceEntry {
	return a.AllocateAligned(1, size)
}

func (a *arenaAllocator) AllocateAligned(alignment, size uint64) SpaceEntry {
	if atomic.LoadInt32(&a.closed) == 1 || size == 0 {
		return SpaceEntry{}
	}
	if alignment <= 1 {
		if entry, ok := a.free.pop(size); ok {
			if slack := entry.Size - size; slack > 0 {
				a.free.push(SpaceEntry{Offset: entry.Offset + size, Size: slack})
				entry.Size = size
			}
			atomic.AddInt64(&a.allocated, int64(entry.Size))
			return entry
		}
	}
	entry, err := a.arena.bump(alignment, size)
	if err != nil {
		return SpaceEntry{}
	}
	atomic.AddInt64(&a.allocated, int64(entry.Size))
	return entry
}

func (a *arenaAllocator) Free(entry SpaceEntry) {
	if entry.Empty() {
		return
	}
	atomic.AddInt64(&a.allocated, -int64(entry.Size))
	a.free.push(entry)
}

func (a *arenaAllocator) BatchFree(entries []SpaceEntry) {
	a.free.mu.Lock()
	defer a.free.mu.Unlock()
	for _, e := range entries {
		if e.Empty() {
			continue
		}
		atomic.AddInt64(&a.allocated, -int64(e.Size))
		c := sizeClass(e.Size)
		if c >= numSizeClasses {
			c = numSizeClasses - 1
		}
		a.free.classes[c] = append(a.free.classes[c], e)
		a.free.bytes += int64(e.Size)
	}
}

func (a *arenaAllocator) BytesAllocated() int64 {
	return atomic.LoadInt64(&a.allocated)
}

func (a *arenaAllocator) Bytes(offset, size uint64) []byte {
	return a.arena.slice(offset, size)
}

func (a *arenaAllocator) Close() error {
	if !atomic.CompareAndSwapInt32(&a.closed, 0, 1) {
		return nil
	}
	return a.arena.Close()
}
