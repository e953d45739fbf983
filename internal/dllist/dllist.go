// Package dllist implements Component B: a persistent (arena-backed)
// doubly-linked record list. It is ported closely from
// _examples/original_source/volatile/engine/dl_list.{hpp,cpp} — the
// lock-then-revalidate-then-link ordering of every mutation below matches
// the original exactly, since that ordering is what makes concurrent,
// lock-free readers safe.
package dllist

import (
	"sync/atomic"

	"github.com/oba-hashkv/hashkv/internal/alloc"
	"github.com/oba-hashkv/hashkv/internal/locktable"
	"github.com/oba-hashkv/hashkv/internal/record"
	"github.com/oba-hashkv/hashkv/internal/status"
)

// WriteArgs bundles what a structural mutation needs: the key/value to
// write, the record kind/status to stamp it with, the write's timestamp,
// and the pre-allocated space to write into. Mirrors DLList::WriteArgs.
type WriteArgs struct {
	Key    []byte
	Val    []byte
	Kind   record.Kind
	Status record.Status
	TS     uint64
	Space  alloc.SpaceEntry
}

// DLList is a doubly-linked list of records living in an Allocator's
// arena, threaded through a fixed header record. Header is always present:
// an empty list is a header record whose Prev and Next both point to
// itself.
type DLList struct {
	headerOffset uint64 // atomic
	arena        alloc.Allocator
	locks        *locktable.Table
}

// New wraps an existing header record (already constructed at
// headerOffset) as a DLList.
func New(headerOffset uint64, arena alloc.Allocator, locks *locktable.Table) *DLList {
	return &DLList{headerOffset: headerOffset, arena: arena, locks: locks}
}

// Header returns the current header record's offset.
func (l *DLList) Header() uint64 {
	return atomic.LoadUint64(&l.headerOffset)
}

// HeaderRecord returns a view of the current header record.
func (l *DLList) HeaderRecord() *record.Record {
	return l.recordAt(l.Header())
}

// RecordAt views the record at offset: it peeks the fixed header to learn
// the key/value lengths, then wraps the full span. Exported so higher
// layers (the hash collection, the cleaner) can dereference offsets they
// obtained from the hash index without duplicating the length-peeking
// logic.
func (l *DLList) RecordAt(offset uint64) *record.Record {
	return l.recordAt(offset)
}

func (l *DLList) recordAt(offset uint64) *record.Record {
	head := l.arena.Bytes(offset, record.HeaderSize)
	keyLen := u32(head[44:48])
	valLen := u32(head[48:52])
	size := uint64(record.HeaderSize) + uint64(keyLen) + uint64(valLen) + record.ChecksumSize
	return record.View(l.arena.Bytes(offset, size))
}

func u32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// mix finalizes an offset into a lock-stripe key. Grounded in the
// original's XXH3 hash of a record pointer for lock hashing; here the
// offset itself plays the role of the pointer identity.
func mix(offset uint64) uint64 {
	x := offset
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

func (l *DLList) acquireInsertLock(prevOffset uint64) locktable.Guard {
	return l.locks.AcquireLock(mix(prevOffset))
}

// acquireRecordLock locks the stripes for a record's current predecessor
// and the record itself, re-validating that its linkage hasn't changed
// since we read it (a competing mutation may have relinked it in between).
func (l *DLList) acquireRecordLock(offset uint64) locktable.Guard {
	for {
		rec := l.recordAt(offset)
		prevOffset := rec.Prev()
		nextOffset := rec.Next()
		guard := l.locks.MultiGuard([]uint64{mix(prevOffset), mix(offset)})
		rec = l.recordAt(offset)
		if rec.Prev() != prevOffset || rec.Next() != nextOffset {
			guard.Unlock()
			continue
		}
		return guard
	}
}

func (l *DLList) linkRecord(prevOffset, nextOffset, linkingOffset uint64) {
	prev := l.recordAt(prevOffset)
	next := l.recordAt(nextOffset)
	prev.SetNext(linkingOffset)
	next.SetPrev(linkingOffset)
}

// PushBack inserts a new record immediately before the header (i.e. at the
// tail of the list), retrying until it wins the race against concurrent
// structural mutations at that position.
func (l *DLList) PushBack(args WriteArgs) status.Status {
	var s status.Status
	for {
		s = l.InsertBefore(args, l.Header())
		if s != status.Fail {
			return s
		}
	}
}

// PushFront inserts a new record immediately after the header (i.e. at the
// head of the list).
func (l *DLList) PushFront(args WriteArgs) status.Status {
	var s status.Status
	for {
		s = l.InsertAfter(args, l.Header())
		if s != status.Fail {
			return s
		}
	}
}

// InsertBetween links a newly constructed record between prev and next,
// after verifying they are still adjacent.
func (l *DLList) InsertBetween(args WriteArgs, prevOffset, nextOffset uint64) status.Status {
	guard := l.acquireInsertLock(prevOffset)
	defer guard.Unlock()

	prev := l.recordAt(prevOffset)
	next := l.recordAt(nextOffset)
	if prev.Next() != nextOffset || next.Prev() != prevOffset {
		return status.Fail
	}

	buf := l.arena.Bytes(args.Space.Offset, args.Space.Size)
	if _, err := record.Construct(buf, args.TS, args.Kind, args.Status,
		record.NullOffset, prevOffset, nextOffset, args.Key, args.Val, 0); err != nil {
		return status.MemoryOverflow
	}
	l.linkRecord(prevOffset, nextOffset, args.Space.Offset)
	return status.Ok
}

// InsertAfter inserts a new record immediately after prevOffset.
func (l *DLList) InsertAfter(args WriteArgs, prevOffset uint64) status.Status {
	prev := l.recordAt(prevOffset)
	return l.InsertBetween(args, prevOffset, prev.Next())
}

// InsertBefore inserts a new record immediately before nextOffset.
func (l *DLList) InsertBefore(args WriteArgs, nextOffset uint64) status.Status {
	next := l.recordAt(nextOffset)
	return l.InsertBetween(args, next.Prev(), nextOffset)
}

// Update supersedes the record at currentOffset with a newly constructed
// record carrying currentOffset as its OldVersion, preserving currentOffset
// itself (and its bytes) untouched so old readers and the cleaner can still
// reach it via the version chain.
func (l *DLList) Update(args WriteArgs, currentOffset uint64) status.Status {
	guard := l.acquireRecordLock(currentOffset)
	defer guard.Unlock()

	current := l.recordAt(currentOffset)
	prevOffset := current.Prev()
	nextOffset := current.Next()
	prev := l.recordAt(prevOffset)
	next := l.recordAt(nextOffset)
	if next.Prev() != currentOffset || prev.Next() != currentOffset {
		return status.Fail
	}

	buf := l.arena.Bytes(args.Space.Offset, args.Space.Size)
	if _, err := record.Construct(buf, args.TS, args.Kind, args.Status,
		currentOffset, prevOffset, nextOffset, args.Key, args.Val, 0); err != nil {
		return status.MemoryOverflow
	}
	l.linkRecord(prevOffset, nextOffset, args.Space.Offset)
	return status.Ok
}

// Replace swaps the linkage pointing at oldOffset to point at newOffset
// instead, without touching the hash index. newOffset must already carry a
// fully constructed record (its Prev/Next fields are overwritten here to
// match the position it is being spliced into). Returns false if oldOffset
// was not linked on this list.
func (l *DLList) Replace(oldOffset, newOffset uint64) bool {
	guard := l.acquireRecordLock(oldOffset)
	defer guard.Unlock()

	old := l.recordAt(oldOffset)
	prevOffset := old.Prev()
	nextOffset := old.Next()
	prev := l.recordAt(prevOffset)
	next := l.recordAt(nextOffset)
	onList := prev.Next() == oldOffset && next.Prev() == oldOffset

	if onList {
		newRec := l.recordAt(newOffset)
		if prevOffset == oldOffset && nextOffset == oldOffset {
			// old_record was the only record (the header) in the list: make
			// the new record point to itself and break the old record's
			// linkage so recovery can tell it was superseded.
			newRec.SetPrev(newOffset)
			newRec.SetNext(newOffset)
			old.SetPrev(newOffset)
		} else {
			newRec.SetPrev(prevOffset)
			newRec.SetNext(nextOffset)
			l.linkRecord(prevOffset, nextOffset, newOffset)
		}
		if oldOffset == l.Header() {
			atomic.StoreUint64(&l.headerOffset, newOffset)
		}
	}
	return onList
}

// Remove unlinks removingOffset from the list. It unlinks in reverse order
// of insertion (next's prev pointer before prev's next pointer) so that a
// crash mid-removal leaves a state recovery can still interpret as
// "not yet removed" rather than a dangling pointer.
func (l *DLList) Remove(removingOffset uint64) bool {
	guard := l.acquireRecordLock(removingOffset)
	defer guard.Unlock()

	removing := l.recordAt(removingOffset)
	prevOffset := removing.Prev()
	nextOffset := removing.Next()
	prev := l.recordAt(prevOffset)
	next := l.recordAt(nextOffset)
	onList := prev.Next() == removingOffset

	if onList {
		next.SetPrev(prevOffset)
		prev.SetNext(nextOffset)
	}
	return onList
}

// RemoveFront removes and returns the offset of the first non-header
// record, retrying if a competing thread removes it first.
func (l *DLList) RemoveFront() (uint64, bool) {
	for {
		front := l.HeaderRecord().Next()
		if front == l.Header() {
			return record.NullOffset, false
		}
		if l.Remove(front) {
			return front, true
		}
	}
}

// RemoveBack removes and returns the offset of the last non-header record.
func (l *DLList) RemoveBack() (uint64, bool) {
	for {
		back := l.HeaderRecord().Prev()
		if back == l.Header() {
			return record.NullOffset, false
		}
		if l.Remove(back) {
			return back, true
		}
	}
}

// CheckLinkage verifies that the record at offset is correctly threaded
// into its neighbors, using matchType/fetchID to also cross-check record
// kind and collection identity, mirroring DLListRecoveryUtils in the
// original (there implemented via a template + static hooks; here as plain
// closures, since Go has no template specialization to imitate).
func (l *DLList) CheckLinkage(offset uint64, matchType func(*record.Record) bool, fetchID func(*record.Record) uint64) bool {
	return l.checkPrevLinkage(offset, matchType, fetchID) && l.checkNextLinkage(offset, matchType, fetchID)
}

func (l *DLList) checkNextLinkage(offset uint64, matchType func(*record.Record) bool, fetchID func(*record.Record) uint64) bool {
	rec := l.recordAt(offset)
	next := l.recordAt(rec.Next())
	return next.Prev() == offset && matchType(rec) && fetchID(rec) == fetchID(next)
}

func (l *DLList) checkPrevLinkage(offset uint64, matchType func(*record.Record) bool, fetchID func(*record.Record) uint64) bool {
	rec := l.recordAt(offset)
	prev := l.recordAt(rec.Prev())
	return prev.Next() == offset && matchType(rec) && fetchID(rec) == fetchID(prev)
}

// Iterator walks all records on the list, header included as the
// wraparound boundary. It mirrors DLListRecordIterator.
type Iterator struct {
	l       *DLList
	header  uint64
	current uint64
}

// NewIterator creates an Iterator positioned before the first record.
func (l *DLList) NewIterator() *Iterator {
	h := l.Header()
	return &Iterator{l: l, header: h, current: h}
}

// SeekToFirst positions the iterator at the first non-header record.
func (it *Iterator) SeekToFirst() {
	it.current = it.l.recordAt(it.header).Next()
}

// Valid reports whether the iterator is positioned on a real (non-header)
// record.
func (it *Iterator) Valid() bool {
	return it.current != it.header
}

// Record returns the record the iterator is positioned on.
func (it *Iterator) Record() *record.Record {
	return it.l.recordAt(it.current)
}

// Offset returns the arena offset the iterator is positioned on.
func (it *Iterator) Offset() uint64 {
	return it.current
}

// Next advances the iterator.
func (it *Iterator) Next() {
	if it.Valid() {
		it.current = it.Record().Next()
	}
}
