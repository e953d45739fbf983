// Package hashcollection implements Component E, the Hash Collection: a
// named collection of key/value elements backed by a doubly-linked record
// list (internal/dllist) and indexed by a hash index (internal/hashindex).
// It is ported from
// _examples/original_source/engine/hash_collection/hash_list.hpp and
// volatile/engine/hash_collection/hash_list.cpp.
package hashcollection

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/oba-hashkv/hashkv/internal/alloc"
	"github.com/oba-hashkv/hashkv/internal/dllist"
	"github.com/oba-hashkv/hashkv/internal/hashindex"
	"github.com/oba-hashkv/hashkv/internal/locktable"
	"github.com/oba-hashkv/hashkv/internal/record"
	"github.com/oba-hashkv/hashkv/internal/status"
	"github.com/oba-hashkv/hashkv/internal/version"
)

// idPrefixLen is the width of the collection-id prefix elemKey stamps
// ahead of every element's application key.
const idPrefixLen = 8

// WriteOp selects between a Put and a Delete when staging a write.
type WriteOp uint8

const (
	// OpPut stages a write that installs or overwrites a value.
	OpPut WriteOp = iota
	// OpDelete stages a write that supersedes the current value with a
	// tombstone.
	OpDelete
)

// ModifyOp is returned by a ModifyFunc to select Modify's outcome.
type ModifyOp uint8

const (
	// ModifyWrite installs the value ModifyFunc returned.
	ModifyWrite ModifyOp = iota
	// ModifyDelete supersedes the current value with a tombstone.
	ModifyDelete
	// ModifyAbort leaves the collection untouched and reports status.Abort.
	ModifyAbort
	// ModifyNoop leaves the collection untouched and reports status.Ok.
	ModifyNoop
)

// ModifyFunc inspects the key's current value (exists is false if the key
// is absent or its current record is a tombstone) and decides the outcome.
type ModifyFunc func(existing []byte, exists bool) (ModifyOp, []byte)

// WriteArgs stages a Put or Delete: the looked-up existing entry (if any)
// plus the space pre-allocated for the new record. Mirrors HashWriteArgs.
// Callers must hold the key's index lock across InitWriteArgs/PrepareWrite
// and the matching Write.
type WriteArgs struct {
	Key      []byte
	Value    []byte
	Op       WriteOp
	TS       uint64
	Space    alloc.SpaceEntry
	Existing *hashindex.Entry
}

// WriteResult reports the outcome of Put, Delete, Modify, SetExpireTime, or
// Write.
type WriteResult struct {
	Status         status.Status
	HasExisting    bool
	ExistingOffset uint64
	// Wrote reports whether a new record was actually constructed at
	// WriteOffset. It is false for an idempotent no-op (deleting an
	// already-absent or already-tombstoned key), in which case
	// WriteOffset is meaningless.
	Wrote       bool
	WriteOffset uint64
	// ExistingWasNormal reports whether the record at ExistingOffset was
	// Normal (live) immediately before this write superseded it. A Put
	// landing on a tombstone (HasExisting true, ExistingWasNormal false)
	// superseded a record the delete queue already owns, not a value the
	// caller should additionally queue for reclaim.
	ExistingWasNormal bool
}

// destroyBatchSize bounds how many freed spans Destroy/DestroyAll accumulate
// before flushing them to the allocator in one BatchFree call, mirroring the
// original's kMaxCachedOldRecords batching.
const destroyBatchSize = 4096

// HashCollection is Component E.
type HashCollection struct {
	name  string
	id    uint64
	dl    *dllist.DLList
	arena alloc.Allocator
	index *hashindex.Index
	vc    *version.Controller
	size  int64 // atomic

	// cleaningLock is the advisory try-lock a background scan (Destroy,
	// DestroyAll, CheckIndex) holds for its duration, mirroring the
	// original's SpinMutex cleaning_lock_. It only ever serializes those
	// scans against each other; Put/Get/Delete/Modify never touch it.
	cleaningLock sync.Mutex
}

func encodeID(id uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(id >> (8 * uint(i)))
	}
	return b
}

func decodeID(b []byte) uint64 {
	var id uint64
	for i := 0; i < 8 && i < len(b); i++ {
		id |= uint64(b[i]) << (8 * uint(i))
	}
	return id
}

// elemKey prepends h's collection id to key, producing the internal key
// used both as an element record's on-disk key and as the hash index's
// lookup key. Prepending the id lets every collection share one hash
// index without their application keys colliding, and lets fetchID prove,
// while walking the linked list, that a record still belongs to this
// collection.
func (h *HashCollection) elemKey(key []byte) []byte {
	out := make([]byte, idPrefixLen+len(key))
	copy(out, encodeID(h.id))
	copy(out[idPrefixLen:], key)
	return out
}

// InternalKey returns the internal key key resolves to within this
// collection: the same key elemKey stamps into an element record and
// indexes it under. Callers outside the package (the engine, the cleaner)
// that need to address the shared hash index directly (e.g. to erase a
// tombstone's entry once it is safe to reclaim) use this instead of the
// application key.
func (h *HashCollection) InternalKey(key []byte) []byte {
	return h.elemKey(key)
}

// Open wraps an already-constructed header record as a HashCollection.
func Open(name string, id uint64, headerOffset uint64, arena alloc.Allocator, locks *locktable.Table, idx *hashindex.Index, vc *version.Controller) *HashCollection {
	return &HashCollection{
		name:  name,
		id:    id,
		dl:    dllist.New(headerOffset, arena, locks),
		arena: arena,
		index: idx,
		vc:    vc,
	}
}

// Create allocates and links a fresh, self-looped header record and wraps
// it as a new, empty HashCollection.
func Create(name string, id uint64, arena alloc.Allocator, locks *locktable.Table, idx *hashindex.Index, vc *version.Controller, ts uint64) (*HashCollection, status.Status) {
	value := encodeID(id)
	space := arena.Allocate(record.RecordSize([]byte(name), value))
	if space.Empty() {
		return nil, status.MemoryOverflow
	}
	buf := arena.Bytes(space.Offset, space.Size)
	if _, err := record.Construct(buf, ts, record.KindHeader, record.StatusNormal,
		record.NullOffset, space.Offset, space.Offset, []byte(name), value, 0); err != nil {
		return nil, status.MemoryOverflow
	}
	return Open(name, id, space.Offset, arena, locks, idx, vc), status.Ok
}

// Name returns the collection's name.
func (h *HashCollection) Name() string { return h.name }

// ID returns the collection's id.
func (h *HashCollection) ID() uint64 { return h.id }

// HeaderOffset returns the arena offset of the collection's header record.
func (h *HashCollection) HeaderOffset() uint64 { return h.dl.Header() }

// Size returns the number of live (non-outdated) elements, maintained
// incrementally by Put/Delete/Modify.
func (h *HashCollection) Size() int64 {
	return atomic.LoadInt64(&h.size)
}

func (h *HashCollection) addSize(delta int64) {
	atomic.AddInt64(&h.size, delta)
}

// ExpireTime returns the collection's expiration time (0 means never).
func (h *HashCollection) ExpireTime() uint64 { return h.dl.HeaderRecord().ExpireTime() }

// HasExpired reports whether the collection's expire time has passed, given
// a caller-supplied comparable "now" (the engine owns clock semantics).
func (h *HashCollection) HasExpired(now uint64) bool {
	et := h.ExpireTime()
	return et != 0 && et <= now
}

// InitWriteArgs stages a Put or Delete for key/value. The caller must hold
// the key's index lock (via the collection's Index()) before calling
// InitWriteArgs and through the following PrepareWrite/Write.
func (h *HashCollection) InitWriteArgs(key, value []byte, op WriteOp) WriteArgs {
	return WriteArgs{Key: key, Value: value, Op: op}
}

// RecordAt views the record at offset, for callers (the engine) that need
// to inspect a record whose offset came out of a WriteResult, e.g. to
// learn its size before handing it to the cleaner.
func (h *HashCollection) RecordAt(offset uint64) *record.Record {
	return h.dl.RecordAt(offset)
}

// Index returns the collection's hash index, so callers implementing their
// own Put/Delete/Modify sequencing can acquire its per-key lock.
func (h *HashCollection) Index() *hashindex.Index { return h.index }

// PrepareWrite looks up key's current index entry and allocates the space
// the pending write will need. A Delete of an absent or already-outdated
// key allocates nothing (args.Space stays empty) so the caller can skip
// Write entirely, keeping repeated deletes of the same key idempotent and
// allocation-free.
func (h *HashCollection) PrepareWrite(args *WriteArgs, ts uint64) status.Status {
	args.TS = ts
	entry, found := h.index.Lookup(string(h.elemKey(args.Key)))
	allocateSpace := true

	if found {
		args.Existing = entry
		if args.Op == OpDelete && h.dl.RecordAt(entry.Offset).Status() == record.StatusOutdated {
			allocateSpace = false
		}
	} else {
		args.Existing = nil
		if args.Op == OpDelete {
			allocateSpace = false
		}
	}

	if allocateSpace {
		space := h.arena.Allocate(record.RecordSize(h.elemKey(args.Key), args.Value))
		if space.Empty() {
			return status.MemoryOverflow
		}
		args.Space = space
	}
	return status.Ok
}

// Write performs the write staged by PrepareWrite (or built directly by
// Modify), updating the live-element counter based on whether the mutated
// slot was previously live.
func (h *HashCollection) Write(args *WriteArgs) WriteResult {
	if args.Op == OpPut {
		wasLive := args.Existing != nil && h.dl.RecordAt(args.Existing.Offset).Status() == record.StatusNormal
		ret := h.putPrepared(args)
		ret.ExistingWasNormal = wasLive
		if !wasLive {
			h.addSize(1)
		}
		return ret
	}
	wasLive := args.Existing != nil && h.dl.RecordAt(args.Existing.Offset).Status() == record.StatusNormal
	ret := h.deletePrepared(args)
	ret.ExistingWasNormal = wasLive
	if wasLive {
		h.addSize(-1)
	}
	return ret
}

func (h *HashCollection) putPrepared(args *WriteArgs) WriteResult {
	ret := WriteResult{ExistingOffset: record.NullOffset, WriteOffset: args.Space.Offset, Wrote: true}
	dlArgs := dllist.WriteArgs{Key: h.elemKey(args.Key), Val: args.Value, Kind: record.KindElem, Status: record.StatusNormal, TS: args.TS, Space: args.Space}

	if args.Existing != nil {
		ret.HasExisting = true
		ret.ExistingOffset = args.Existing.Offset
		for h.dl.Update(dlArgs, args.Existing.Offset) != status.Ok {
			// a concurrent structural mutation raced us at this slot; retry
		}
	} else if rand.IntN(2) == 0 { // math/rand/v2, replacing fast_random_64() % 2
		h.dl.PushBack(dlArgs)
	} else {
		h.dl.PushFront(dlArgs)
	}

	h.index.Insert(string(h.elemKey(args.Key)), record.KindElem, args.Space.Offset)
	ret.Status = status.Ok
	return ret
}

func (h *HashCollection) deletePrepared(args *WriteArgs) WriteResult {
	ret := WriteResult{ExistingOffset: record.NullOffset}
	if args.Existing == nil {
		ret.Status = status.Ok
		return ret
	}

	ret.HasExisting = true
	ret.ExistingOffset = args.Existing.Offset
	dlArgs := dllist.WriteArgs{Key: h.elemKey(args.Key), Kind: record.KindElem, Status: record.StatusOutdated, TS: args.TS, Space: args.Space}
	for h.dl.Update(dlArgs, args.Existing.Offset) != status.Ok {
	}

	h.index.Insert(string(h.elemKey(args.Key)), record.KindElem, args.Space.Offset)
	ret.WriteOffset = args.Space.Offset
	ret.Wrote = true
	ret.Status = status.Ok
	return ret
}

// Put inserts or overwrites key's value.
func (h *HashCollection) Put(key, value []byte, ts uint64) WriteResult {
	guard := h.index.AcquireLock(string(h.elemKey(key)))
	defer guard.Unlock()

	args := h.InitWriteArgs(key, value, OpPut)
	if s := h.PrepareWrite(&args, ts); s != status.Ok {
		return WriteResult{Status: s}
	}
	return h.Write(&args)
}

// Get performs a lock-free lookup of key, re-validating the record's live
// status after dereferencing it.
func (h *HashCollection) Get(key []byte) ([]byte, status.Status) {
	entry, found := h.index.Lookup(string(h.elemKey(key)))
	if !found {
		return nil, status.NotFound
	}
	rec := h.dl.RecordAt(entry.Offset)
	if rec.Status() == record.StatusOutdated {
		return nil, status.NotFound
	}
	value := rec.Value()
	out := make([]byte, len(value))
	copy(out, value)
	return out, status.Ok
}

// Delete supersedes key's current record with a tombstone. Deleting an
// absent or already-deleted key is a cheap no-op: PrepareWrite skips
// allocation entirely.
func (h *HashCollection) Delete(key []byte, ts uint64) WriteResult {
	guard := h.index.AcquireLock(string(h.elemKey(key)))
	defer guard.Unlock()

	args := h.InitWriteArgs(key, nil, OpDelete)
	s := h.PrepareWrite(&args, ts)
	if s != status.Ok {
		return WriteResult{Status: s}
	}
	if args.Space.Empty() {
		return WriteResult{Status: status.Ok}
	}
	return h.Write(&args)
}

// Modify performs a read-modify-write under key's lock: fn sees the
// current value (if any) and decides whether to write, delete, abort, or
// leave the key untouched. Unlike Put/Delete, Modify allocates and writes
// directly rather than going through PrepareWrite, since it already holds
// the lookup result fn was shown.
func (h *HashCollection) Modify(key []byte, fn ModifyFunc, ts uint64) WriteResult {
	internalKey := h.elemKey(key)
	guard := h.index.AcquireLock(string(internalKey))
	defer guard.Unlock()

	entry, found := h.index.Lookup(string(internalKey))
	existingOffset := record.NullOffset
	var existingValue []byte
	exists := false
	if found {
		existingOffset = entry.Offset
		rec := h.dl.RecordAt(entry.Offset)
		if rec.Status() != record.StatusOutdated {
			exists = true
			v := rec.Value()
			existingValue = make([]byte, len(v))
			copy(existingValue, v)
		}
	}

	op, newValue := fn(existingValue, exists)
	switch op {
	case ModifyWrite:
		space := h.arena.Allocate(record.RecordSize(h.elemKey(key), newValue))
		if space.Empty() {
			return WriteResult{Status: status.MemoryOverflow, HasExisting: found, ExistingOffset: existingOffset}
		}
		args := WriteArgs{Key: key, Value: newValue, Op: OpPut, TS: ts, Space: space}
		if found {
			args.Existing = entry
		}
		return h.Write(&args)
	case ModifyDelete:
		if !found {
			return WriteResult{Status: status.Ok}
		}
		space := h.arena.Allocate(record.RecordSize(h.elemKey(key), nil))
		if space.Empty() {
			return WriteResult{Status: status.MemoryOverflow, HasExisting: true, ExistingOffset: existingOffset}
		}
		args := WriteArgs{Key: key, Op: OpDelete, TS: ts, Space: space, Existing: entry}
		return h.Write(&args)
	case ModifyAbort:
		return WriteResult{Status: status.Abort, HasExisting: found, ExistingOffset: existingOffset}
	default: // ModifyNoop
		return WriteResult{Status: status.Ok, HasExisting: found, ExistingOffset: existingOffset}
	}
}

// SetExpireTime replaces the collection's header record with a copy
// carrying a new expire time, leaving the old header reachable as its
// OldVersion for readers and the cleaner.
func (h *HashCollection) SetExpireTime(expireTime, ts uint64) WriteResult {
	oldOffset := h.dl.Header()
	header := h.dl.HeaderRecord()
	key := append([]byte(nil), header.Key()...)
	value := append([]byte(nil), header.Value()...)

	space := h.arena.Allocate(record.RecordSize(key, value))
	if space.Empty() {
		return WriteResult{Status: status.MemoryOverflow}
	}
	buf := h.arena.Bytes(space.Offset, space.Size)
	if _, err := record.Construct(buf, ts, record.KindHeader, record.StatusNormal,
		oldOffset, header.Prev(), header.Next(), key, value, expireTime); err != nil {
		return WriteResult{Status: status.MemoryOverflow}
	}

	ok := h.dl.Replace(oldOffset, space.Offset)
	return WriteResult{Status: status.Ok, HasExisting: ok, ExistingOffset: oldOffset, WriteOffset: space.Offset, Wrote: true}
}

// matchType and fetchID implement the two hooks DLListRecoveryUtils takes
// as template parameters in the original; here they are methods on the
// collection instead. Each HashCollection owns its own list, while the
// hash index is shared across collections.
func (h *HashCollection) matchType(rec *record.Record) bool {
	return rec.Kind() == record.KindElem || rec.Kind() == record.KindHeader
}

// fetchID extracts the collection id a record was written under, the way
// the original's FetchID switches on record type: an element carries it as
// an elemKey prefix on its key, the header carries it in its value
// (encodeID, set in Create/SetExpireTime). CheckLinkage compares the id
// fetched from a record against its neighbor's, so a record spliced onto
// the wrong collection's list is caught rather than silently accepted.
func (h *HashCollection) fetchID(rec *record.Record) uint64 {
	if rec.Kind() == record.KindHeader {
		return decodeID(rec.Value())
	}
	k := rec.Key()
	if len(k) < idPrefixLen {
		return 0
	}
	return decodeID(k[:idPrefixLen])
}

// CheckIndex walks the whole list validating that every element is
// reachable from the hash index at exactly the offset the list holds, and
// that its neighbor linkage, including collection identity via fetchID,
// is internally consistent. It holds the cleaning lock for its duration so
// it never races a concurrent Destroy/DestroyAll pass.
func (h *HashCollection) CheckIndex() status.Status {
	if !h.TryCleaningLock() {
		return status.Abort
	}
	defer h.ReleaseCleaningLock()

	it := h.dl.NewIterator()
	it.SeekToFirst()
	for it.Valid() {
		offset := it.Offset()
		rec := it.Record()
		entry, found := h.index.Lookup(string(rec.Key()))
		if !found || entry.Offset != offset {
			return status.Abort
		}
		if !h.dl.CheckLinkage(offset, h.matchType, h.fetchID) {
			return status.Abort
		}
		it.Next()
	}
	return status.Ok
}

// TryCleaningLock attempts to acquire the collection's advisory cleaning
// lock without blocking, mirroring the original's SpinMutex::try_lock. It
// serializes Destroy/DestroyAll/CheckIndex against each other; callers that
// fail to acquire it should skip their scan and retry later rather than
// block, matching how the original's cleaner skips an already-locked
// collection on a pass and picks it up on the next one.
func (h *HashCollection) TryCleaningLock() bool {
	return h.cleaningLock.TryLock()
}

// ReleaseCleaningLock releases the advisory cleaning lock acquired by a
// prior successful TryCleaningLock.
func (h *HashCollection) ReleaseCleaningLock() {
	h.cleaningLock.Unlock()
}

// Destroy unlinks and frees every record currently on the list (not their
// superseded versions, see DestroyAll), erasing each from the hash index
// only if the index still points at the exact offset being destroyed. It
// holds the cleaning lock for its duration; if another scan already holds
// it, Destroy does nothing and the caller is expected to retry later.
func (h *HashCollection) Destroy() {
	if !h.TryCleaningLock() {
		return
	}
	defer h.ReleaseCleaningLock()

	header := h.dl.Header()
	var toFree []alloc.SpaceEntry

	for {
		next := h.dl.HeaderRecord().Next()
		if next == header {
			break
		}
		toDestroy := h.dl.RecordAt(next)
		key := append([]byte(nil), toDestroy.Key()...)

		guard := h.index.AcquireLock(string(key))
		if h.dl.Remove(next) {
			if entry, found := h.index.Lookup(string(key)); found && entry.Offset == next {
				h.index.Erase(string(key))
			}
			toFree = append(toFree, alloc.SpaceEntry{Offset: next, Size: toDestroy.Size()})
			toDestroy.Destroy()
			if len(toFree) >= destroyBatchSize {
				h.arena.BatchFree(toFree)
				toFree = toFree[:0]
			}
		}
		guard.Unlock()
	}
	h.arena.BatchFree(toFree)
}

// DestroyAll is Destroy plus reclaiming every superseded version reachable
// from each record's OldVersion chain, for a collection whose entire
// history (not just its current view) is being torn down. Like Destroy, it
// holds the cleaning lock and does nothing if another scan already holds it.
func (h *HashCollection) DestroyAll() {
	if !h.TryCleaningLock() {
		return
	}
	defer h.ReleaseCleaningLock()

	header := h.dl.Header()
	var toFree []alloc.SpaceEntry
	flush := func() {
		if len(toFree) >= destroyBatchSize {
			h.arena.BatchFree(toFree)
			toFree = toFree[:0]
		}
	}

	for {
		next := h.dl.HeaderRecord().Next()
		if next == header {
			break
		}
		toDestroy := h.dl.RecordAt(next)
		key := append([]byte(nil), toDestroy.Key()...)

		guard := h.index.AcquireLock(string(key))
		if h.dl.Remove(next) {
			if entry, found := h.index.Lookup(string(key)); found && entry.Offset == next {
				h.index.Erase(string(key))
			}
			for old := toDestroy.OldVersion(); old != record.NullOffset; {
				oldRec := h.dl.RecordAt(old)
				nextOld := oldRec.OldVersion()
				toFree = append(toFree, alloc.SpaceEntry{Offset: old, Size: oldRec.Size()})
				oldRec.Destroy()
				flush()
				old = nextOld
			}
			toFree = append(toFree, alloc.SpaceEntry{Offset: next, Size: toDestroy.Size()})
			toDestroy.Destroy()
			flush()
		}
		guard.Unlock()
	}
	h.arena.BatchFree(toFree)
}
