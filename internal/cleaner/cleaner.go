// Package cleaner implements Component F, the Old-Records Cleaner: a
// background reclaimer that frees superseded records once no active
// snapshot can still see them. It is ported from
// _examples/original_source/engine/version/old_records_cleaner.cpp,
// preserving its thread-cache/steal/pending-queue structure exactly; the
// only adaptation is that Go has no thread-local storage, so callers are
// identified by a small worker id instead of an OS thread id and each
// worker's cache lives in a fixed-size shard array rather than a
// per-thread singleton.
package cleaner

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/oba-hashkv/hashkv/internal/alloc"
	"github.com/oba-hashkv/hashkv/internal/hashindex"
	"github.com/oba-hashkv/hashkv/internal/record"
	"github.com/oba-hashkv/hashkv/internal/version"
)

// deleteStealThreshold mirrors the original's literal 10000000: a worker's
// local delete-record cache is only stolen into the global queue once it
// grows past this size, since tombstones are far more numerous than
// superseded values in a typical workload and stealing them eagerly would
// contend the global queue for no benefit.
const deleteStealThreshold = 10000000

// updateSnapshotRound mirrors kUpdateSnapshotRound: the oldest-snapshot
// watermark is only recomputed every this-many calls to
// maybeUpdateOldestSnapshot, amortizing the snapshot-heap scan.
const updateSnapshotRound = 10000

// defaultShards is the size of the worker-cache shard array when the
// caller doesn't specify one.
const defaultShards = 64

// OldDataRecord is a superseded value, still reachable only through the
// OldVersion chain of the record that replaced it. It needs no hash-index
// interaction to reclaim: the index already points at its replacement.
type OldDataRecord struct {
	Offset         uint64
	Size           uint64
	NewerVersionTS uint64
	// CollectionID identifies the record's owning collection, so
	// CancelCollection can pull entries belonging to a collection being
	// dropped out of these queues before its own teardown pass frees the
	// same bytes a second time.
	CollectionID uint64
}

// OldDeleteRecord is a tombstone that may still be the hash index's
// current entry for Key. Reclaiming it means clearing that index entry
// (if it still points here) before the record's space can be freed.
type OldDeleteRecord struct {
	// Key is the record's internal key (its owning collection's id
	// prepended to the application key, see hashcollection.InternalKey),
	// since Index is shared across every collection and needs the prefix
	// to address the right entry.
	Key            []byte
	Offset         uint64
	Size           uint64
	NewerVersionTS uint64
	Index          *hashindex.Index
	// CollectionID identifies the record's owning collection, see
	// OldDataRecord.CollectionID.
	CollectionID uint64
}

// pendingEntry is a reclaimed span waiting out its pendingBatch's grace
// period, tagged with the collection it came from so CancelCollection can
// pull a dying collection's entries back out before they're freed.
type pendingEntry struct {
	entry        alloc.SpaceEntry
	collectionID uint64
}

// pendingBatch is a group of tombstone spans that were confirmed dead as
// of FreeTS but must wait until every snapshot active at that instant has
// itself expired before their bytes are handed back to the allocator,
// otherwise a lock-free Get racing the index-clear could still be mid
// dereference of the old bytes.
type pendingBatch struct {
	entries []pendingEntry
	freeTS  uint64
}

type threadCache struct {
	mu            sync.Mutex
	dataRecords   []OldDataRecord
	deleteRecords []OldDeleteRecord
	round         uint64
}

// Cleaner is the engine's single Old-Records Cleaner, shared by every hash
// collection: each pushed OldDeleteRecord carries the index it belongs to,
// so one cleaner instance can service many collections.
type Cleaner struct {
	arena alloc.Allocator
	vc    *version.Controller

	shards []*threadCache

	mu             sync.Mutex
	dataReferred   []OldDataRecord
	deleteReferred []OldDeleteRecord
	pending        []pendingBatch
	lastCleanAllTS uint64 // atomic

	metricsSet    *metrics.Set
	freedRecords  *metrics.Counter
	freedBytes    *metrics.Counter
	pendingGauge  *metrics.Gauge
	referredGauge *metrics.Gauge

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Cleaner with numShards worker caches (0 selects
// defaultShards). metricsPrefix namespaces the VictoriaMetrics counters
// this cleaner registers, so multiple engines in one process (as in
// tests) don't collide on metric names.
func New(arena alloc.Allocator, vc *version.Controller, numShards int, metricsPrefix string) *Cleaner {
	if numShards <= 0 {
		numShards = defaultShards
	}
	c := &Cleaner{
		arena:      arena,
		vc:         vc,
		shards:     make([]*threadCache, numShards),
		metricsSet: metrics.NewSet(),
		stop:       make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &threadCache{}
	}
	c.freedRecords = c.metricsSet.NewCounter(metricsPrefix + `_freed_records_total`)
	c.freedBytes = c.metricsSet.NewCounter(metricsPrefix + `_freed_bytes_total`)
	c.pendingGauge = c.metricsSet.NewGauge(metricsPrefix+`_pending_tombstones`, func() float64 {
		c.mu.Lock()
		defer c.mu.Unlock()
		n := 0
		for _, b := range c.pending {
			n += len(b.entries)
		}
		return float64(n)
	})
	c.referredGauge = c.metricsSet.NewGauge(metricsPrefix+`_referred_records`, func() float64 {
		c.mu.Lock()
		defer c.mu.Unlock()
		return float64(len(c.dataReferred) + len(c.deleteReferred))
	})
	metrics.RegisterSet(c.metricsSet)
	return c
}

func (c *Cleaner) shard(workerID int) *threadCache {
	return c.shards[workerID%len(c.shards)]
}

// PushOldDataRecord registers rec on workerID's local cache.
func (c *Cleaner) PushOldDataRecord(workerID int, rec OldDataRecord) {
	tc := c.shard(workerID)
	tc.mu.Lock()
	tc.dataRecords = append(tc.dataRecords, rec)
	tc.mu.Unlock()
}

// PushOldDeleteRecord registers rec on workerID's local cache.
func (c *Cleaner) PushOldDeleteRecord(workerID int, rec OldDeleteRecord) {
	tc := c.shard(workerID)
	tc.mu.Lock()
	tc.deleteRecords = append(tc.deleteRecords, rec)
	tc.mu.Unlock()
}

// maybeUpdateOldestSnapshot refreshes the version controller's oldest-
// snapshot watermark every updateSnapshotRound calls, so per-write
// bookkeeping (TryCleanCachedOldRecords) doesn't pay for a snapshot-heap
// scan on every call.
func (c *Cleaner) maybeUpdateOldestSnapshot(tc *threadCache) {
	tc.round++
	if tc.round%updateSnapshotRound == 0 {
		c.vc.UpdatedOldestSnapshot()
	}
}

// TryCleanAll steals every worker's cache into the global queues, purges
// whatever is now provably dead, and advances the pending-tombstone
// queue. It is the expensive, thorough pass, meant to run periodically in
// the background rather than inline on the write path.
func (c *Cleaner) TryCleanAll() {
	ts := c.vc.GetCurrentTimestamp()

	var globalData []OldDataRecord
	var globalDelete []OldDeleteRecord
	for _, tc := range c.shards {
		tc.mu.Lock()
		if len(tc.dataRecords) > 0 {
			globalData = append(globalData, tc.dataRecords...)
			tc.dataRecords = nil
		}
		if len(tc.deleteRecords) > deleteStealThreshold {
			globalDelete = append(globalDelete, tc.deleteRecords...)
			tc.deleteRecords = nil
		}
		tc.mu.Unlock()
	}

	c.vc.UpdatedOldestSnapshot()
	oldestSnapshotTS := c.vc.OldestSnapshotTS()

	c.mu.Lock()
	globalData = append(globalData, c.dataReferred...)
	globalDelete = append(globalDelete, c.deleteReferred...)

	var spaceToFree []alloc.SpaceEntry
	var dataReferred []OldDataRecord
	for _, rec := range globalData {
		if rec.NewerVersionTS <= oldestSnapshotTS {
			spaceToFree = append(spaceToFree, c.purgeOldDataRecord(rec))
		} else {
			dataReferred = append(dataReferred, rec)
		}
	}

	var pendingEntries []pendingEntry
	var deleteReferred []OldDeleteRecord
	for _, rec := range globalDelete {
		if rec.NewerVersionTS <= oldestSnapshotTS {
			pendingEntries = append(pendingEntries, pendingEntry{
				entry:        c.purgeOldDeleteRecord(rec),
				collectionID: rec.CollectionID,
			})
		} else {
			deleteReferred = append(deleteReferred, rec)
		}
	}

	atomic.StoreUint64(&c.lastCleanAllTS, ts)

	if len(pendingEntries) > 0 {
		c.pending = append(c.pending, pendingBatch{
			entries: pendingEntries,
			freeTS:  c.vc.GetCurrentTimestamp(),
		})
	}

	var freedFromPending []alloc.SpaceEntry
	i := 0
	for ; i < len(c.pending); i++ {
		if c.pending[i].freeTS >= oldestSnapshotTS {
			break
		}
		for _, pe := range c.pending[i].entries {
			freedFromPending = append(freedFromPending, pe.entry)
		}
	}
	c.pending = c.pending[i:]

	c.dataReferred = dataReferred
	c.deleteReferred = deleteReferred
	c.mu.Unlock()

	if len(freedFromPending) > 0 {
		spaceToFree = append(spaceToFree, freedFromPending...)
	}
	if len(spaceToFree) > 0 {
		c.arena.BatchFree(spaceToFree)
		c.freedRecords.Add(len(spaceToFree))
		var bytes uint64
		for _, e := range spaceToFree {
			bytes += e.Size
		}
		c.freedBytes.Add(int(bytes))
	}
}

// CancelCollection drops every queued entry belonging to collectionID from
// every shard cache, the global referred queues, and the pending-tombstone
// batches, without freeing the space they describe. A collection being
// dropped reclaims its own records (current and superseded) in one pass via
// DestroyAll; without this, records that pass had already handed to the
// cleaner as superseded would be freed a second time on the cleaner's next
// pass, or DestroyAll would race a concurrent free of bytes it still holds.
func (c *Cleaner) CancelCollection(collectionID uint64) {
	for _, tc := range c.shards {
		tc.mu.Lock()
		tc.dataRecords = filterDataRecords(tc.dataRecords, collectionID)
		tc.deleteRecords = filterDeleteRecords(tc.deleteRecords, collectionID)
		tc.mu.Unlock()
	}

	c.mu.Lock()
	c.dataReferred = filterDataRecords(c.dataReferred, collectionID)
	c.deleteReferred = filterDeleteRecords(c.deleteReferred, collectionID)
	for i := range c.pending {
		c.pending[i].entries = filterPendingEntries(c.pending[i].entries, collectionID)
	}
	c.mu.Unlock()
}

func filterDataRecords(recs []OldDataRecord, collectionID uint64) []OldDataRecord {
	kept := recs[:0]
	for _, r := range recs {
		if r.CollectionID != collectionID {
			kept = append(kept, r)
		}
	}
	return kept
}

func filterDeleteRecords(recs []OldDeleteRecord, collectionID uint64) []OldDeleteRecord {
	kept := recs[:0]
	for _, r := range recs {
		if r.CollectionID != collectionID {
			kept = append(kept, r)
		}
	}
	return kept
}

func filterPendingEntries(entries []pendingEntry, collectionID uint64) []pendingEntry {
	kept := entries[:0]
	for _, e := range entries {
		if e.collectionID != collectionID {
			kept = append(kept, e)
		}
	}
	return kept
}

// TryCleanCachedOldRecords does a cheap, bounded local trim of workerID's
// cache without touching the global queues: at most limit tombstones and
// at most limit data records are released per call. Tombstones are gated on lastCleanAllTS (the ts as of
// the last global pass) while data records are gated on the live
// OldestSnapshotTS, the asymmetry is deliberate: a bounded local pass
// must never race ahead of what TryCleanAll has already confirmed dead
// for tombstones (which also need the index-clear check), while data
// records carry no such external state and can use the freshest
// watermark directly.
func (c *Cleaner) TryCleanCachedOldRecords(workerID int, limit int) {
	tc := c.shard(workerID)
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if len(tc.dataRecords) == 0 && len(tc.deleteRecords) == 0 {
		return
	}
	c.maybeUpdateOldestSnapshot(tc)

	lastCleanAllTS := atomic.LoadUint64(&c.lastCleanAllTS)
	var freed []alloc.SpaceEntry
	n := 0
	for n < limit && len(tc.deleteRecords) > 0 && tc.deleteRecords[0].NewerVersionTS < lastCleanAllTS {
		freed = append(freed, c.purgeOldDeleteRecord(tc.deleteRecords[0]))
		tc.deleteRecords = tc.deleteRecords[1:]
		n++
	}

	oldestReferTS := c.vc.OldestSnapshotTS()
	n = 0
	for n < limit && len(tc.dataRecords) > 0 && tc.dataRecords[0].NewerVersionTS < oldestReferTS {
		freed = append(freed, c.purgeOldDataRecord(tc.dataRecords[0]))
		tc.dataRecords = tc.dataRecords[1:]
		n++
	}

	if len(freed) > 0 {
		for _, e := range freed {
			c.arena.Free(e)
		}
		c.freedRecords.Add(len(freed))
	}
}

func (c *Cleaner) purgeOldDataRecord(rec OldDataRecord) alloc.SpaceEntry {
	buf := c.arena.Bytes(rec.Offset, rec.Size)
	record.View(buf).Destroy()
	return alloc.SpaceEntry{Offset: rec.Offset, Size: rec.Size}
}

func (c *Cleaner) purgeOldDeleteRecord(rec OldDeleteRecord) alloc.SpaceEntry {
	guard := rec.Index.AcquireLock(string(rec.Key))
	if entry, found := rec.Index.Lookup(string(rec.Key)); found && entry.Offset == rec.Offset {
		rec.Index.Erase(string(rec.Key))
	}
	guard.Unlock()

	buf := c.arena.Bytes(rec.Offset, rec.Size)
	record.View(buf).Destroy()
	return alloc.SpaceEntry{Offset: rec.Offset, Size: rec.Size}
}

// Start launches a background goroutine that runs TryCleanAll on interval
// until Stop is called.
func (c *Cleaner) Start(interval time.Duration) {
	c.wg.Add(1)
	go c.runBackground(interval)
}

func (c *Cleaner) runBackground(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.TryCleanAll()
		case <-c.stop:
			return
		}
	}
}

// Stop signals the background loop to exit and waits for it to finish.
func (c *Cleaner) Stop() {
	close(c.stop)
	c.wg.Wait()
	metrics.UnregisterSet(c.metricsSet, true)
}

// Stats reports the cleaner's current queue depths, for diagnostics.
type Stats struct {
	ReferredRecords  int
	PendingBatches   int
	PendingSpans     int
	LastCleanAllTS   uint64
}

// Stats returns a snapshot of the cleaner's internal queues.
func (c *Cleaner) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	spans := 0
	for _, b := range c.pending {
		spans += len(b.entries)
	}
	return Stats{
		ReferredRecords: len(c.dataReferred) + len(c.deleteReferred),
		PendingBatches:  len(c.pending),
		PendingSpans:    spans,
		LastCleanAllTS:  atomic.LoadUint64(&c.lastCleanAllTS),
	}
}
