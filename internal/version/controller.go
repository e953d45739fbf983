// Package version implements the engine's Version Controller: a global
// monotonic timestamp source plus a registry of active snapshots, used to
// decide when an outdated record is no longer visible to any reader and
// can be safely reclaimed by the cleaner.
package version

import (
	"container/heap"
	"sync"
	"sync/atomic"
)

// snapshotItem is one entry in the active-snapshot min-heap, grounded in
// ValentinKolb-dKV's MapHeap (util/mapheap.go): a heap ordered by pinned
// timestamp, backed by a map for O(1) lookup by id (the heap removal
// itself is O(log n)).
type snapshotItem struct {
	id    uint64
	ts    uint64
	index int
}

type snapshotHeap struct {
	items []*snapshotItem
	byID  map[uint64]*snapshotItem
}

func newSnapshotHeap() *snapshotHeap {
	return &snapshotHeap{byID: make(map[uint64]*snapshotItem)}
}

func (h *snapshotHeap) Len() int            { return len(h.items) }
func (h *snapshotHeap) Less(i, j int) bool  { return h.items[i].ts < h.items[j].ts }
func (h *snapshotHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *snapshotHeap) Push(x interface{}) {
	it := x.(*snapshotItem)
	it.index = len(h.items)
	h.items = append(h.items, it)
	h.byID[it.id] = it
}

func (h *snapshotHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	h.items = old[:n-1]
	delete(h.byID, it.id)
	return it
}

// Snapshot is a pinned point-in-time value of the timestamp clock. The
// cleaner will not reclaim any record superseded after the oldest live
// snapshot. No read path filters records by a snapshot's TS.
type Snapshot struct {
	id uint64
	ts uint64
	vc *Controller
}

// TS returns the timestamp this snapshot pins.
func (s *Snapshot) TS() uint64 { return s.ts }

// Release un-pins the snapshot, allowing the controller to advance its
// oldest-active-snapshot watermark past it on the next update.
func (s *Snapshot) Release() {
	s.vc.release(s.id)
}

// Controller is the engine's Version Controller.
type Controller struct {
	currentTS uint64 // atomic monotonic clock

	mu          sync.Mutex
	active      *snapshotHeap
	nextSnapID  uint64
	oldestSnap  uint64 // guarded by oldestMu
	oldestMu    sync.RWMutex
}

// New creates a Controller with its clock starting at 1 (0 is reserved to
// mean "no timestamp yet").
func New() *Controller {
	return &Controller{
		currentTS: 0,
		active:    newSnapshotHeap(),
	}
}

// GetCurrentTimestamp atomically advances and returns the clock. Every
// write to the collection is stamped with a value from this call so
// timestamps are a strict, total write order.
func (c *Controller) GetCurrentTimestamp() uint64 {
	return atomic.AddUint64(&c.currentTS, 1)
}

// Acquire pins the current timestamp as a new snapshot and registers it as
// active until Release is called.
func (c *Controller) Acquire() *Snapshot {
	ts := atomic.LoadUint64(&c.currentTS)
	c.mu.Lock()
	id := c.nextSnapID
	c.nextSnapID++
	heap.Push(c.active, &snapshotItem{id: id, ts: ts})
	c.mu.Unlock()
	return &Snapshot{id: id, ts: ts, vc: c}
}

func (c *Controller) release(id uint64) {
	c.mu.Lock()
	if it, ok := c.active.byID[id]; ok {
		heap.Remove(c.active, it.index)
	}
	c.mu.Unlock()
}

// UpdatedOldestSnapshot recomputes the oldest-active-snapshot watermark. If
// there are no active snapshots, the current timestamp is used, meaning
// every committed record except the very latest becomes reclaimable.
func (c *Controller) UpdatedOldestSnapshot() {
	c.mu.Lock()
	var oldest uint64
	if c.active.Len() > 0 {
		oldest = c.active.items[0].ts
	} else {
		oldest = atomic.LoadUint64(&c.currentTS)
	}
	c.mu.Unlock()

	c.oldestMu.Lock()
	c.oldestSnap = oldest
	c.oldestMu.Unlock()
}

// OldestSnapshotTS returns the watermark computed by the most recent call
// to UpdatedOldestSnapshot. It is not recomputed on every call: callers
// (the cleaner) amortize the recomputation.
func (c *Controller) OldestSnapshotTS() uint64 {
	c.oldestMu.RLock()
	defer c.oldestMu.RUnlock()
	return c.oldestSnap
}

// ActiveSnapshotCount reports how many snapshots are currently pinned, for
// diagnostics/metrics.
func (c *Controller) ActiveSnapshotCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active.Len()
}
