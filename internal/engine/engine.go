// Package engine is the composition root: it owns the arena allocator, the
// version controller, the cleaner, and the set of named hash collections,
// and is the layer responsible for feeding superseded records to the
// cleaner after every Put/Delete/Modify.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oba-hashkv/hashkv/internal/alloc"
	"github.com/oba-hashkv/hashkv/internal/cleaner"
	"github.com/oba-hashkv/hashkv/internal/hashcollection"
	"github.com/oba-hashkv/hashkv/internal/hashindex"
	"github.com/oba-hashkv/hashkv/internal/locktable"
	"github.com/oba-hashkv/hashkv/internal/logging"
	"github.com/oba-hashkv/hashkv/internal/record"
	"github.com/oba-hashkv/hashkv/internal/status"
	"github.com/oba-hashkv/hashkv/internal/version"
)

// Errors returned by Engine operations.
var (
	// ErrCollectionExists is returned by CreateCollection for a name
	// already in use.
	ErrCollectionExists = errors.New("engine: collection already exists")
	// ErrCollectionNotFound is returned when a named collection doesn't
	// exist.
	ErrCollectionNotFound = errors.New("engine: collection not found")
	// ErrClosed is returned by any operation on a closed Engine.
	ErrClosed = errors.New("engine: closed")
)

// Options configures a new Engine.
type Options struct {
	// ArenaPath, if non-empty, backs the arena with a file at this path.
	// If empty, the arena is an anonymous in-memory-only region (useful
	// for tests).
	ArenaPath string
	// ArenaInitialSize is the arena's initial mapped size, in bytes.
	ArenaInitialSize int64
	// CleanerShards is the number of worker-cache shards the cleaner
	// keeps (0 selects the cleaner's default).
	CleanerShards int
	// CleanerInterval is how often the background cleaner runs a full
	// TryCleanAll pass.
	CleanerInterval time.Duration
	// Logger receives structured diagnostics. Defaults to a no-op logger.
	Logger logging.Logger
}

// DefaultCleanerInterval is the cleaner's default background sweep period.
const DefaultCleanerInterval = 30 * time.Second

func (o *Options) setDefaults() {
	if o.ArenaInitialSize <= 0 {
		o.ArenaInitialSize = alloc.DefaultInitialSize
	}
	if o.CleanerInterval <= 0 {
		o.CleanerInterval = DefaultCleanerInterval
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
}

// Engine is the top-level handle applications use to open collections and
// perform reads and writes against them.
type Engine struct {
	opts    Options
	arena   alloc.Allocator
	vc      *version.Controller
	cleaner *cleaner.Cleaner
	log     logging.Logger

	// index is the one hash index shared by every collection the engine
	// opens. Collections key their entries by their own InternalKey (their
	// collection id prepended to the application key), so one table can
	// safely serve them all instead of each collection paying for its own.
	index *hashindex.Index

	mu          sync.RWMutex
	collections map[string]*hashcollection.HashCollection
	nextID      uint64 // atomic

	workerSeq uint64 // atomic, round-robins callers across cleaner shards

	closed int32
}

// Open creates a new Engine backed by the given options.
func Open(opts Options) (*Engine, error) {
	opts.setDefaults()

	var (
		arena *alloc.Arena
		err   error
	)
	if opts.ArenaPath != "" {
		arena, err = alloc.OpenFile(opts.ArenaPath, opts.ArenaInitialSize)
	} else {
		arena, err = alloc.OpenMemory(opts.ArenaInitialSize)
	}
	if err != nil {
		return nil, fmt.Errorf("engine: open arena: %w", err)
	}

	vc := version.New()
	allocator := alloc.NewArenaAllocator(arena)
	clean := cleaner.New(allocator, vc, opts.CleanerShards, "hashkv_cleaner")

	e := &Engine{
		opts:        opts,
		arena:       allocator,
		vc:          vc,
		cleaner:     clean,
		log:         opts.Logger,
		index:       hashindex.New(0),
		collections: make(map[string]*hashcollection.HashCollection),
	}
	e.cleaner.Start(opts.CleanerInterval)
	e.log.Info("engine opened", "arena_path", opts.ArenaPath)
	return e, nil
}

// nextWorker round-robins callers across the cleaner's shard array so
// concurrent goroutines don't all funnel through worker 0 (Go has no
// thread id to key shards by, unlike the original's access_thread.id).
func (e *Engine) nextWorker() int {
	return int(atomic.AddUint64(&e.workerSeq, 1))
}

// CreateCollection creates and registers a new, empty named collection.
func (e *Engine) CreateCollection(name string) (*hashcollection.HashCollection, error) {
	if atomic.LoadInt32(&e.closed) == 1 {
		return nil, ErrClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.collections[name]; exists {
		return nil, ErrCollectionExists
	}

	id := atomic.AddUint64(&e.nextID, 1)
	locks := locktable.New(0)
	ts := e.vc.GetCurrentTimestamp()

	coll, s := hashcollection.Create(name, id, e.arena, locks, e.index, e.vc, ts)
	if s != status.Ok {
		return nil, fmt.Errorf("engine: create collection %q: %s", name, s)
	}
	e.collections[name] = coll
	e.log.Info("collection created", "name", name, "id", id)
	return coll, nil
}

// Collection returns the named collection, if it exists.
func (e *Engine) Collection(name string) (*hashcollection.HashCollection, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.collections[name]
	return c, ok
}

// DropCollection destroys and unregisters the named collection, reclaiming
// every record (current and superseded) it holds.
func (e *Engine) DropCollection(name string) error {
	e.mu.Lock()
	coll, ok := e.collections[name]
	if !ok {
		e.mu.Unlock()
		return ErrCollectionNotFound
	}
	delete(e.collections, name)
	e.mu.Unlock()

	// Drop this collection's outstanding entries from the cleaner before
	// DestroyAll walks and frees the same records itself, otherwise the
	// cleaner's next pass would free them a second time.
	e.cleaner.CancelCollection(coll.ID())
	coll.DestroyAll()
	e.log.Info("collection dropped", "name", name)
	return nil
}

// Put inserts or overwrites key's value in the named collection.
func (e *Engine) Put(collection string, key, value []byte) (status.Status, error) {
	coll, ok := e.Collection(collection)
	if !ok {
		return status.NotFound, ErrCollectionNotFound
	}

	ts := e.vc.GetCurrentTimestamp()
	ret := coll.Put(key, value, ts)
	if ret.Status == status.Ok && ret.HasExisting && ret.ExistingWasNormal {
		e.pushSupersededDataRecord(coll, ret.ExistingOffset, ts)
	}
	return ret.Status, nil
}

// Get looks up key's current value in the named collection.
func (e *Engine) Get(collection string, key []byte) ([]byte, status.Status, error) {
	coll, ok := e.Collection(collection)
	if !ok {
		return nil, status.NotFound, ErrCollectionNotFound
	}
	value, s := coll.Get(key)
	return value, s, nil
}

// Delete supersedes key's current value with a tombstone in the named
// collection.
func (e *Engine) Delete(collection string, key []byte) (status.Status, error) {
	coll, ok := e.Collection(collection)
	if !ok {
		return status.NotFound, ErrCollectionNotFound
	}

	ts := e.vc.GetCurrentTimestamp()
	ret := coll.Delete(key, ts)
	if ret.Status != status.Ok {
		return ret.Status, nil
	}
	if ret.HasExisting {
		e.pushSupersededDataRecord(coll, ret.ExistingOffset, ts)
	}
	if ret.Wrote {
		e.cleaner.PushOldDeleteRecord(e.nextWorker(), cleaner.OldDeleteRecord{
			Key:            coll.InternalKey(key),
			Offset:         ret.WriteOffset,
			Size:           coll.RecordAt(ret.WriteOffset).Size(),
			NewerVersionTS: ts,
			Index:          coll.Index(),
			CollectionID:   coll.ID(),
		})
	}
	return status.Ok, nil
}

// Modify performs a read-modify-write against key in the named collection
// under its lock, pushing whatever the callback superseded to the cleaner.
func (e *Engine) Modify(collection string, key []byte, fn hashcollection.ModifyFunc) (status.Status, error) {
	coll, ok := e.Collection(collection)
	if !ok {
		return status.NotFound, ErrCollectionNotFound
	}

	ts := e.vc.GetCurrentTimestamp()
	ret := coll.Modify(key, fn, ts)
	if ret.Status == status.Ok && ret.HasExisting && ret.ExistingWasNormal {
		e.pushSupersededDataRecord(coll, ret.ExistingOffset, ts)
	}
	return ret.Status, nil
}

func (e *Engine) pushSupersededDataRecord(coll *hashcollection.HashCollection, offset, newerTS uint64) {
	if offset == record.NullOffset {
		return
	}
	e.cleaner.PushOldDataRecord(e.nextWorker(), cleaner.OldDataRecord{
		Offset:         offset,
		Size:           coll.RecordAt(offset).Size(),
		NewerVersionTS: newerTS,
		CollectionID:   coll.ID(),
	})
}

// Snapshot pins the current timestamp so the cleaner won't reclaim any
// record superseded after it while the snapshot is held. Get does not
// consult snapshots: it always returns the latest value.
func (e *Engine) Snapshot() *version.Snapshot {
	return e.vc.Acquire()
}

// CleanerStats reports the cleaner's current queue depths.
func (e *Engine) CleanerStats() cleaner.Stats {
	return e.cleaner.Stats()
}

// TriggerClean runs a synchronous, full cleaner pass immediately, useful
// for tests and administrative tooling that don't want to wait for the
// background interval.
func (e *Engine) TriggerClean() {
	e.cleaner.TryCleanAll()
}

// Close stops the cleaner and releases the arena's backing resources.
func (e *Engine) Close() error {
	if !atomic.CompareAndSwapInt32(&e.closed, 0, 1) {
		return nil
	}
	e.cleaner.Stop()
	e.log.Info("engine closed")
	return e.arena.Close()
}
