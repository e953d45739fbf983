package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oba-hashkv/hashkv/internal/hashcollection"
	"github.com/oba-hashkv/hashkv/internal/status"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(Options{
		ArenaInitialSize: 1 << 20,
		CleanerInterval:  time.Hour, // background pass never fires; tests trigger it explicitly
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestCreateAndGetCollection(t *testing.T) {
	e := openTestEngine(t)

	coll, err := e.CreateCollection("widgets")
	require.NoError(t, err)
	require.Equal(t, "widgets", coll.Name())

	got, ok := e.Collection("widgets")
	require.True(t, ok)
	require.Same(t, coll, got)
}

func TestCreateCollectionDuplicateFails(t *testing.T) {
	e := openTestEngine(t)
	_, err := e.CreateCollection("widgets")
	require.NoError(t, err)

	_, err = e.CreateCollection("widgets")
	require.ErrorIs(t, err, ErrCollectionExists)
}

func TestPutGetDeleteThroughEngine(t *testing.T) {
	e := openTestEngine(t)
	_, err := e.CreateCollection("widgets")
	require.NoError(t, err)

	s, err := e.Put("widgets", []byte("k"), []byte("v"))
	require.NoError(t, err)
	require.Equal(t, status.Ok, s)

	value, s, err := e.Get("widgets", []byte("k"))
	require.NoError(t, err)
	require.Equal(t, status.Ok, s)
	require.Equal(t, []byte("v"), value)

	s, err = e.Delete("widgets", []byte("k"))
	require.NoError(t, err)
	require.Equal(t, status.Ok, s)

	_, s, err = e.Get("widgets", []byte("k"))
	require.NoError(t, err)
	require.Equal(t, status.NotFound, s)
}

func TestOperationsOnUnknownCollectionFail(t *testing.T) {
	e := openTestEngine(t)

	_, err := e.Put("ghost", []byte("k"), []byte("v"))
	require.ErrorIs(t, err, ErrCollectionNotFound)

	_, _, err = e.Get("ghost", []byte("k"))
	require.ErrorIs(t, err, ErrCollectionNotFound)

	_, err = e.Delete("ghost", []byte("k"))
	require.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestModifyThroughEngine(t *testing.T) {
	e := openTestEngine(t)
	e.CreateCollection("widgets")

	s, err := e.Modify("widgets", []byte("k"), func(existing []byte, exists bool) (hashcollection.ModifyOp, []byte) {
		require.False(t, exists)
		return hashcollection.ModifyWrite, []byte("v1")
	})
	require.NoError(t, err)
	require.Equal(t, status.Ok, s)

	value, _, _ := e.Get("widgets", []byte("k"))
	require.Equal(t, []byte("v1"), value)
}

func TestDropCollectionRemovesItAndFreesSpace(t *testing.T) {
	e := openTestEngine(t)
	e.CreateCollection("widgets")
	e.Put("widgets", []byte("k"), []byte("v"))

	require.NoError(t, e.DropCollection("widgets"))

	_, ok := e.Collection("widgets")
	require.False(t, ok)

	err := e.DropCollection("widgets")
	require.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestPutSupersededRecordIsEventuallyReclaimed(t *testing.T) {
	e := openTestEngine(t)
	e.CreateCollection("widgets")

	e.Put("widgets", []byte("k"), []byte("v1"))
	e.Put("widgets", []byte("k"), []byte("v2"))

	e.TriggerClean()

	value, s, _ := e.Get("widgets", []byte("k"))
	require.Equal(t, status.Ok, s)
	require.Equal(t, []byte("v2"), value, "reclaiming the superseded version must not disturb the live one")
}

func TestSnapshotProtectsSupersededVersionFromReclaim(t *testing.T) {
	e := openTestEngine(t)
	e.CreateCollection("widgets")
	e.Put("widgets", []byte("k"), []byte("v1"))

	snap := e.Snapshot()
	e.Put("widgets", []byte("k"), []byte("v2"))
	e.TriggerClean()

	stats := e.CleanerStats()
	require.Greater(t, stats.ReferredRecords, 0, "superseded record visible to an active snapshot should remain referred")

	snap.Release()
	e.TriggerClean()
	value, _, _ := e.Get("widgets", []byte("k"))
	require.Equal(t, []byte("v2"), value)
}

func TestReinsertAfterDeleteDoesNotDoublePushTombstone(t *testing.T) {
	e := openTestEngine(t)
	e.CreateCollection("widgets")

	e.Put("widgets", []byte("k"), []byte("v1"))
	e.Delete("widgets", []byte("k"))
	e.Put("widgets", []byte("k"), []byte("v2"))

	// A Put landing on the tombstone Delete just installed must not queue
	// that tombstone a second time: it was already pushed as a delete
	// record. The cleaner passes free the superseded v1; the lone
	// tombstone stays in its worker cache, below the steal threshold, so
	// no pass hands its span to the allocator.
	e.TriggerClean()
	e.TriggerClean()

	value, s, _ := e.Get("widgets", []byte("k"))
	require.Equal(t, status.Ok, s)
	require.Equal(t, []byte("v2"), value, "double-freeing the tombstone's span must not corrupt the live value")
}

func TestModifyDeleteOfTombstoneDoesNotDoublePush(t *testing.T) {
	e := openTestEngine(t)
	e.CreateCollection("widgets")

	e.Put("widgets", []byte("k"), []byte("v1"))
	e.Delete("widgets", []byte("k"))

	s, err := e.Modify("widgets", []byte("k"), func(existing []byte, exists bool) (hashcollection.ModifyOp, []byte) {
		require.False(t, exists, "a tombstoned key must look absent to Modify")
		return hashcollection.ModifyDelete, nil
	})
	require.NoError(t, err)
	require.Equal(t, status.Ok, s)

	e.TriggerClean()
	e.TriggerClean()

	_, s, _ = e.Get("widgets", []byte("k"))
	require.Equal(t, status.NotFound, s)
}

func TestDropCollectionCancelsOutstandingCleanerEntries(t *testing.T) {
	e := openTestEngine(t)
	e.CreateCollection("widgets")

	e.Put("widgets", []byte("k"), []byte("v1"))
	e.Put("widgets", []byte("k"), []byte("v2")) // queues v1 as an OldDataRecord
	e.Delete("widgets", []byte("k2"))            // absent key: a no-op that queues nothing

	require.NoError(t, e.DropCollection("widgets"))

	// DestroyAll already freed every record this collection ever held,
	// including the superseded v1. A subsequent cleaner pass must not find
	// and re-free the same span through the cancelled queue entry.
	require.NotPanics(t, func() {
		e.TriggerClean()
		e.TriggerClean()
	})
}

func TestCloseIsIdempotent(t *testing.T) {
	e, err := Open(Options{ArenaInitialSize: 1 << 20, CleanerInterval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}
