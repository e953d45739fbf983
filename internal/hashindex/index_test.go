package hashindex

import (
	"testing"
	"time"

	"github.com/oba-hashkv/hashkv/internal/record"
)

func TestInsertLookupErase(t *testing.T) {
	ix := New(0)

	if _, found := ix.Lookup("foo"); found {
		t.Fatal("expected no entry for unset key")
	}

	ix.Insert("foo", record.KindElem, 123)
	entry, found := ix.Lookup("foo")
	if !found {
		t.Fatal("expected entry after Insert")
	}
	if entry.Kind != record.KindElem || entry.Offset != 123 {
		t.Errorf("expected {KindElem, 123}, got %+v", entry)
	}

	ix.Erase("foo")
	if _, found := ix.Lookup("foo"); found {
		t.Error("expected no entry after Erase")
	}
}

func TestInsertOverwritesExistingEntry(t *testing.T) {
	ix := New(0)
	ix.Insert("k", record.KindElem, 1)
	ix.Insert("k", record.KindElem, 2)

	entry, _ := ix.Lookup("k")
	if entry.Offset != 2 {
		t.Errorf("expected overwritten offset 2, got %d", entry.Offset)
	}
}

func TestLen(t *testing.T) {
	ix := New(0)
	if ix.Len() != 0 {
		t.Fatalf("expected 0, got %d", ix.Len())
	}
	ix.Insert("a", record.KindElem, 1)
	ix.Insert("b", record.KindElem, 2)
	if ix.Len() != 2 {
		t.Errorf("expected 2, got %d", ix.Len())
	}
	ix.Erase("a")
	if ix.Len() != 1 {
		t.Errorf("expected 1, got %d", ix.Len())
	}
}

func TestRangeVisitsAllEntries(t *testing.T) {
	ix := New(0)
	want := map[string]uint64{"a": 1, "b": 2, "c": 3}
	for k, off := range want {
		ix.Insert(k, record.KindElem, off)
	}

	got := make(map[string]uint64)
	ix.Range(func(key string, e *Entry) bool {
		got[key] = e.Offset
		return true
	})
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for k, off := range want {
		if got[k] != off {
			t.Errorf("key %q: expected offset %d, got %d", k, off, got[k])
		}
	}
}

func TestAcquireLockGuardsInsert(t *testing.T) {
	ix := New(4)

	guard := ix.AcquireLock("k")
	done := make(chan struct{})
	go func() {
		g := ix.AcquireLock("k")
		ix.Insert("k", record.KindElem, 99)
		g.Unlock()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("concurrent AcquireLock on the same key proceeded before Unlock")
	case <-time.After(30 * time.Millisecond):
	}
	guard.Unlock()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("concurrent AcquireLock never proceeded after Unlock")
	}

	entry, found := ix.Lookup("k")
	if !found || entry.Offset != 99 {
		t.Errorf("expected entry {KindElem, 99}, got found=%v entry=%+v", found, entry)
	}
}
