// Package hashindex implements the engine's Hash Index: the sharded lookup
// table that maps an internal key to the offset of its most recent record
// on a collection's doubly-linked list.
//
// Grounded in ValentinKolb-dKV's sharded xsync.MapOf usage
// (lib/db/engines/maple/maple.go), generalized from a full KV engine down
// to an index-only structure, plus a striped lock table so AcquireLock has
// meaning distinct from the map's own internal striping: the dl-list and
// the index must serialize on the same per-key lock so a Put/Delete can
// atomically update both.
package hashindex

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/oba-hashkv/hashkv/internal/locktable"
	"github.com/oba-hashkv/hashkv/internal/record"
)

// hashSeed decorrelates this process's bucket distribution from another's;
// grounded in ValentinKolb-dKV's util.GenerateSeed/HashString pairing.
const hashSeed = 0x9e3779b97f4a7c15

// Entry is what the index stores for a key: which kind of record it
// resolves to and where that record currently lives in the arena. Status
// is not duplicated here; it lives in the record header itself, so a
// lock-free Get always sees the freshest status even if it raced a writer.
type Entry struct {
	Kind   record.Kind
	Offset uint64
}

// Index is the concrete Hash Index used by the collection.
type Index struct {
	m     *xsync.MapOf[string, *Entry]
	locks *locktable.Table
}

// New creates an empty Index with the given lock-table stripe count (0 for
// the default).
func New(lockStripes int) *Index {
	return &Index{
		m:     xsync.NewMapOf[string, *Entry](),
		locks: locktable.New(lockStripes),
	}
}

func fnv1a(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64) ^ hashSeed
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}

// AcquireLock locks the stripe guarding key, serializing all Put/Delete/
// Modify operations against that key with each other and with the
// underlying dl-list mutation.
func (ix *Index) AcquireLock(key string) locktable.Guard {
	return ix.locks.AcquireLock(fnv1a(key))
}

// Lookup returns the current entry for key, if any. It performs no
// locking: concurrent writers may be updating the entry, so callers that
// need a consistent view of both the index and the record it points to
// must re-validate the record's status after dereferencing it (as
// HashList::Get does in the original).
func (ix *Index) Lookup(key string) (*Entry, bool) {
	return ix.m.Load(key)
}

// Insert stores or overwrites the entry for key. Callers must hold the
// key's lock (via AcquireLock) before calling Insert.
func (ix *Index) Insert(key string, kind record.Kind, offset uint64) {
	ix.m.Store(key, &Entry{Kind: kind, Offset: offset})
}

// Erase removes key's entry from the index entirely. Callers must hold the
// key's lock before calling Erase.
func (ix *Index) Erase(key string) {
	ix.m.Delete(key)
}

// Len reports the number of entries currently indexed, for diagnostics.
func (ix *Index) Len() int {
	return ix.m.Size()
}

// Range calls f for every (key, entry) pair. Iteration order is
// unspecified and f must not mutate the index.
func (ix *Index) Range(f func(key string, e *Entry) bool) {
	ix.m.Range(f)
}
