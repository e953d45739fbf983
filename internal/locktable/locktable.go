// Package locktable provides a fixed-size table of striped spin-locks keyed
// by a 64-bit hash, shared by the doubly-linked record list and the hash
// index so that a record's position on the list and its entry in the index
// can be locked by the same primitive without a lock per record.
package locktable

import (
	"runtime"
	"sort"
	"sync"
)

// spinMutex is a small busy-wait mutex, cheaper than sync.Mutex for the very
// short critical sections dl-list linkage updates need.
type spinMutex struct {
	mu sync.Mutex
}

func (m *spinMutex) Lock() {
	for i := 0; !m.tryLock(); i++ {
		if i < 4 {
			continue
		}
		runtime.Gosched()
	}
}

func (m *spinMutex) tryLock() bool {
	return m.mu.TryLock()
}

func (m *spinMutex) Unlock() { m.mu.Unlock() }

// Table is a fixed-size array of spin-locks. A key is mapped to a stripe by
// hashing it modulo the table size; unrelated keys may collide onto the
// same stripe, which only ever costs extra contention, never correctness,
// since callers re-validate structural invariants after acquiring a lock.
type Table struct {
	stripes []spinMutex
	mask    uint64
}

// DefaultSize is the number of stripes used when none is specified. It is a
// power of two so key-to-stripe mapping is a cheap mask.
const DefaultSize = 4096

// New creates a Table with size stripes, rounded up to the next power of
// two.
func New(size int) *Table {
	if size <= 0 {
		size = DefaultSize
	}
	n := 1
	for n < size {
		n <<= 1
	}
	return &Table{
		stripes: make([]spinMutex, n),
		mask:    uint64(n - 1),
	}
}

func (t *Table) stripe(key uint64) *spinMutex {
	return &t.stripes[key&t.mask]
}

// Guard releases the lock(s) it was returned from.
type Guard interface {
	Unlock()
}

type singleGuard struct{ m *spinMutex }

func (g singleGuard) Unlock() { g.m.Unlock() }

// AcquireLock locks the stripe for key and returns a guard to release it.
func (t *Table) AcquireLock(key uint64) Guard {
	m := t.stripe(key)
	m.Lock()
	return singleGuard{m}
}

type multiGuard struct{ ms []*spinMutex }

func (g multiGuard) Unlock() {
	for i := len(g.ms) - 1; i >= 0; i-- {
		g.ms[i].Unlock()
	}
}

// MultiGuard locks the stripes for all given keys, in a canonical order (by
// stripe index, deduplicated) so that concurrent MultiGuard calls over
// overlapping key sets can never deadlock.
func (t *Table) MultiGuard(keys []uint64) Guard {
	idx := make([]uint64, 0, len(keys))
	seen := make(map[uint64]bool, len(keys))
	for _, k := range keys {
		s := k & t.mask
		if !seen[s] {
			seen[s] = true
			idx = append(idx, s)
		}
	}
	sort.Slice(idx, func(i, j int) bool { return idx[i] < idx[j] })
	ms := make([]*spinMutex, len(idx))
	for i, s := range idx {
		ms[i] = &t.stripes[s]
	}
	for _, m := range ms {
		m.Lock()
	}
	return multiGuard{ms}
}
