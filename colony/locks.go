/*
locks.go - Per-key serialization for stock operations

PURPOSE:
  Two concurrent transfers draining the same source stock must not both
  pass the sufficiency check against a stale read. The engine holds a
  per-(dome, resource) mutex across the whole check-then-act sequence,
  so the check and the debit it authorizes see the same state.

DEADLOCK AVOIDANCE:
  A transfer touches two keys (source and destination). Two transfers
  running in opposite directions between the same dome pair would
  deadlock if each grabbed its source first. Locks are therefore always
  acquired in canonical (lexicographic) key order.
*/
package colony

import (
	"sort"
	"sync"
)

// stockKey identifies one lockable stock row.
type stockKey struct {
	Dome     DomeID
	Resource ResourceID
}

func (k stockKey) less(o stockKey) bool {
	if k.Dome != o.Dome {
		return k.Dome < o.Dome
	}
	return k.Resource < o.Resource
}

// keyLocks hands out one mutex per stock key. Mutexes are never removed;
// the key space (domes x resources) is small and bounded.
type keyLocks struct {
	mu    sync.Mutex
	locks map[stockKey]*sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[stockKey]*sync.Mutex)}
}

func (kl *keyLocks) get(k stockKey) *sync.Mutex {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	m, ok := kl.locks[k]
	if !ok {
		m = &sync.Mutex{}
		kl.locks[k] = m
	}
	return m
}

// lockAll acquires every key's mutex in canonical order and returns an
// unlock function. Duplicate keys are collapsed so a key is never locked
// twice in one call.
func (kl *keyLocks) lockAll(keys ...stockKey) (unlock func()) {
	uniq := make([]stockKey, 0, len(keys))
	seen := make(map[stockKey]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			uniq = append(uniq, k)
		}
	}

	sort.Slice(uniq, func(i, j int) bool { return uniq[i].less(uniq[j]) })

	locked := make([]*sync.Mutex, 0, len(uniq))
	for _, k := range uniq {
		m := kl.get(k)
		m.Lock()
		locked = append(locked, m)
	}

	return func() {
		// Release in reverse acquisition order.
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].Unlock()
		}
	}
}
