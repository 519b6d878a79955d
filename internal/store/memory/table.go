package memory

import "sync"

// table is the view of one committed map seen by a unit of work. Writes are
// staged and only reach base when the unit commits.
type table[K comparable, V any] struct {
	mu     *sync.RWMutex
	base   map[K]V
	staged map[K]change[V]
}

type change[V any] struct {
	val     V
	deleted bool
	created bool
}

func newTable[K comparable, V any](mu *sync.RWMutex, base map[K]V) *table[K, V] {
	return &table[K, V]{mu: mu, base: base, staged: make(map[K]change[V])}
}

func (t *table[K, V]) get(k K) (V, bool) {
	if c, ok := t.staged[k]; ok {
		if c.deleted {
			var zero V
			return zero, false
		}
		return c.val, true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.base[k]
	return v, ok
}

// insert stages a new row. It reports false if the key is already visible.
func (t *table[K, V]) insert(k K, v V) bool {
	if _, ok := t.get(k); ok {
		return false
	}
	t.staged[k] = change[V]{val: v, created: true}
	return true
}

func (t *table[K, V]) put(k K, v V) {
	c := t.staged[k]
	t.staged[k] = change[V]{val: v, created: c.created}
}

// remove stages a delete. It reports false if the key is not visible.
func (t *table[K, V]) remove(k K) bool {
	if _, ok := t.get(k); !ok {
		return false
	}
	c := t.staged[k]
	if c.created {
		delete(t.staged, k)
		return true
	}
	t.staged[k] = change[V]{deleted: true}
	return true
}

// rows returns a copy of every visible row.
func (t *table[K, V]) rows() []V {
	t.mu.RLock()
	out := make([]V, 0, len(t.base)+len(t.staged))
	for k, v := range t.base {
		if _, ok := t.staged[k]; !ok {
			out = append(out, v)
		}
	}
	t.mu.RUnlock()
	for _, c := range t.staged {
		if !c.deleted {
			out = append(out, c.val)
		}
	}
	return out
}

// conflicts reports a staged insert whose key was committed by another unit
// after it was staged. Callers hold the write lock.
func (t *table[K, V]) conflicts() (K, bool) {
	for k, c := range t.staged {
		if !c.created {
			continue
		}
		if _, ok := t.base[k]; ok {
			return k, true
		}
	}
	var zero K
	return zero, false
}

// apply writes the staged changes into base. Callers hold the write lock.
func (t *table[K, V]) apply() {
	for k, c := range t.staged {
		if c.deleted {
			delete(t.base, k)
			continue
		}
		t.base[k] = c.val
	}
}
