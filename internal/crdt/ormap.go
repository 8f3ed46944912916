package crdt

import "sort"

// orEntry is one key's current state in an ORMap: the id of whichever Put
// or Delete last won the key, the value (meaningless once tombstoned), and
// whether that last write was a delete.
type orEntry[V any] struct {
	id        ID
	value     V
	tombstone bool
}

// ORMap is a last-writer-wins observed-remove map: each key's value is
// whichever Put or Delete carries the highest ID, decided by ID.Less, so
// replicas converge on the same winner regardless of delivery order.
// fileTree, fileContents' path index, and activity are all instances of
// this one generic container — an "observed-remove map" contract needs
// nothing more specific than last-write-wins-by-id.
type ORMap[V any] struct {
	entries map[string]orEntry[V]
}

func NewORMap[V any]() *ORMap[V] {
	return &ORMap[V]{entries: make(map[string]orEntry[V])}
}

// Put applies a write of value under key with the given id. Returns false
// if the write was stale (an equal or lower id already won the key), in
// which case it was ignored — this is what makes re-applying the same
// update idempotent.
func (m *ORMap[V]) Put(key string, id ID, value V) bool {
	if cur, ok := m.entries[key]; ok && !id.Greater(cur.id) {
		return false
	}
	m.entries[key] = orEntry[V]{id: id, value: value}
	return true
}

// Delete tombstones key with the given id, subject to the same
// last-writer-wins rule as Put.
func (m *ORMap[V]) Delete(key string, id ID) bool {
	if cur, ok := m.entries[key]; ok && !id.Greater(cur.id) {
		return false
	}
	var zero V
	m.entries[key] = orEntry[V]{id: id, value: zero, tombstone: true}
	return true
}

// Get returns the live value for key, or ok=false if the key is absent or
// tombstoned.
func (m *ORMap[V]) Get(key string) (V, bool) {
	e, ok := m.entries[key]
	if !ok || e.tombstone {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Has reports whether key is currently live.
func (m *ORMap[V]) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Keys returns the live keys in sorted order, for deterministic iteration.
func (m *ORMap[V]) Keys() []string {
	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if !e.tombstone {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of live keys.
func (m *ORMap[V]) Len() int {
	n := 0
	for _, e := range m.entries {
		if !e.tombstone {
			n++
		}
	}
	return n
}
