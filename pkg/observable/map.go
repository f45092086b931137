package observable

import "maps"

// Map is an observable string-keyed map. Every change produces a fresh map, so
// a map handed to a subscriber is never modified afterwards. Subscribers must
// not modify it either.
type Map[V any] struct {
	value *Value[map[string]V]
}

// NewMap returns an empty Map.
func NewMap[V any]() *Map[V] {
	return &Map[V]{value: NewValue(map[string]V{})}
}

// Get returns the current map.
func (m *Map[V]) Get() map[string]V {
	return m.value.Get()
}

// Lookup returns the entry for key.
func (m *Map[V]) Lookup(key string) (V, bool) {
	v, ok := m.value.Get()[key]
	return v, ok
}

// Len returns the number of entries.
func (m *Map[V]) Len() int {
	return len(m.value.Get())
}

// Set stores v under key.
func (m *Map[V]) Set(key string, v V) {
	m.value.update(func(cur map[string]V) (map[string]V, bool) {
		next := maps.Clone(cur)
		next[key] = v
		return next, true
	})
}

// Delete removes key. Subscribers are only notified when the key existed.
func (m *Map[V]) Delete(key string) {
	m.value.update(func(cur map[string]V) (map[string]V, bool) {
		if _, ok := cur[key]; !ok {
			return cur, false
		}
		next := maps.Clone(cur)
		delete(next, key)
		return next, true
	})
}

// Reset removes the given keys, or every key when called without arguments.
func (m *Map[V]) Reset(keys ...string) {
	m.value.update(func(cur map[string]V) (map[string]V, bool) {
		if len(keys) == 0 {
			return map[string]V{}, len(cur) > 0
		}
		next := maps.Clone(cur)
		for _, k := range keys {
			delete(next, k)
		}
		return next, len(next) != len(cur)
	})
}

// Subscribe registers fn and calls it with the current map.
func (m *Map[V]) Subscribe(fn func(map[string]V)) (unsubscribe func()) {
	return m.value.Subscribe(fn)
}
