// Package syncutil provides concurrency-safe containers.
package syncutil

import (
	"iter"
	"maps"
	"slices"
	"sync"
)

// RWMap is a thread-safe map protected by a [sync.RWMutex].
// The zero value is ready to use.
type RWMap[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]V
}

// Get returns the value stored under the key.
func (m *RWMap[K, V]) Get(key K) (V, bool) {
	if m == nil {
		var zero V
		return zero, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

// Set stores the value under the key, replacing any previous value.
func (m *RWMap[K, V]) Set(key K, val V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[K]V)
	}
	m.data[key] = val
}

// GetOrSet returns the existing value for the key if present.
// Otherwise, it stores and returns the given value.
// The loaded result is true if the value was loaded, false if stored.
func (m *RWMap[K, V]) GetOrSet(key K, val V) (actual V, loaded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, true
	}
	if m.data == nil {
		m.data = make(map[K]V)
	}
	m.data[key] = val
	return val, false
}

// Del removes the key.
func (m *RWMap[K, V]) Del(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

// DelFunc removes the key only if fn reports true for the stored value.
func (m *RWMap[K, V]) DelFunc(key K, fn func(V) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok && fn(v) {
		delete(m.data, key)
		return true
	}
	return false
}

// Has reports whether the key is present.
func (m *RWMap[K, V]) Has(key K) bool {
	if m == nil {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok
}

// Clear removes all keys.
func (m *RWMap[K, V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.data)
}

// Len returns the number of stored keys.
func (m *RWMap[K, V]) Len() int {
	if m == nil {
		return 0
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// All iterates over a snapshot of the map.
func (m *RWMap[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		if m == nil {
			return
		}

		m.mu.RLock()
		data := maps.Clone(m.data)
		m.mu.RUnlock()

		for k, v := range data {
			if !yield(k, v) {
				return
			}
		}
	}
}

// Values returns a snapshot of the stored values in unspecified order.
func (m *RWMap[K, V]) Values() []V {
	if m == nil {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Collect(maps.Values(m.data))
}
