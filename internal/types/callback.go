package types

import (
	"iter"
	"slices"
	"sync"
)

// CallbackManager keeps an ordered set of subscriber callbacks.
// The zero value is ready to use. All methods are safe for concurrent use.
type CallbackManager[T any] struct {
	mu     sync.RWMutex
	cbs    []callback[T]
	nextID uint64
}

type callback[T any] struct {
	id uint64
	cb T
}

// Len returns the number of registered callbacks.
func (m *CallbackManager[T]) Len() int {
	if m == nil {
		return 0
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cbs)
}

// Add registers the callback and returns a function that removes it.
// The remove function is idempotent.
func (m *CallbackManager[T]) Add(cb T) (remove func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.cbs = append(m.cbs, callback[T]{id, cb})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.cbs = slices.DeleteFunc(m.cbs, func(c callback[T]) bool { return c.id == id })
			m.mu.Unlock()
		})
	}
}

// Clear removes all callbacks.
func (m *CallbackManager[T]) Clear() {
	if m == nil {
		return
	}

	m.mu.Lock()
	m.cbs = nil
	m.mu.Unlock()
}

// All iterates over a snapshot of callbacks in registration order.
// Callbacks added or removed during iteration do not affect it.
func (m *CallbackManager[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		if m == nil {
			return
		}

		m.mu.RLock()
		cbs := make([]T, len(m.cbs))
		for i, c := range m.cbs {
			cbs[i] = c.cb
		}
		m.mu.RUnlock()

		for _, cb := range cbs {
			if !yield(cb) {
				return
			}
		}
	}
}
