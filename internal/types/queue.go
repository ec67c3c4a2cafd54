package types

import "sync"

// Queue is a thread-safe FIFO queue backed by a slice.
// The zero value is ready to use.
type Queue[T any] struct {
	mu   sync.Mutex
	data []T
}

// Push adds the element to the end of the queue.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.data = append(q.data, item)
	q.mu.Unlock()
}

// Drain returns all buffered elements in FIFO order and clears the queue.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.data) == 0 {
		return nil
	}
	out := q.data
	q.data = nil
	return out
}

// Len returns the current number of elements in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}
