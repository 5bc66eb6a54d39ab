// Package queue holds sessions waiting for an operator.
package queue

import "sync"

// Item is anything with a stable identity.
type Item interface {
	ID() string
}

// HoldQueue is a FIFO of unique items. It is safe for concurrent use.
type HoldQueue[T Item] struct {
	mu    sync.Mutex
	items []T
}

// New creates an empty hold queue.
func New[T Item]() *HoldQueue[T] {
	return &HoldQueue[T]{}
}

// Enqueue appends item at the tail. It returns false if an item with the
// same id is already queued.
func (q *HoldQueue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, it := range q.items {
		if it.ID() == item.ID() {
			return false
		}
	}
	q.items = append(q.items, item)
	return true
}

// Pop removes and returns the head.
func (q *HoldQueue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	head := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return head, true
}

// Remove drops the item with the given id. Removing an absent id is a no-op.
func (q *HoldQueue[T]) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, it := range q.items {
		if it.ID() == id {
			q.items = append(q.items[:i:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether id is queued.
func (q *HoldQueue[T]) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, it := range q.items {
		if it.ID() == id {
			return true
		}
	}
	return false
}

// Len returns the number of queued items.
func (q *HoldQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a snapshot of the queue in FIFO order.
func (q *HoldQueue[T]) Items() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]T(nil), q.items...)
}
