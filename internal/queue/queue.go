// Package queue implements the single-slot, bounded, blocking queue that
// decouples InsertStream's socket reader from its insert worker
// (spec.md §4.2).
package queue

import "sync"

// Queue is a capacity-1 blocking queue with two independent close signals:
//
//   - Close makes every blocked or future Push fail immediately. The reader
//     goroutine observes this and exits (spec.md: "On any exit path the
//     queue is closed ... causing the reader task to observe push failure
//     and terminate.").
//   - SetLastItemPushed tells Pop that no further items are coming once the
//     single slot has drained, so Pop can return ok=false instead of
//     blocking forever (spec.md: "pop returns false once the queue is
//     drained and marked last.").
type Queue[T any] struct {
	mu         sync.Mutex
	cond       *sync.Cond
	slot       T
	full       bool
	closed     bool
	lastPushed bool
}

// New creates an empty, open queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push blocks until the slot is free, then stores item. It returns false
// without storing item if the queue is closed, whether already closed or
// closed while waiting.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.full && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return false
	}

	q.slot = item
	q.full = true
	q.cond.Broadcast()
	return true
}

// SetLastItemPushed records that the reader has nothing more to push. Pop
// will drain whatever is currently queued and then return ok=false instead
// of blocking.
func (q *Queue[T]) SetLastItemPushed() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastPushed = true
	q.cond.Broadcast()
}

// Pop blocks until an item is available, then returns it with ok=true. It
// returns the zero value and ok=false once the slot is empty and
// SetLastItemPushed has been called, meaning the stream is fully drained.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.full && !q.lastPushed {
		q.cond.Wait()
	}

	if q.full {
		item := q.slot
		var zero T
		q.slot = zero
		q.full = false
		q.cond.Broadcast()
		return item, true
	}

	var zero T
	return zero, false
}

// Close closes the queue, causing any blocked or future Push to fail and
// return false. Safe to call more than once and concurrently with Push/Pop.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
