// Package queue provides the bounded-waiting FIFO used between the
// transport and the pipeline. One mutex, one condition variable;
// WakeUp broadcasts so a shutdown can release every waiter without
// inventing a poison value.
package queue

import (
	"sync"
	"time"
)

// Queue is a FIFO of owned items safe for concurrent use.
type Queue[T any] struct {
	mu       sync.Mutex
	nonEmpty *sync.Cond
	items    []T

	// wakeGen increments on every WakeUp; a waiter that observes the
	// generation change returns the none sentinel instead of blocking
	// again. A counter rather than a flag so one broadcast releases
	// every waiter exactly once.
	wakeGen uint64
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.nonEmpty = sync.NewCond(&q.mu)
	return q
}

// Put appends one item and wakes a single waiter.
func (q *Queue[T]) Put(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.nonEmpty.Signal()
}

// PutMany appends a batch and wakes a single waiter. An empty batch is
// a no-op.
func (q *Queue[T]) PutMany(items []T) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()
	q.nonEmpty.Signal()
}

// GetNext blocks until an item is available or WakeUp is called. The
// second return value is false when the queue was woken empty; the
// first is then the zero value.
func (q *Queue[T]) GetNext() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	gen := q.wakeGen
	for len(q.items) == 0 && gen == q.wakeGen {
		q.nonEmpty.Wait()
	}
	return q.popLocked()
}

// GetNextWithTimeout waits up to d for an item. The second return
// value is false on timeout or wake-up without an element.
func (q *Queue[T]) GetNextWithTimeout(d time.Duration) (T, bool) {
	expired := false
	timer := time.AfterFunc(d, func() {
		q.mu.Lock()
		expired = true
		q.mu.Unlock()
		// Spurious for other waiters; they re-check and block again.
		q.nonEmpty.Broadcast()
	})
	defer timer.Stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	gen := q.wakeGen
	for len(q.items) == 0 && gen == q.wakeGen && !expired {
		q.nonEmpty.Wait()
	}
	return q.popLocked()
}

// Peek returns the head item without consuming it.
func (q *Queue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	return q.items[0], true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsEmpty reports whether the queue holds no items.
func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}

// WakeUp releases every blocked waiter. Waiters that find the queue
// empty return the none sentinel rather than blocking again.
func (q *Queue[T]) WakeUp() {
	q.mu.Lock()
	q.wakeGen++
	q.mu.Unlock()
	q.nonEmpty.Broadcast()
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero // release the reference
	q.items = q.items[1:]
	return item, true
}
