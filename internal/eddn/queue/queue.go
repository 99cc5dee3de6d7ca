// Package queue provides the unbounded FIFO connecting the relay listener
// (sole producer) to the market-update applier (sole consumer).
package queue

import "sync"

// Queue is an unbounded ring-buffer FIFO. Push never fails and never
// blocks the producer; TryPop is non-blocking and reports emptiness.
// Safe for one producer and one consumer running concurrently.
type Queue[T any] struct {
	mu    sync.Mutex
	buf   []T
	head  int // read position
	tail  int // write position
	count int
}

// New creates a queue with the given initial capacity.
func New[T any](initialCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &Queue[T]{buf: make([]T, initialCapacity)}
}

// Push appends an item, growing the buffer when full.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == len(q.buf) {
		q.grow()
	}
	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
}

// TryPop removes and returns the oldest item, or reports that the queue
// is empty. It never blocks.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.count == 0 {
		return zero, false
	}
	item := q.buf[q.head]
	q.buf[q.head] = zero // release the reference
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return item, true
}

// Len returns the number of items currently queued.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// grow doubles capacity. Must be called with the lock held.
func (q *Queue[T]) grow() {
	newBuf := make([]T, len(q.buf)*2)
	if q.count > 0 {
		if q.head < q.tail {
			copy(newBuf, q.buf[q.head:q.tail])
		} else {
			n := copy(newBuf, q.buf[q.head:])
			copy(newBuf[n:], q.buf[:q.tail])
		}
	}
	q.buf = newBuf
	q.head = 0
	q.tail = q.count
}
