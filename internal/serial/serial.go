// Package serial provides a goroutine-free serial execution context.
//
// Work submitted with Do runs one item at a time in submission order.
// The goroutine that finds the queue idle drains it; any other goroutine
// submitting meanwhile only enqueues and returns. Work submitted from
// inside a running item is appended and runs after that item returns,
// so re-entrant submission never deadlocks.
package serial

import "sync"

type Queue struct {
	mu      sync.Mutex
	pending []func()
	running bool
}

// Do submits fn. If no other goroutine is draining the queue, fn (and
// anything queued behind it) runs before Do returns.
func (q *Queue) Do(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	q.drain()
}

func (q *Queue) drain() {
	defer func() {
		// Keep the queue usable if an item panics.
		if r := recover(); r != nil {
			q.mu.Lock()
			q.running = false
			q.mu.Unlock()
			panic(r)
		}
	}()

	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		next := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		next()
	}
}
