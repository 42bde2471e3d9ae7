package runtime

import (
	"sync"
)

// Queue is an unbounded FIFO drained by a single dispatcher goroutine that
// hands each item to the handler in enqueue order.
type Queue[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []T
	closed  bool
	paused  bool
	handler func(T)
	onExit  func()
	done    chan struct{}
}

// NewQueue starts a dispatcher that calls handler for each item. onExit,
// when non-nil, runs on the dispatcher goroutine after it stops.
func NewQueue[T any](handler func(T), onExit func()) *Queue[T] {
	q := &Queue[T]{
		handler: handler,
		onExit:  onExit,
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.dispatch()
	return q
}

// Enqueue appends an item and wakes the dispatcher. It never blocks and
// reports false once the queue is closed.
func (q *Queue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, item)
	q.cond.Signal()
	return true
}

// SetPaused gates dispatching. Items enqueued while paused are held in order.
func (q *Queue[T]) SetPaused(v bool) {
	q.mu.Lock()
	q.paused = v
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Close stops the dispatcher. Pending items are dropped; an item already
// handed to the handler finishes first.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Done is closed once the dispatcher goroutine has exited.
func (q *Queue[T]) Done() <-chan struct{} { return q.done }

func (q *Queue[T]) dispatch() {
	defer close(q.done)
	if q.onExit != nil {
		defer q.onExit()
	}

	for {
		q.mu.Lock()
		for !q.closed && (q.paused || len(q.items) == 0) {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()

		q.handler(item)
	}
}
