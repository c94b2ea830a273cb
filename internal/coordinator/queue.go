package coordinator

import (
	"context"
	"sync"

	"github.com/roach88/replicate/internal/ir"
)

// pendingEvent is an event accepted by Dispatch before readiness.
//
// ctx is detached from the caller's cancellation: the caller has already
// returned by the time the event is flushed, but its values (trace IDs,
// loggers) still travel with the event.
type pendingEvent struct {
	ctx context.Context
	ev  ir.Event
}

// pendingQueue is a thread-safe FIFO of events awaiting readiness.
//
// The queue is unbounded: replicators may take arbitrarily long to hydrate
// and callers must never block on them. It is flushed exactly once and
// closed afterwards; Enqueue on a closed queue reports false so the caller
// dispatches directly instead.
type pendingQueue struct {
	mu     sync.Mutex
	events []pendingEvent
	closed bool
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{
		events: make([]pendingEvent, 0, 16),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *pendingQueue) Enqueue(e pendingEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)
	return true
}

// TryDequeue removes and returns the front event without blocking.
func (q *pendingQueue) TryDequeue() (pendingEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return pendingEvent{}, false
	}

	e := q.events[0]

	// Release the slot so the flushed event's args can be collected.
	q.events[0] = pendingEvent{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// CloseIfEmpty closes the queue when nothing is left to flush.
// Returns true if the queue is (now) closed.
func (q *pendingQueue) CloseIfEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) > 0 {
		return false
	}
	q.closed = true
	return true
}

// Len returns the number of queued events.
func (q *pendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
