// Package container implements the transition-driven state container that
// the replication coordinator wraps.
//
// A Container owns one state object, one transition function and a set of
// subscribers. State changes either by submitting an event to the transition
// function or through SetState/Update, which replace state directly and
// notify subscribers without running the transition function.
//
// Thread-safety model:
//   - Submit, SetState and Update are serialized (single writer)
//   - GetState and Transition may be called at any time, including from
//     inside a running transition function
//   - Subscribers are notified after the writer lock is released, so a
//     subscriber may submit further events
//   - Notifications are delivered one at a time in write order. A write made
//     while another goroutine is delivering (or from inside a subscriber) is
//     queued and delivered by that goroutine, so its notification may arrive
//     after the write returns
//   - A transition function must NOT call Submit synchronously; the writer
//     lock is not reentrant
package container

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/replicate/internal/ir"
)

// TransitionFunc computes the next state from the current state and an
// event. It must not mutate state in place: returning the same map signals
// "no change".
type TransitionFunc func(ctx context.Context, state ir.IRObject, ev ir.Event) (ir.IRObject, error)

// Listener is notified with the state that resulted from a write.
type Listener func(state ir.IRObject)

// ErrNilState is returned when a transition function yields a nil state.
var ErrNilState = errors.New("transition returned nil state")

// Container is a single-writer state holder.
type Container struct {
	writeMu sync.Mutex // serializes writers

	mu    sync.RWMutex // guards state and fn
	state ir.IRObject
	fn    TransitionFunc

	subMu   sync.Mutex
	subs    []subscription
	nextSub uint64

	deliverMu  sync.Mutex // guards outbox and delivering
	outbox     []ir.IRObject
	delivering bool
}

type subscription struct {
	id uint64
	fn Listener
}

// New creates a container with the given transition function and initial
// state. A nil initial state starts as an empty object.
func New(fn TransitionFunc, initial ir.IRObject) *Container {
	if initial == nil {
		initial = ir.IRObject{}
	}
	if fn == nil {
		fn = Identity
	}
	return &Container{
		state: initial,
		fn:    fn,
	}
}

// Identity is a transition function that never changes state.
func Identity(_ context.Context, state ir.IRObject, _ ir.Event) (ir.IRObject, error) {
	return state, nil
}

// GetState returns the current state. The returned map must be treated as
// read-only.
func (c *Container) GetState() ir.IRObject {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Transition returns the installed transition function.
func (c *Container) Transition() TransitionFunc {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fn
}

// ReplaceTransition installs a new transition function. Later submissions
// use it; state is untouched and no subscriber is notified.
func (c *Container) ReplaceTransition(fn TransitionFunc) {
	if fn == nil {
		fn = Identity
	}
	c.mu.Lock()
	c.fn = fn
	c.mu.Unlock()
}

// Submit applies ev through the transition function and notifies
// subscribers.
//
// On error the state is left unchanged, no subscriber is notified, and the
// error is returned as-is so structured errors survive errors.As.
func (c *Container) Submit(ctx context.Context, ev ir.Event) (ir.IRObject, error) {
	c.writeMu.Lock()

	fn := c.Transition()
	prev := c.GetState()

	next, err := fn(ctx, prev, ev)
	if err != nil {
		c.writeMu.Unlock()
		return prev, err
	}
	if next == nil {
		c.writeMu.Unlock()
		return prev, ErrNilState
	}

	c.commit(next)
	c.writeMu.Unlock()

	slog.Debug("event applied",
		"event_type", ev.Type,
		"event_id", ev.ID,
		"seq", ev.Seq,
		"changed", !ir.Same(prev, next),
	)

	c.deliver()
	return next, nil
}

// SetState replaces the state without running the transition function and
// notifies every subscriber exactly once.
func (c *Container) SetState(next ir.IRObject) {
	c.Update(func(ir.IRObject) ir.IRObject { return next })
}

// Update computes the next state from the current one under the writer lock,
// stores it and notifies subscribers once. compute must be pure; it must not
// call back into the container's write methods.
func (c *Container) Update(compute func(current ir.IRObject) ir.IRObject) ir.IRObject {
	c.writeMu.Lock()
	next := compute(c.GetState())
	if next == nil {
		next = ir.IRObject{}
	}
	c.commit(next)
	c.writeMu.Unlock()

	c.deliver()
	return next
}

// Subscribe registers a listener and returns a function that removes it.
// Listeners run in subscription order.
func (c *Container) Subscribe(l Listener) (cancel func()) {
	c.subMu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, subscription{id: id, fn: l})
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// commit stores next and queues its notification. Callers hold writeMu, so
// the outbox is in write order.
func (c *Container) commit(next ir.IRObject) {
	c.mu.Lock()
	c.state = next
	c.mu.Unlock()

	c.deliverMu.Lock()
	c.outbox = append(c.outbox, next)
	c.deliverMu.Unlock()
}

// deliver drains the outbox unless another call is already draining it.
func (c *Container) deliver() {
	c.deliverMu.Lock()
	if c.delivering {
		c.deliverMu.Unlock()
		return
	}
	c.delivering = true

	for len(c.outbox) > 0 {
		state := c.outbox[0]
		c.outbox = c.outbox[1:]
		c.deliverMu.Unlock()

		c.notify(state)

		c.deliverMu.Lock()
	}
	c.delivering = false
	c.deliverMu.Unlock()
}

func (c *Container) notify(state ir.IRObject) {
	c.subMu.Lock()
	subs := make([]subscription, len(c.subs))
	copy(subs, c.subs)
	c.subMu.Unlock()

	for _, s := range subs {
		s.fn(state)
	}
}
