// Package gate provides the readiness gate: a countdown that fans in a fixed
// number of asynchronous completions and fires a callback exactly once.
//
// The expected count is fixed at construction. Work cannot be added after
// signaling begins, so callers must size the gate before issuing any
// asynchronous request.
package gate

import (
	"log/slog"
	"sync"
)

// Gate counts down pending operations.
//
// Thread-safety: Signal may be called from any goroutine. onDone runs on the
// goroutine whose Signal brought the counter to zero, outside the gate lock,
// so it may safely signal other gates.
type Gate struct {
	mu        sync.Mutex
	remaining int
	expected  int
	fired     bool
	onDone    func()
	name      string
}

// Option configures a Gate.
type Option func(*Gate)

// WithName labels the gate in log output.
func WithName(name string) Option {
	return func(g *Gate) {
		g.name = name
	}
}

// New creates a gate expecting the given number of signals.
//
// If expected is zero (or negative) onDone fires synchronously before New
// returns.
func New(expected int, onDone func(), opts ...Option) *Gate {
	g := &Gate{
		remaining: expected,
		expected:  expected,
		onDone:    onDone,
	}
	for _, opt := range opts {
		opt(g)
	}

	if expected <= 0 {
		g.remaining = 0
		g.fire()
	}
	return g
}

// Signal records one completed operation.
//
// The first signal that brings the counter to zero fires onDone. Signals
// beyond the expected count are a bug in the caller: they are logged and
// otherwise ignored, onDone never fires twice.
func (g *Gate) Signal() {
	g.mu.Lock()
	g.remaining--
	remaining := g.remaining
	shouldFire := remaining == 0 && !g.fired
	if shouldFire {
		g.fired = true
	}
	g.mu.Unlock()

	if remaining < 0 {
		slog.Warn("readiness gate signaled more times than expected",
			"gate", g.name,
			"expected", g.expected,
			"remaining", remaining,
		)
		return
	}

	if shouldFire && g.onDone != nil {
		g.onDone()
	}
}

// SignalFunc returns a callback that signals the gate at most once.
// Use it when handing a completion callback to code that might call it
// twice by mistake.
func (g *Gate) SignalFunc() func() {
	var once sync.Once
	return func() {
		once.Do(g.Signal)
	}
}

func (g *Gate) fire() {
	g.mu.Lock()
	if g.fired {
		g.mu.Unlock()
		return
	}
	g.fired = true
	g.mu.Unlock()

	if g.onDone != nil {
		g.onDone()
	}
}
