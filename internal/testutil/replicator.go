package testutil

import (
	"context"
	"sync"

	"github.com/roach88/replicate/internal/coordinator"
	"github.com/roach88/replicate/internal/ir"
	"github.com/roach88/replicate/internal/selector"
)

// Call records one hook invocation on a scripted Replicator.
type Call struct {
	Hook  string
	Key   coordinator.Key
	Prev  ir.IRValue
	Next  ir.IRValue
	Event string
}

// Replicator is a scripted replicator for tests.
//
// It answers GetInitialState from values stored with Store/StoreState and
// records every hook call. With Hold, answers are parked until Release is
// called, which models a slow backend without timers.
//
// It implements every hook except Init (see WithInit) and Fields (see
// Scoped), so wrapping it never changes the readiness gate size by accident.
type Replicator struct {
	label string

	mu       sync.Mutex
	stored   map[string]ir.IRValue
	hold     bool
	held     []func()
	calls    []Call
	requests []coordinator.Key
	failures map[string]error
}

// NewReplicator creates a replicator named label.
func NewReplicator(label string) *Replicator {
	return &Replicator{
		label:    label,
		stored:   make(map[string]ir.IRValue),
		failures: make(map[string]error),
	}
}

// Store sets the value answered for field in field mode.
func (r *Replicator) Store(field string, v ir.IRValue) *Replicator {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stored[field] = v
	return r
}

// StoreState sets the value answered in whole-state mode.
func (r *Replicator) StoreState(state ir.IRValue) *Replicator {
	return r.Store("", state)
}

// Hold parks GetInitialState answers until Release.
func (r *Replicator) Hold() *Replicator {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hold = true
	return r
}

// Fail makes the named hook return err.
func (r *Replicator) Fail(hook string, err error) *Replicator {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[hook] = err
	return r
}

// Release delivers every parked answer in request order and stops holding.
// Returns the number of answers delivered.
func (r *Replicator) Release() int {
	r.mu.Lock()
	held := r.held
	r.held = nil
	r.hold = false
	r.mu.Unlock()

	for _, respond := range held {
		respond()
	}
	return len(held)
}

// Held returns the number of parked answers.
func (r *Replicator) Held() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}

// Calls returns a copy of the recorded hook calls.
func (r *Replicator) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallsFor returns the recorded calls of one hook.
func (r *Replicator) CallsFor(hook string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Hook == hook {
			out = append(out, c)
		}
	}
	return out
}

// Requests returns the keys GetInitialState was asked for.
func (r *Replicator) Requests() []coordinator.Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]coordinator.Key, len(r.requests))
	copy(out, r.requests)
	return out
}

// Name implements coordinator.Namer.
func (r *Replicator) Name() string {
	return r.label
}

func (r *Replicator) record(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return r.failures[c.Hook]
}

// GetInitialState implements coordinator.InitialStateProvider.
func (r *Replicator) GetInitialState(_ context.Context, key coordinator.Key, respond func(ir.IRValue)) {
	r.mu.Lock()
	r.requests = append(r.requests, key)
	v := r.stored[key.Field]
	if r.hold {
		r.held = append(r.held, func() { respond(v) })
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	respond(v)
}

// OnStateChange implements coordinator.StateChangeObserver.
func (r *Replicator) OnStateChange(_ context.Context, key coordinator.Key, prev, next ir.IRValue, ev ir.Event) error {
	return r.record(Call{Hook: "OnStateChange", Key: key, Prev: prev, Next: next, Event: ev.Type})
}

// PreReduction implements coordinator.PreReducer.
func (r *Replicator) PreReduction(_ context.Context, key coordinator.Key, state ir.IRObject, ev ir.Event) error {
	return r.record(Call{Hook: "PreReduction", Key: key, Prev: state, Event: ev.Type})
}

// PostReduction implements coordinator.PostReducer.
func (r *Replicator) PostReduction(_ context.Context, key coordinator.Key, prev, next ir.IRObject, ev ir.Event) error {
	return r.record(Call{Hook: "PostReduction", Key: key, Prev: prev, Next: next, Event: ev.Type})
}

// PreDispatch implements coordinator.PreDispatcher.
func (r *Replicator) PreDispatch(_ context.Context, key coordinator.Key, store coordinator.StateReader, ev ir.Event) error {
	return r.record(Call{Hook: "PreDispatch", Key: key, Prev: store.GetState(), Event: ev.Type})
}

// PostDispatch implements coordinator.PostDispatcher.
func (r *Replicator) PostDispatch(_ context.Context, key coordinator.Key, store coordinator.StateReader, ev ir.Event) error {
	return r.record(Call{Hook: "PostDispatch", Key: key, Next: store.GetState(), Event: ev.Type})
}

// OnReady implements coordinator.ReadyObserver.
func (r *Replicator) OnReady(key coordinator.Key, _ *coordinator.Coordinator) {
	_ = r.record(Call{Hook: "OnReady", Key: key})
}

// Initializing adds an Init hook to a scripted Replicator.
type Initializing struct {
	*Replicator

	auto     bool
	setReady []func()
}

// WithInit returns r with an Init hook. With auto the replicator calls
// setReady from inside Init; otherwise MarkReady releases it.
func (r *Replicator) WithInit(auto bool) *Initializing {
	return &Initializing{Replicator: r, auto: auto}
}

// AutoReady switches whether later Init calls answer setReady immediately.
func (i *Initializing) AutoReady(auto bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.auto = auto
}

// Init implements coordinator.Initializer.
func (i *Initializing) Init(_ context.Context, key coordinator.Key, _ coordinator.StateReader, setReady func()) {
	_ = i.record(Call{Hook: "Init", Key: key})

	i.mu.Lock()
	if i.auto {
		i.mu.Unlock()
		setReady()
		return
	}
	i.setReady = append(i.setReady, setReady)
	i.mu.Unlock()
}

// MarkReady calls every setReady received so far, oldest first.
// Returns the number of callbacks invoked.
func (i *Initializing) MarkReady() int {
	i.mu.Lock()
	fns := i.setReady
	i.setReady = nil
	i.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// MarkLatestReady calls only the most recent setReady and drops older ones.
func (i *Initializing) MarkLatestReady() bool {
	i.mu.Lock()
	if len(i.setReady) == 0 {
		i.mu.Unlock()
		return false
	}
	fn := i.setReady[len(i.setReady)-1]
	i.setReady = nil
	i.mu.Unlock()

	fn()
	return true
}

// Scoped gives a scripted Replicator its own field selection.
type Scoped struct {
	*Replicator
	spec *selector.Spec
}

// Scoped returns r restricted to spec.
func (r *Replicator) Scoped(spec *selector.Spec) *Scoped {
	return &Scoped{Replicator: r, spec: spec}
}

// Fields implements coordinator.FieldScoper.
func (s *Scoped) Fields() *selector.Spec {
	return s.spec
}
