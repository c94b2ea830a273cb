package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/roach88/replicate/internal/compiler"
	"github.com/roach88/replicate/internal/container"
	"github.com/roach88/replicate/internal/coordinator"
	"github.com/roach88/replicate/internal/ir"
	"github.com/roach88/replicate/internal/replicator"
	"github.com/roach88/replicate/internal/selector"
	"github.com/roach88/replicate/internal/store"
	"github.com/roach88/replicate/internal/testutil"
	"github.com/roach88/replicate/internal/transition"
)

// tracedHooks are the hooks written to scenario traces. Reduction and
// dispatch hooks are still recorded and can be checked with hook_count and
// hook_order assertions.
var tracedHooks = map[string]bool{
	"Init":          true,
	"OnStateChange": true,
	"OnReady":       true,
}

// Harness holds the live objects of one scenario run.
type Harness struct {
	coord  *coordinator.Coordinator
	store  *store.Store
	clock  *testutil.DeterministicClock
	ids    *testutil.SequentialIDs
	logger *slog.Logger

	// scripted replicators by name, in configuration order
	names    []string
	scripted map[string]*testutil.Replicator
	inits    map[string]*testutil.Initializing
	seen     map[string]int

	mu       sync.Mutex
	notified []ir.IRObject
	notices  int
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory SQLite store with a
// deterministic clock and sequential event IDs.
//
// Execution flow:
// 1. Load the definition and compile its transition rules
// 2. Build replicators and wrap a new container
// 3. Apply each step, tracing hooks and notifications
// 4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	def, err := loadDefinition(scenario)
	if err != nil {
		return nil, err
	}

	rules, err := transition.Compile(def.Rules)
	if err != nil {
		return nil, fmt.Errorf("compile transitions: %w", err)
	}

	clientState, err := toIRObject(scenario.ClientState)
	if err != nil {
		return nil, fmt.Errorf("client_state: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:    st,
		clock:    testutil.NewDeterministicClock(),
		ids:      testutil.NewSequentialIDs("evt"),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		scripted: make(map[string]*testutil.Replicator),
		inits:    make(map[string]*testutil.Initializing),
		seen:     make(map[string]int),
	}

	replicators, err := h.buildReplicators(scenario.Replicators)
	if err != nil {
		return nil, err
	}

	opts := []coordinator.Option{
		coordinator.WithKey(firstNonEmpty(scenario.Key, def.Replication.Key)),
		coordinator.WithReplicators(replicators...),
		coordinator.WithClientState(ir.Merge(def.Replication.ClientState, clientState)),
		coordinator.WithLogger(h.logger),
		coordinator.WithIDGenerator(h.ids),
		coordinator.WithClock(h.clock),
	}

	fields := def.Replication.Fields
	if scenario.Fields != nil {
		fields = scenario.Fields
	}
	if fields != nil {
		opts = append(opts, coordinator.WithFields(fields))
	}

	queryable := def.Replication.Queryable
	if scenario.Queryable != nil {
		queryable = scenario.Queryable
	}
	opts = append(opts, coordinator.WithQueryable(queryable...))
	if def.Replication.AllQueryable {
		opts = append(opts, coordinator.WithAllQueryable())
	}

	c := container.New(rules.Func(), def.Initial.Clone())
	c.Subscribe(h.record)

	result := NewResult()
	result.Trace = append(result.Trace, TraceEvent{Kind: KindStep, Op: "wrap"})

	h.coord = coordinator.Wrap(c, opts...)
	h.collect(result)

	ctx := context.Background()
	for i, step := range scenario.Steps {
		h.execute(ctx, i+1, step, result)
	}

	result.State = h.coord.GetState()
	result.Ready = h.coord.Ready()
	result.Notifications = h.notifications()

	for _, msg := range h.evaluate(ctx, scenario.Assertions, result) {
		result.AddError(msg)
	}

	return result, nil
}

func loadDefinition(scenario *Scenario) (*compiler.Definition, error) {
	defs, err := compiler.Load(scenario.Definition)
	if err != nil {
		return nil, fmt.Errorf("load definition: %w", err)
	}
	return compiler.Find(defs, scenario.App)
}

// scopedInitializer combines an Init hook with its own field selection.
type scopedInitializer struct {
	*testutil.Initializing
	spec *selector.Spec
}

func (s scopedInitializer) Fields() *selector.Spec {
	return s.spec
}

func (h *Harness) buildReplicators(specs []ReplicatorSpec) ([]any, error) {
	out := make([]any, 0, len(specs))
	for _, spec := range specs {
		if spec.Type == ReplicatorSQLite {
			out = append(out, replicator.NewSQLite(h.store, replicator.WithSQLiteLogger(h.logger)))
			continue
		}

		r := testutil.NewReplicator(spec.Name)
		for field, v := range spec.Stored {
			val, err := ir.FromAny(v)
			if err != nil {
				return nil, fmt.Errorf("replicator %s: stored.%s: %w", spec.Name, field, err)
			}
			r.Store(field, val)
		}
		if spec.StoredState != nil {
			state, err := toIRObject(spec.StoredState)
			if err != nil {
				return nil, fmt.Errorf("replicator %s: stored_state: %w", spec.Name, err)
			}
			r.StoreState(state)
		}
		if spec.Hold {
			r.Hold()
		}
		for hook, msg := range spec.Fail {
			r.Fail(hook, errors.New(msg))
		}

		h.names = append(h.names, spec.Name)
		h.scripted[spec.Name] = r

		var built any = r
		if spec.Init != InitNone {
			in := r.WithInit(spec.Init == InitAuto)
			h.inits[spec.Name] = in
			built = in
			if spec.Fields != nil {
				built = scopedInitializer{Initializing: in, spec: spec.Fields}
			}
		} else if spec.Fields != nil {
			built = r.Scoped(spec.Fields)
		}
		out = append(out, built)
	}
	return out, nil
}

// execute applies one step and appends its trace entries.
func (h *Harness) execute(ctx context.Context, index int, step Step, result *Result) {
	entry := TraceEvent{Kind: KindStep, Index: index, Op: step.Op()}

	var err error
	switch entry.Op {
	case OpDispatch:
		var ev ir.Event
		ev, err = toEvent(step.Dispatch)
		if err == nil {
			entry.Event = ev.Type
			entry.Queued, err = h.coord.Dispatch(ctx, ev)
		}
	case OpSubmit:
		var ev ir.Event
		ev, err = toEvent(step.Submit)
		if err == nil {
			entry.Event = ev.Type
			ev.ID = h.ids.Generate()
			ev.Seq = h.clock.Next()
			_, err = h.coord.Container().Submit(ctx, ev)
		}
	case OpRelease:
		entry.Target = step.Release
		h.scripted[step.Release].Release()
	case OpMarkReady:
		entry.Target = step.MarkReady
		h.inits[step.MarkReady].MarkReady()
	case OpSetKey:
		entry.Target = step.SetKey
		h.coord.SetKey(step.SetKey)
	case OpSetState:
		var partial ir.IRObject
		partial, err = toIRObject(step.SetState)
		if err == nil {
			h.coord.SetState(partial)
		}
	}

	if err != nil {
		entry.Error = err.Error()
	}
	switch {
	case step.ExpectError == "" && err != nil:
		result.AddError(fmt.Sprintf("step %d (%s): %v", index, entry.Op, err))
	case step.ExpectError != "" && err == nil:
		result.AddError(fmt.Sprintf("step %d (%s): expected error containing %q", index, entry.Op, step.ExpectError))
	case step.ExpectError != "" && !strings.Contains(err.Error(), step.ExpectError):
		result.AddError(fmt.Sprintf("step %d (%s): error %q does not contain %q", index, entry.Op, err, step.ExpectError))
	}

	entry.Ready = h.coord.Ready()
	result.Trace = append(result.Trace, entry)
	h.collect(result)
}

// collect appends the hook calls and notifications since the last collect.
// Hooks come first, in replicator order, then notifications.
func (h *Harness) collect(result *Result) {
	for _, name := range h.names {
		calls := h.scripted[name].Calls()
		for _, call := range calls[h.seen[name]:] {
			if !tracedHooks[call.Hook] {
				continue
			}
			result.Trace = append(result.Trace, TraceEvent{
				Kind:       KindHook,
				Replicator: name,
				Hook:       call.Hook,
				Key:        call.Key.String(),
				Prev:       call.Prev,
				Next:       call.Next,
				Event:      call.Event,
			})
		}
		h.seen[name] = len(calls)
	}

	h.mu.Lock()
	notified := h.notified
	h.notified = nil
	h.mu.Unlock()
	for _, state := range notified {
		result.Trace = append(result.Trace, TraceEvent{Kind: KindNotify, State: state})
	}
}

func (h *Harness) record(state ir.IRObject) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notified = append(h.notified, state)
	h.notices++
}

func (h *Harness) notifications() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.notices
}

func toEvent(step *EventStep) (ir.Event, error) {
	args, err := toIRObject(step.Args)
	if err != nil {
		return ir.Event{}, fmt.Errorf("%s args: %w", step.Type, err)
	}
	return ir.NewEvent(step.Type, args), nil
}

// toIRObject converts decoded YAML into an IRObject. nil stays nil.
func toIRObject(m map[string]any) (ir.IRObject, error) {
	if m == nil {
		return nil, nil
	}
	v, err := ir.FromAny(m)
	if err != nil {
		return nil, err
	}
	return v.(ir.IRObject), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
