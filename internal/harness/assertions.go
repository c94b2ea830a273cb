package harness

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/replicate/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, describe(event))
		}
	}

	return buf.String()
}

func describe(e TraceEvent) string {
	switch e.Kind {
	case KindStep:
		s := e.Op
		if e.Event != "" {
			s += " " + e.Event
		}
		if e.Target != "" {
			s += " " + e.Target
		}
		if e.Queued {
			s += " (queued)"
		}
		if e.Error != "" {
			s += " error: " + e.Error
		}
		return s
	case KindHook:
		return fmt.Sprintf("%s.%s %s %s -> %s", e.Replicator, e.Hook, e.Key, render(e.Prev), render(e.Next))
	default:
		return "notify " + render(e.State)
	}
}

func render(v ir.IRValue) string {
	if v == nil {
		return "<absent>"
	}
	if obj, ok := v.(ir.IRObject); ok && obj == nil {
		return "<absent>"
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}

// assertReady checks coordinator readiness after the last step.
func assertReady(result *Result, a Assertion) error {
	if result.Ready == a.Ready {
		return nil
	}
	return &AssertionError{
		Type:     AssertReady,
		Expected: fmt.Sprintf("ready=%t", a.Ready),
		Actual:   fmt.Sprintf("ready=%t", result.Ready),
		Trace:    result.Trace,
	}
}

// assertSubset checks that every expected field is present in state with a
// canonically equal value. Extra fields in state are ignored.
func assertSubset(typ string, state ir.IRObject, expect map[string]any, trace []TraceEvent) error {
	for _, field := range sortedFields(expect) {
		want, err := ir.FromAny(expect[field])
		if err != nil {
			return fmt.Errorf("%s: expect.%s: %w", typ, field, err)
		}
		got := state[field]
		if got == nil {
			return &AssertionError{
				Type:     typ,
				Expected: fmt.Sprintf("%s = %s", field, render(want)),
				Actual:   fmt.Sprintf("%s is absent", field),
				Trace:    trace,
			}
		}
		if !canonicalEqual(got, want) {
			return &AssertionError{
				Type:     typ,
				Expected: fmt.Sprintf("%s = %s", field, render(want)),
				Actual:   fmt.Sprintf("%s = %s", field, render(got)),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertNotifications checks the subscriber notification count.
func assertNotifications(result *Result, a Assertion) error {
	if result.Notifications == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertNotifications,
		Expected: fmt.Sprintf("%d notifications", a.Count),
		Actual:   fmt.Sprintf("%d notifications", result.Notifications),
		Trace:    result.Trace,
	}
}

// assertHookCount checks how often one hook ran on one replicator.
func (h *Harness) assertHookCount(a Assertion, trace []TraceEvent) error {
	count := len(h.scripted[a.Replicator].CallsFor(a.Hook))
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertHookCount,
		Expected: fmt.Sprintf("%s.%s called %d times", a.Replicator, a.Hook, a.Count),
		Actual:   fmt.Sprintf("called %d times", count),
		Trace:    trace,
	}
}

// assertHookOrder checks that hooks ran in the given relative order.
// Other hooks may run in between.
func (h *Harness) assertHookOrder(a Assertion, trace []TraceEvent) error {
	calls := h.scripted[a.Replicator].Calls()
	hooks := make([]string, len(calls))
	for i, c := range calls {
		hooks[i] = c.Hook
	}

	pos := 0
	for _, want := range a.Hooks {
		i := slices.Index(hooks[pos:], want)
		if i < 0 {
			return &AssertionError{
				Type:     AssertHookOrder,
				Expected: fmt.Sprintf("%s hooks in order %v", a.Replicator, a.Hooks),
				Actual:   fmt.Sprintf("%v (%s missing after position %d)", hooks, want, pos),
				Trace:    trace,
			}
		}
		pos += i + 1
	}
	return nil
}

// assertRequests checks the fields a replicator was asked to load.
// A whole-state request is listed as "".
func (h *Harness) assertRequests(a Assertion, trace []TraceEvent) error {
	reqs := h.scripted[a.Replicator].Requests()
	fields := make([]string, len(reqs))
	for i, k := range reqs {
		fields[i] = k.Field
	}
	if slices.Equal(fields, a.Fields) || (len(fields) == 0 && len(a.Fields) == 0) {
		return nil
	}
	return &AssertionError{
		Type:     AssertRequests,
		Expected: fmt.Sprintf("%s requested %q", a.Replicator, a.Fields),
		Actual:   fmt.Sprintf("requested %q", fields),
		Trace:    trace,
	}
}

// assertStored checks the snapshot persisted in the scenario store.
func (h *Harness) assertStored(ctx context.Context, a Assertion, trace []TraceEvent) error {
	key := firstNonEmpty(a.Key, h.coord.Key().Name)
	snapshot, err := h.store.Snapshot(ctx, key)
	if err != nil {
		return fmt.Errorf("stored: %w", err)
	}
	return assertSubset(AssertStored, snapshot, a.Expect, trace)
}

// evaluate runs every assertion and returns the failure messages.
func (h *Harness) evaluate(ctx context.Context, assertions []Assertion, result *Result) []string {
	var errs []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertReady:
			err = assertReady(result, a)
		case AssertFinalState:
			err = assertSubset(AssertFinalState, result.State, a.Expect, result.Trace)
		case AssertNotifications:
			err = assertNotifications(result, a)
		case AssertHookCount:
			err = h.assertHookCount(a, result.Trace)
		case AssertHookOrder:
			err = h.assertHookOrder(a, result.Trace)
		case AssertRequests:
			err = h.assertRequests(a, result.Trace)
		case AssertStored:
			err = h.assertStored(ctx, a, result.Trace)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}

func canonicalEqual(a, b ir.IRValue) bool {
	ab, err := ir.MarshalCanonical(a)
	if err != nil {
		return false
	}
	bb, err := ir.MarshalCanonical(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func sortedFields(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
