// Package transition builds transition functions from declarative rules.
//
// A rule binds an event type to field assignments written as expr-lang
// expressions:
//
//	SET_WOW: set: {wow: "args.value"}
//	INC:     when: "args.by > 0", set: {count: "state.count + args.by"}
//	CLEAR:   unset: ["wow"]
//
// Expressions see three variables: state (the pre-transition state), args
// (the event arguments) and event ({type, id, seq}). Every assignment of a
// rule is evaluated against the same pre-transition state, so assignment
// order never matters.
//
// The returned state is the input state itself when a rule assigns values
// equal to the current ones, or when no rule matches. Unchanged fields keep
// their references. Coordinators rely on that identity to skip change
// notifications.
package transition

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	"github.com/roach88/replicate/internal/container"
	"github.com/roach88/replicate/internal/ir"
)

// Rule is the declarative form of one event handler.
type Rule struct {
	// Event is the event type the rule handles.
	Event string `json:"event" yaml:"event"`

	// When is an optional guard. A false guard leaves the state unchanged.
	When string `json:"when,omitempty" yaml:"when,omitempty"`

	// Set maps field names to expressions.
	Set map[string]string `json:"set,omitempty" yaml:"set,omitempty"`

	// Unset lists fields removed from the state.
	Unset []string `json:"unset,omitempty" yaml:"unset,omitempty"`
}

// RuleError reports a rule that failed to compile or evaluate.
type RuleError struct {
	Event      string
	Field      string
	Expression string
	Err        error
}

func (e *RuleError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("rule %s: %q: %v", e.Event, e.Expression, e.Err)
	}
	return fmt.Sprintf("rule %s: field %s: %q: %v", e.Event, e.Field, e.Expression, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

type assignment struct {
	field      string
	expression string
	program    *exprvm.Program
}

type compiledRule struct {
	event  string
	when   *exprvm.Program
	guard  string
	assign []assignment // sorted by field
	unset  []string
}

// Rules is a compiled, immutable rule set.
type Rules struct {
	byEvent map[string]*compiledRule
	events  []string
}

// Compile compiles rules. Duplicate event types and empty expressions are
// rejected.
func Compile(rules []Rule) (*Rules, error) {
	rs := &Rules{byEvent: make(map[string]*compiledRule, len(rules))}

	for _, r := range rules {
		if r.Event == "" {
			return nil, &RuleError{Err: fmt.Errorf("event type is required")}
		}
		if _, dup := rs.byEvent[r.Event]; dup {
			return nil, &RuleError{Event: r.Event, Err: fmt.Errorf("duplicate rule")}
		}

		cr := &compiledRule{event: r.Event, guard: r.When}
		if r.When != "" {
			p, err := compile(r.When, exprlang.AsBool())
			if err != nil {
				return nil, &RuleError{Event: r.Event, Expression: r.When, Err: err}
			}
			cr.when = p
		}

		fields := make([]string, 0, len(r.Set))
		for f := range r.Set {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			src := r.Set[f]
			if src == "" {
				return nil, &RuleError{Event: r.Event, Field: f, Err: fmt.Errorf("expression must not be empty")}
			}
			p, err := compile(src)
			if err != nil {
				return nil, &RuleError{Event: r.Event, Field: f, Expression: src, Err: err}
			}
			cr.assign = append(cr.assign, assignment{field: f, expression: src, program: p})
		}

		for _, f := range r.Unset {
			if _, both := r.Set[f]; both {
				return nil, &RuleError{Event: r.Event, Field: f, Err: fmt.Errorf("field is both set and unset")}
			}
		}
		cr.unset = append([]string(nil), r.Unset...)

		rs.byEvent[r.Event] = cr
		rs.events = append(rs.events, r.Event)
	}

	sort.Strings(rs.events)
	return rs, nil
}

func compile(src string, opts ...exprlang.Option) (*exprvm.Program, error) {
	options := append([]exprlang.Option{
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	}, opts...)
	return exprlang.Compile(src, options...)
}

// Events returns the handled event types in sorted order.
func (rs *Rules) Events() []string {
	return append([]string(nil), rs.events...)
}

// Handles reports whether a rule exists for the event type.
func (rs *Rules) Handles(eventType string) bool {
	_, ok := rs.byEvent[eventType]
	return ok
}

// Func returns the rules as a container transition function.
func (rs *Rules) Func() container.TransitionFunc {
	return rs.Apply
}

// Apply runs the rule for ev.Type against state.
func (rs *Rules) Apply(_ context.Context, state ir.IRObject, ev ir.Event) (ir.IRObject, error) {
	r, ok := rs.byEvent[ev.Type]
	if !ok {
		return state, nil
	}

	env := environment(state, ev)

	if r.when != nil {
		out, err := exprlang.Run(r.when, env)
		if err != nil {
			return nil, &RuleError{Event: r.event, Expression: r.guard, Err: err}
		}
		if pass, _ := out.(bool); !pass {
			return state, nil
		}
	}

	updates := make(map[string]ir.IRValue, len(r.assign))
	for _, a := range r.assign {
		out, err := exprlang.Run(a.program, env)
		if err != nil {
			return nil, &RuleError{Event: r.event, Field: a.field, Expression: a.expression, Err: err}
		}
		v, err := ir.FromAny(out)
		if err != nil {
			return nil, &RuleError{Event: r.event, Field: a.field, Expression: a.expression, Err: err}
		}
		updates[a.field] = v
	}

	if !changes(state, updates, r.unset) {
		return state, nil
	}

	next := state.Clone()
	if next == nil {
		next = ir.IRObject{}
	}
	for f, v := range updates {
		next[f] = v
	}
	for _, f := range r.unset {
		delete(next, f)
	}
	return next, nil
}

// changes reports whether applying updates and unset would alter state.
// An update canonically equal to the current value is replaced by the
// current value in place, so a rule echoing "state.list" back keeps the
// container's reference.
func changes(state ir.IRObject, updates map[string]ir.IRValue, unset []string) bool {
	changed := false
	for f, v := range updates {
		cur := state[f]
		if ir.Same(cur, v) {
			continue
		}
		if cur != nil && canonicalEqual(cur, v) {
			updates[f] = cur
			continue
		}
		changed = true
	}
	for _, f := range unset {
		if state[f] != nil {
			changed = true
		}
	}
	return changed
}

func canonicalEqual(a, b ir.IRValue) bool {
	aj, err := ir.MarshalCanonical(a)
	if err != nil {
		return false
	}
	bj, err := ir.MarshalCanonical(b)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}

func environment(state ir.IRObject, ev ir.Event) map[string]any {
	args := ev.Args
	if args == nil {
		args = ir.IRObject{}
	}
	return map[string]any{
		"state": ir.ToAny(state),
		"args":  ir.ToAny(args),
		"event": map[string]any{
			"type": ev.Type,
			"id":   ev.ID,
			"seq":  ev.Seq,
		},
	}
}
