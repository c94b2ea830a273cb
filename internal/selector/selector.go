// Package selector decides which top-level fields of a state object a
// replicator may see or persist.
//
// A selection is described by a *Spec:
//
//   - nil: every field is selected (the state is returned by reference)
//   - empty: nothing is selected
//   - first entry true: whitelist - only the listed fields
//   - first entry false: blacklist - every field except the listed ones
//
// Polarity comes from the FIRST declared entry only. Later entries with the
// opposite polarity are not validated; they simply behave as members of the
// list the first entry chose.
//
// A field is only ever selected when its value is present (non-nil), so
// partially populated states never produce spurious keys.
package selector

import (
	"github.com/roach88/replicate/internal/ir"
)

// Entry is one declared field of a selection spec.
type Entry struct {
	Field string
	Keep  bool
}

// Spec is an ordered field selection. Order matters: the first entry
// decides between whitelist and blacklist semantics.
type Spec struct {
	entries []Entry
	index   map[string]struct{}
}

// FromEntries builds a spec from entries in declaration order.
// Duplicate fields keep their first position.
func FromEntries(entries ...Entry) *Spec {
	s := &Spec{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[string]struct{}, len(entries)),
	}
	for _, e := range entries {
		if _, dup := s.index[e.Field]; dup {
			continue
		}
		s.index[e.Field] = struct{}{}
		s.entries = append(s.entries, e)
	}
	return s
}

// Whitelist selects only the given fields, in the given order.
func Whitelist(fields ...string) *Spec {
	entries := make([]Entry, len(fields))
	for i, f := range fields {
		entries[i] = Entry{Field: f, Keep: true}
	}
	return FromEntries(entries...)
}

// Blacklist selects every field except the given ones.
func Blacklist(fields ...string) *Spec {
	entries := make([]Entry, len(fields))
	for i, f := range fields {
		entries[i] = Entry{Field: f, Keep: false}
	}
	return FromEntries(entries...)
}

// None selects nothing.
func None() *Spec {
	return FromEntries()
}

// Entries returns a copy of the declared entries in order.
func (s *Spec) Entries() []Entry {
	if s == nil {
		return nil
	}
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// IsWhitelist reports whether the first declared entry is truthy.
// An empty spec is neither a whitelist nor a blacklist.
func (s *Spec) IsWhitelist() bool {
	return s != nil && len(s.entries) > 0 && s.entries[0].Keep
}

// Declares reports whether field appears in the spec, regardless of polarity.
func (s *Spec) Declares(field string) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[field]
	return ok
}

// Allows reports whether field would be selected if present in a state.
func (s *Spec) Allows(field string) bool {
	switch {
	case s == nil:
		return true
	case len(s.entries) == 0:
		return false
	case s.entries[0].Keep:
		return s.Declares(field)
	default:
		return !s.Declares(field)
	}
}

// Select returns the subset of state allowed by spec.
//
// A nil spec returns state itself - the same map, not a copy. Callers that
// intend to mutate the result must Clone it first.
func Select(spec *Spec, state ir.IRObject) ir.IRObject {
	if spec == nil {
		return state
	}

	selected := ir.IRObject{}
	Each(spec, state, func(field string, value ir.IRValue) {
		selected[field] = value
	})
	return selected
}

// Each visits every selected field of state with its value.
//
// Whitelists are visited in declaration order. Blacklists and the nil spec
// are visited in canonical key order so fan-out is deterministic.
func Each(spec *Spec, state ir.IRObject, visit func(field string, value ir.IRValue)) {
	if spec != nil && len(spec.entries) == 0 {
		return
	}

	if spec.IsWhitelist() {
		for _, e := range spec.entries {
			if v := state[e.Field]; v != nil {
				visit(e.Field, v)
			}
		}
		return
	}

	for _, field := range state.SortedKeys() {
		v := state[field]
		if v == nil {
			continue
		}
		if spec != nil && spec.Declares(field) {
			continue
		}
		visit(field, v)
	}
}

// Fields returns the names of the selected fields in visit order.
func Fields(spec *Spec, state ir.IRObject) []string {
	var fields []string
	Each(spec, state, func(field string, _ ir.IRValue) {
		fields = append(fields, field)
	})
	return fields
}

// MergeStates selects from each state in order and merges the selections
// into one object. Later states win on conflicting fields.
func MergeStates(spec *Spec, states ...ir.IRObject) ir.IRObject {
	merged := ir.IRObject{}
	for _, state := range states {
		Each(spec, state, func(field string, value ir.IRValue) {
			merged[field] = value
		})
	}
	return merged
}
