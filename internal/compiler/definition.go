package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/replicate/internal/ir"
	"github.com/roach88/replicate/internal/selector"
	"github.com/roach88/replicate/internal/transition"
)

// Definition is a compiled application: an initial state, the transition
// rules that evolve it and how it is replicated.
type Definition struct {
	Name        string
	Initial     ir.IRObject
	Rules       []transition.Rule
	Replication Replication
}

// Replication is the replicate block of a definition.
type Replication struct {
	// Key defaults to the definition name.
	Key string

	// Fields is nil for whole-state replication.
	Fields *selector.Spec

	Queryable    []string
	AllQueryable bool
	ClientState  ir.IRObject
}

// CompileDefinition parses a CUE value into a Definition.
//
// The CUE value should be the app struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`app: todo: { initial: {...}, transitions: {...} }`)
//	def, err := CompileDefinition(v.LookupPath(cue.ParsePath("app.todo")))
func CompileDefinition(v cue.Value) (*Definition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &Definition{}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		def.Name = strings.Trim(labels[len(labels)-1].String(), `"`)
	}
	if nameVal := v.LookupPath(cue.ParsePath("name")); nameVal.Exists() {
		name, err := nameVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		def.Name = name
	}

	// initial (required)
	initialVal := v.LookupPath(cue.ParsePath("initial"))
	if !initialVal.Exists() {
		return nil, &CompileError{
			Field:   "initial",
			Message: "initial state is required",
			Pos:     v.Pos(),
		}
	}
	if initialVal.IncompleteKind() != cue.StructKind {
		return nil, &CompileError{
			Field:   "initial",
			Message: "initial state must be a struct",
			Pos:     initialVal.Pos(),
		}
	}
	initial, err := toIRObject(initialVal, "initial")
	if err != nil {
		return nil, err
	}
	def.Initial = initial

	def.Rules, err = parseTransitions(v)
	if err != nil {
		return nil, err
	}

	def.Replication, err = parseReplication(v)
	if err != nil {
		return nil, err
	}
	if def.Replication.Key == "" {
		def.Replication.Key = def.Name
	}

	return def, nil
}

// parseTransitions extracts the transition rules in declaration order.
func parseTransitions(v cue.Value) ([]transition.Rule, error) {
	var rules []transition.Rule

	transVal := v.LookupPath(cue.ParsePath("transitions"))
	if !transVal.Exists() {
		return rules, nil
	}

	iter, err := transVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		event := iter.Label()
		ruleVal := iter.Value()
		rule := transition.Rule{Event: event}

		if whenVal := ruleVal.LookupPath(cue.ParsePath("when")); whenVal.Exists() {
			when, err := whenVal.String()
			if err != nil {
				return nil, &CompileError{
					Field:   fmt.Sprintf("transitions.%s.when", event),
					Message: "when must be a string expression",
					Pos:     whenVal.Pos(),
				}
			}
			rule.When = when
		}

		if setVal := ruleVal.LookupPath(cue.ParsePath("set")); setVal.Exists() {
			setIter, err := setVal.Fields()
			if err != nil {
				return nil, formatCUEError(err)
			}
			rule.Set = make(map[string]string)
			for setIter.Next() {
				field := setIter.Label()
				expr, err := setIter.Value().String()
				if err != nil {
					return nil, &CompileError{
						Field:   fmt.Sprintf("transitions.%s.set.%s", event, field),
						Message: "assignment must be a string expression",
						Pos:     setIter.Value().Pos(),
					}
				}
				rule.Set[field] = expr
			}
		}

		if unsetVal := ruleVal.LookupPath(cue.ParsePath("unset")); unsetVal.Exists() {
			fields, err := stringList(unsetVal, fmt.Sprintf("transitions.%s.unset", event))
			if err != nil {
				return nil, err
			}
			rule.Unset = fields
		}

		rules = append(rules, rule)
	}

	return rules, nil
}

// parseReplication extracts the optional replicate block.
func parseReplication(v cue.Value) (Replication, error) {
	var rep Replication

	repVal := v.LookupPath(cue.ParsePath("replicate"))
	if !repVal.Exists() {
		return rep, nil
	}

	if keyVal := repVal.LookupPath(cue.ParsePath("key")); keyVal.Exists() {
		key, err := keyVal.String()
		if err != nil {
			return rep, formatCUEError(err)
		}
		rep.Key = key
	}

	if fieldsVal := repVal.LookupPath(cue.ParsePath("fields")); fieldsVal.Exists() {
		spec, err := parseFieldSelection(fieldsVal)
		if err != nil {
			return rep, err
		}
		rep.Fields = spec
	}

	if qVal := repVal.LookupPath(cue.ParsePath("queryable")); qVal.Exists() {
		if all, err := qVal.Bool(); err == nil {
			rep.AllQueryable = all
		} else {
			fields, err := stringList(qVal, "replicate.queryable")
			if err != nil {
				return rep, err
			}
			rep.Queryable = fields
		}
	}

	if csVal := repVal.LookupPath(cue.ParsePath("client_state")); csVal.Exists() {
		cs, err := toIRObject(csVal, "replicate.client_state")
		if err != nil {
			return rep, err
		}
		rep.ClientState = cs
	}

	return rep, nil
}

// parseFieldSelection reads an ordered field selection.
// Accepts a struct of booleans ({wow: true}) or a list of names (whitelist).
func parseFieldSelection(v cue.Value) (*selector.Spec, error) {
	if v.IncompleteKind() == cue.ListKind {
		fields, err := stringList(v, "replicate.fields")
		if err != nil {
			return nil, err
		}
		return selector.Whitelist(fields...), nil
	}

	iter, err := v.Fields()
	if err != nil {
		return nil, &CompileError{
			Field:   "replicate.fields",
			Message: "field selection must be a struct of booleans or a list of names",
			Pos:     v.Pos(),
		}
	}

	var entries []selector.Entry
	for iter.Next() {
		field := iter.Label()
		keep, err := iter.Value().Bool()
		if err != nil {
			return nil, &CompileError{
				Field:   "replicate.fields." + field,
				Message: "selection value must be a boolean",
				Pos:     iter.Value().Pos(),
			}
		}
		entries = append(entries, selector.Entry{Field: field, Keep: keep})
	}
	return selector.FromEntries(entries...), nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "must be a list of strings", Pos: v.Pos()}
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{Field: field, Message: "must be a list of strings", Pos: iter.Value().Pos()}
		}
		out = append(out, s)
	}
	return out, nil
}
