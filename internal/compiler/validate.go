package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/replicate/internal/transition"
)

// Validation error codes (E100-E199)
const (
	ErrNameEmpty              = "E101" // definition name is required
	ErrNoTransitions          = "E102" // at least one transition required
	ErrInvalidExpression      = "E103" // rule expression does not compile
	ErrUndeclaredField        = "E104" // rule writes a field missing from initial
	ErrUnknownSelectedField   = "E105" // replicate.fields names an unknown field
	ErrQueryableNotReplicated = "E106" // queryable field is never replicated
	ErrClientStateField       = "E107" // client_state names an unknown field
)

// ValidationError represents a definition validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled definition.
// Returns all errors found (does not fail-fast).
func Validate(def *Definition) []ValidationError {
	var errs []ValidationError

	// E101
	if strings.TrimSpace(def.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "name is required and must be non-empty",
			Code:    ErrNameEmpty,
		})
	}

	// E102
	if len(def.Rules) == 0 {
		errs = append(errs, ValidationError{
			Field:   "transitions",
			Message: "at least one transition is required",
			Code:    ErrNoTransitions,
		})
	}

	for _, rule := range def.Rules {
		// E103: compile each rule alone so every bad rule is reported
		if _, err := transition.Compile([]transition.Rule{rule}); err != nil {
			errs = append(errs, ValidationError{
				Field:   "transitions." + rule.Event,
				Message: err.Error(),
				Code:    ErrInvalidExpression,
			})
		}

		// E104
		written := make([]string, 0, len(rule.Set)+len(rule.Unset))
		for f := range rule.Set {
			written = append(written, f)
		}
		sort.Strings(written)
		written = append(written, rule.Unset...)
		for _, f := range written {
			if !def.Initial.Has(f) {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("transitions.%s", rule.Event),
					Message: fmt.Sprintf("field %q is not declared in initial", f),
					Code:    ErrUndeclaredField,
				})
			}
		}
	}

	rep := def.Replication

	// E105
	for _, e := range rep.Fields.Entries() {
		if !def.Initial.Has(e.Field) {
			errs = append(errs, ValidationError{
				Field:   "replicate.fields." + e.Field,
				Message: fmt.Sprintf("field %q is not declared in initial", e.Field),
				Code:    ErrUnknownSelectedField,
			})
		}
	}

	// E106
	for _, f := range rep.Queryable {
		if !def.Initial.Has(f) || !rep.Fields.Allows(f) {
			errs = append(errs, ValidationError{
				Field:   "replicate.queryable",
				Message: fmt.Sprintf("field %q is queryable but never replicated", f),
				Code:    ErrQueryableNotReplicated,
			})
		}
	}

	// E107
	for _, f := range rep.ClientState.SortedKeys() {
		if !def.Initial.Has(f) {
			errs = append(errs, ValidationError{
				Field:   "replicate.client_state." + f,
				Message: fmt.Sprintf("field %q is not declared in initial", f),
				Code:    ErrClientStateField,
			})
		}
	}

	return errs
}
