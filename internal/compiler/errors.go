package compiler

import (
	"fmt"

	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// CompileError is a definition error tied to a CUE source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos

	// More counts further CUE errors reported alongside this one.
	More int

	err error
}

func (e *CompileError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Field, e.Message)
	if e.Pos.IsValid() {
		msg = fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), msg)
	}
	if e.More > 0 {
		msg += fmt.Sprintf(" (and %d more)", e.More)
	}
	return msg
}

func (e *CompileError) Unwrap() error {
	return e.err
}

// formatCUEError reports the first of a CUE error list at its position.
// Errors without a position are returned unchanged.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	list := errors.Errors(err)
	if len(list) == 0 {
		return err
	}
	first := list[0]
	positions := errors.Positions(first)
	if len(positions) == 0 {
		return err
	}
	return &CompileError{
		Field:   "cue",
		Message: first.Error(),
		Pos:     positions[0],
		More:    len(list) - 1,
		err:     err,
	}
}
