package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/replicate/internal/ir"
)

// toIR converts a concrete CUE value into an IRValue.
// Floats are forbidden; incomplete values are errors.
func toIR(v cue.Value, field string) (ir.IRValue, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if !v.IsConcrete() {
		return nil, &CompileError{
			Field:   field,
			Message: "value must be concrete",
			Pos:     v.Pos(),
		}
	}

	switch v.Kind() {
	case cue.NullKind:
		return ir.IRNull{}, nil

	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil

	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil

	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
		}
		return ir.IRInt(n), nil

	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{
			Field:   field,
			Message: "float values are forbidden - use int instead",
			Pos:     v.Pos(),
		}

	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.IRArray{}
		for i := 0; iter.Next(); i++ {
			elem, err := toIR(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil

	case cue.StructKind:
		return toIRObject(v, field)

	default:
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unsupported kind: %v", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

// toIRObject converts a CUE struct into an IRObject.
func toIRObject(v cue.Value, field string) (ir.IRObject, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	obj := ir.IRObject{}
	for iter.Next() {
		name := iter.Label()
		elem, err := toIR(iter.Value(), joinField(field, name))
		if err != nil {
			return nil, err
		}
		obj[name] = elem
	}
	return obj, nil
}

func joinField(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "." + child
}
