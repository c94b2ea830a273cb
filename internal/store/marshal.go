package store

import (
	"fmt"

	"github.com/roach88/replicate/internal/ir"
)

// marshalValue converts a value to canonical JSON TEXT for storage.
func marshalValue(v ir.IRValue) (string, error) {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// marshalArgs converts event args to canonical JSON TEXT. Nil args are
// stored as an empty object so the column is never NULL.
func marshalArgs(args ir.IRObject) (string, error) {
	if args == nil {
		args = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(args)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}
	return string(data), nil
}

// unmarshalValue parses a stored value.
func unmarshalValue(text string) (ir.IRValue, error) {
	v, err := ir.UnmarshalIRValue([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}

// unmarshalArgs parses stored event args.
func unmarshalArgs(text string) (ir.IRObject, error) {
	obj, err := ir.UnmarshalIRObject([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("unmarshal args: %w", err)
	}
	return obj, nil
}
