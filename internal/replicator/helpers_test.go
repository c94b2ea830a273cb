package replicator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/replicate/internal/ir"
	"github.com/roach88/replicate/internal/store"
)

// setField replaces args.field with args.value; other events are no-ops.
func setField(_ context.Context, s ir.IRObject, ev ir.Event) (ir.IRObject, error) {
	if ev.Type != "SET" {
		return s, nil
	}
	field, _ := ev.Arg("field").(ir.IRString)
	next := s.Clone()
	next[string(field)] = ev.Arg("value")
	return next, nil
}

func set(field string, value ir.IRValue) ir.Event {
	return ir.NewEvent("SET", ir.IRObject{"field": ir.IRString(field), "value": value})
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "replicate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// answer calls GetInitialState-style functions synchronously.
func answer(get func(respond func(ir.IRValue))) ir.IRValue {
	var got ir.IRValue
	get(func(v ir.IRValue) { got = v })
	return got
}
