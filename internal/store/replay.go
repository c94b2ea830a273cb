package store

import (
	"bytes"
	"context"
	"fmt"

	"github.com/roach88/replicate/internal/container"
	"github.com/roach88/replicate/internal/ir"
)

// ReplayResult describes a rebuild of one key from its journal.
type ReplayResult struct {
	Key        string
	State      ir.IRObject
	Events     int
	LastSeq    int64
	Mismatches []FieldMismatch
}

// Consistent reports whether every persisted field matches the rebuilt state.
func (r ReplayResult) Consistent() bool {
	return len(r.Mismatches) == 0
}

// FieldMismatch is a persisted field whose value differs from the rebuilt
// state.
type FieldMismatch struct {
	Field    string
	Stored   ir.IRValue
	Replayed ir.IRValue // nil when the rebuilt state lacks the field
}

// Replay rebuilds the state of key by applying its journal, in seq order, to
// initial. The rebuilt state is compared with the persisted field snapshot:
// every persisted field must equal the rebuilt value (canonical JSON
// comparison). Fields the rebuilt state has but the snapshot lacks are not
// mismatches; replicators may persist a subset of the state.
//
// Replay is read-only and runs fn without a live container. A transition
// error aborts with the failing event.
func (s *Store) Replay(ctx context.Context, key string, initial ir.IRObject, fn container.TransitionFunc) (ReplayResult, error) {
	result := ReplayResult{Key: key}

	events, err := s.ReadEvents(ctx, key)
	if err != nil {
		return result, fmt.Errorf("replay %s: %w", key, err)
	}

	state := initial.Clone()
	if state == nil {
		state = ir.IRObject{}
	}
	for _, ev := range events {
		next, err := fn(ctx, state, ev)
		if err != nil {
			return result, fmt.Errorf("replay %s: event %s (seq=%d, type=%s): %w", key, ev.ID, ev.Seq, ev.Type, err)
		}
		state = next
		result.LastSeq = ev.Seq
	}
	result.State = state
	result.Events = len(events)

	snapshot, err := s.Snapshot(ctx, key)
	if err != nil {
		return result, fmt.Errorf("replay %s: %w", key, err)
	}

	for _, field := range snapshot.SortedKeys() {
		stored := snapshot[field]
		replayed := state[field]
		same, err := canonicalEqual(stored, replayed)
		if err != nil {
			return result, fmt.Errorf("replay %s: compare %s: %w", key, field, err)
		}
		if !same {
			result.Mismatches = append(result.Mismatches, FieldMismatch{
				Field:    field,
				Stored:   stored,
				Replayed: replayed,
			})
		}
	}

	return result, nil
}

// canonicalEqual compares two values by their canonical JSON encoding.
func canonicalEqual(a, b ir.IRValue) (bool, error) {
	if a == nil || b == nil {
		return a == nil && b == nil, nil
	}
	aj, err := ir.MarshalCanonical(a)
	if err != nil {
		return false, err
	}
	bj, err := ir.MarshalCanonical(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(aj, bj), nil
}
