package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replicate/internal/ir"
)

func TestReadEvents_DeterministicOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, ev := range []ir.Event{
		{ID: "c", Type: "T", Seq: 3},
		{ID: "a", Type: "T", Seq: 1},
		{ID: "b", Type: "T", Seq: 2},
	} {
		require.NoError(t, s.AppendEvent(ctx, "app", ev))
	}
	require.NoError(t, s.AppendEvent(ctx, "other", ir.Event{ID: "z", Type: "T", Seq: 1}))

	events, err := s.ReadEvents(ctx, "app")
	require.NoError(t, err)

	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	last, err := s.LastSeq(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}

func TestReadEvents_Empty(t *testing.T) {
	s := createTestStore(t)
	events, err := s.ReadEvents(context.Background(), "nothing")
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)

	last, err := s.LastSeq(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestSnapshot_MergesWholeStateAndFields(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteField(ctx, FieldWrite{
		Key: "app", Field: "",
		Value: ir.IRObject{"wow": ir.IRString("whole"), "very": ir.IRInt(1)},
		Seq:   1,
	}))
	require.NoError(t, s.WriteField(ctx, FieldWrite{Key: "app", Field: "wow", Value: ir.IRString("field"), Seq: 2}))

	snap, err := s.Snapshot(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, ir.IRObject{"wow": ir.IRString("field"), "very": ir.IRInt(1)}, snap)
}

func TestFindKeys(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	writes := []FieldWrite{
		{Key: "user-2", Field: "email", Value: ir.IRString("a@example.com"), Seq: 1, Queryable: true},
		{Key: "user-1", Field: "email", Value: ir.IRString("a@example.com"), Seq: 1, Queryable: true},
		{Key: "user-3", Field: "email", Value: ir.IRString("b@example.com"), Seq: 1, Queryable: true},
		{Key: "user-4", Field: "email", Value: ir.IRString("a@example.com"), Seq: 1, Queryable: false},
	}
	for _, w := range writes {
		require.NoError(t, s.WriteField(ctx, w))
	}

	keys, err := s.FindKeys(ctx, "email", ir.IRString("a@example.com"))
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1", "user-2"}, keys)

	none, err := s.FindKeys(ctx, "email", ir.IRString("c@example.com"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestKeys(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteField(ctx, FieldWrite{Key: "b", Field: "f", Value: ir.IRInt(1), Seq: 1}))
	require.NoError(t, s.AppendEvent(ctx, "a", ir.Event{ID: "e1", Type: "T", Seq: 1}))
	require.NoError(t, s.AppendEvent(ctx, "b", ir.Event{ID: "e2", Type: "T", Seq: 1}))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
}
