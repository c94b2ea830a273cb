package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replicate/internal/ir"
)

func TestWriteField_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	value := ir.IRObject{"nested": ir.IRArray{ir.IRInt(1), ir.IRString("two"), ir.IRNull{}}}
	require.NoError(t, s.WriteField(ctx, FieldWrite{Key: "app", Field: "wow", Value: value, Seq: 1}))

	got, ok, err := s.ReadField(ctx, "app", "wow")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value, got)

	_, ok, err = s.ReadField(ctx, "app", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriteField_NullIsStored(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteField(ctx, FieldWrite{Key: "app", Field: "wow", Value: ir.IRNull{}, Seq: 1}))

	got, ok, err := s.ReadField(ctx, "app", "wow")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ir.IRNull{}, got)
}

func TestWriteField_AbsentValueRejected(t *testing.T) {
	s := createTestStore(t)
	err := s.WriteField(context.Background(), FieldWrite{Key: "app", Field: "wow", Seq: 1})
	assert.Error(t, err)
}

func TestWriteField_OlderSeqIgnored(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteField(ctx, FieldWrite{Key: "app", Field: "wow", Value: ir.IRString("new"), Seq: 5}))
	require.NoError(t, s.WriteField(ctx, FieldWrite{Key: "app", Field: "wow", Value: ir.IRString("old"), Seq: 3}))

	got, _, err := s.ReadField(ctx, "app", "wow")
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("new"), got)

	require.NoError(t, s.WriteField(ctx, FieldWrite{Key: "app", Field: "wow", Value: ir.IRString("same-seq"), Seq: 5}))
	got, _, err = s.ReadField(ctx, "app", "wow")
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("same-seq"), got, "equal seq overwrites")
}

func TestWriteField_HashMatchesIR(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteField(ctx, FieldWrite{Key: "app", Field: "wow", Value: ir.IRInt(7), Seq: 1, Queryable: true}))

	records, err := s.ReadFields(ctx, "app")
	require.NoError(t, err)
	require.Len(t, records, 1)

	want, err := ir.FieldHash("app", "wow", ir.IRInt(7))
	require.NoError(t, err)
	assert.Equal(t, want, records[0].Hash)
	assert.True(t, records[0].Queryable)
	assert.Equal(t, int64(1), records[0].Seq)
}

func TestDeleteField(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteField(ctx, FieldWrite{Key: "app", Field: "wow", Value: ir.IRInt(1), Seq: 1}))
	require.NoError(t, s.DeleteField(ctx, "app", "wow"))
	require.NoError(t, s.DeleteField(ctx, "app", "wow"), "deleting twice is a no-op")

	_, ok, err := s.ReadField(ctx, "app", "wow")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAppendEvent_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ev := ir.Event{ID: "evt-1", Type: "SET_WOW", Args: ir.IRObject{"value": ir.IRString("<&>")}, Seq: 1}
	require.NoError(t, s.AppendEvent(ctx, "app", ev))
	require.NoError(t, s.AppendEvent(ctx, "app", ev))

	events, err := s.ReadEvents(ctx, "app")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ev, events[0])

	var args string
	require.NoError(t, s.db.QueryRow("SELECT args FROM events WHERE id = 'evt-1'").Scan(&args))
	assert.Equal(t, `{"value":"<&>"}`, args, "canonical JSON, no HTML escaping")
}

func TestAppendEvent_RequiresID(t *testing.T) {
	s := createTestStore(t)
	err := s.AppendEvent(context.Background(), "app", ir.Event{Type: "X", Seq: 1})
	assert.Error(t, err)
}

func TestAppendEvent_NilArgs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, "app", ir.Event{ID: "e", Type: "NOOP", Seq: 1}))
	events, err := s.ReadEvents(ctx, "app")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ir.IRObject{}, events[0].Args)
}
