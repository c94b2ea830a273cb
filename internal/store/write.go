package store

import (
	"context"
	"fmt"

	"github.com/roach88/replicate/internal/ir"
)

// FieldWrite is one persisted field value.
type FieldWrite struct {
	Key       string
	Field     string // "" for a whole-state snapshot
	Value     ir.IRValue
	Seq       int64
	Queryable bool
}

// WriteField upserts the latest value of a field.
//
// The value is serialized to canonical JSON and hashed with ir.FieldHash.
// A write whose Seq is older than the stored row is ignored, so replicators
// that persist asynchronously cannot roll a field back.
func (s *Store) WriteField(ctx context.Context, w FieldWrite) error {
	if w.Value == nil {
		return fmt.Errorf("write field %s/%s: absent value (use DeleteField)", w.Key, w.Field)
	}

	valueJSON, err := marshalValue(w.Value)
	if err != nil {
		return fmt.Errorf("write field %s/%s: %w", w.Key, w.Field, err)
	}

	hash, err := ir.FieldHash(w.Key, w.Field, w.Value)
	if err != nil {
		return fmt.Errorf("write field %s/%s: %w", w.Key, w.Field, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fields (store_key, field, value, hash, seq, queryable)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(store_key, field) DO UPDATE SET
			value = excluded.value,
			hash = excluded.hash,
			seq = excluded.seq,
			queryable = excluded.queryable
		WHERE excluded.seq >= fields.seq
	`,
		w.Key,
		w.Field,
		valueJSON,
		hash,
		w.Seq,
		w.Queryable,
	)
	if err != nil {
		return fmt.Errorf("write field %s/%s: %w", w.Key, w.Field, err)
	}
	return nil
}

// DeleteField removes a persisted field. Deleting a missing field is a no-op.
func (s *Store) DeleteField(ctx context.Context, key, field string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM fields WHERE store_key = ? AND field = ?
	`, key, field); err != nil {
		return fmt.Errorf("delete field %s/%s: %w", key, field, err)
	}
	return nil
}

// AppendEvent journals an applied event.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - the same event written
// twice (e.g. by two hooks) is stored once.
func (s *Store) AppendEvent(ctx context.Context, key string, ev ir.Event) error {
	if ev.ID == "" {
		return fmt.Errorf("append event: missing id (type=%s, seq=%d)", ev.Type, ev.Seq)
	}

	argsJSON, err := marshalArgs(ev.Args)
	if err != nil {
		return fmt.Errorf("append event %s: %w", ev.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, store_key, type, args, seq, coordinator_version, ir_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		ev.ID,
		key,
		ev.Type,
		argsJSON,
		ev.Seq,
		ir.CoordinatorVersion,
		ir.SchemaVersion,
	)
	if err != nil {
		return fmt.Errorf("append event %s: %w", ev.ID, err)
	}
	return nil
}
