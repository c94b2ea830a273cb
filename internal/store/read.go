package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/replicate/internal/ir"
)

// FieldRecord is a persisted field with its metadata.
type FieldRecord struct {
	Key       string
	Field     string
	Value     ir.IRValue
	Hash      string
	Seq       int64
	Queryable bool
}

// ReadField returns the stored value of one field.
// ok is false when nothing is stored.
func (s *Store) ReadField(ctx context.Context, key, field string) (value ir.IRValue, ok bool, err error) {
	var text string
	err = s.db.QueryRowContext(ctx, `
		SELECT value FROM fields WHERE store_key = ? AND field = ?
	`, key, field).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read field %s/%s: %w", key, field, err)
	}

	value, err = unmarshalValue(text)
	if err != nil {
		return nil, false, fmt.Errorf("read field %s/%s: %w", key, field, err)
	}
	return value, true, nil
}

// ReadFields returns every stored field of a key, ordered by field name.
// The whole-state row (field "") is included with Field "".
//
// Returns an empty slice (not nil) if nothing is stored.
func (s *Store) ReadFields(ctx context.Context, key string) ([]FieldRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT store_key, field, value, hash, seq, queryable
		FROM fields
		WHERE store_key = ?
		ORDER BY field COLLATE BINARY ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("query fields: %w", err)
	}
	defer rows.Close()

	records := []FieldRecord{}
	for rows.Next() {
		var rec FieldRecord
		var text string
		if err := rows.Scan(&rec.Key, &rec.Field, &text, &rec.Hash, &rec.Seq, &rec.Queryable); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		if rec.Value, err = unmarshalValue(text); err != nil {
			return nil, fmt.Errorf("field %s/%s: %w", rec.Key, rec.Field, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fields: %w", err)
	}
	return records, nil
}

// Snapshot returns the persisted state of a key as one object.
// Fields of a whole-state row are merged first; per-field rows win.
func (s *Store) Snapshot(ctx context.Context, key string) (ir.IRObject, error) {
	records, err := s.ReadFields(ctx, key)
	if err != nil {
		return nil, err
	}

	state := ir.IRObject{}
	for _, rec := range records {
		if rec.Field != "" {
			continue
		}
		whole, ok := rec.Value.(ir.IRObject)
		if !ok {
			return nil, fmt.Errorf("snapshot %s: whole-state row is %T, not an object", key, rec.Value)
		}
		state = ir.Merge(state, whole)
	}
	for _, rec := range records {
		if rec.Field != "" {
			state[rec.Field] = rec.Value
		}
	}
	return state, nil
}

// FindKeys returns the store keys whose queryable field equals value,
// ordered by key.
func (s *Store) FindKeys(ctx context.Context, field string, value ir.IRValue) ([]string, error) {
	valueJSON, err := marshalValue(value)
	if err != nil {
		return nil, fmt.Errorf("find keys: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT store_key FROM fields
		WHERE queryable = 1 AND field = ? AND value = ?
		ORDER BY store_key COLLATE BINARY ASC
	`, field, valueJSON)
	if err != nil {
		return nil, fmt.Errorf("find keys: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// Keys returns every store key with persisted fields or journaled events.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT store_key FROM fields
		UNION
		SELECT store_key FROM events
		ORDER BY 1
	`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// ReadEvents returns the journal of a key.
// Results are ordered deterministically: ORDER BY seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if no events exist.
func (s *Store) ReadEvents(ctx context.Context, key string) ([]ir.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, args, seq
		FROM events
		WHERE store_key = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []ir.Event{}
	for rows.Next() {
		var ev ir.Event
		var argsJSON string
		if err := rows.Scan(&ev.ID, &ev.Type, &argsJSON, &ev.Seq); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if ev.Args, err = unmarshalArgs(argsJSON); err != nil {
			return nil, fmt.Errorf("event %s: %w", ev.ID, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// LastSeq returns the highest journaled seq of a key, or 0.
// Coordinators resuming a key start their clock here.
func (s *Store) LastSeq(ctx context.Context, key string) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM events WHERE store_key = ?
	`, key).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq %s: %w", key, err)
	}
	return seq.Int64, nil
}
