package replicator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/replicate/internal/coordinator"
	"github.com/roach88/replicate/internal/ir"
	"github.com/roach88/replicate/internal/store"
)

// SQLite persists replicated fields and journals every reduction.
//
// Field mode writes one row per (key, field). Whole-state mode writes the
// state object under the empty field name. Journaled events can later be
// replayed with store.Replay.
type SQLite struct {
	store   *store.Store
	logger  *slog.Logger
	journal bool
}

// SQLiteOption configures a SQLite replicator.
type SQLiteOption func(*SQLite)

// WithSQLiteLogger sets the logger used for load errors.
func WithSQLiteLogger(logger *slog.Logger) SQLiteOption {
	return func(r *SQLite) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithoutJournal disables event journaling; only field snapshots are kept.
func WithoutJournal() SQLiteOption {
	return func(r *SQLite) {
		r.journal = false
	}
}

// NewSQLite returns a replicator backed by s. The caller owns s.
func NewSQLite(s *store.Store, opts ...SQLiteOption) *SQLite {
	r := &SQLite{
		store:   s,
		logger:  slog.Default(),
		journal: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name implements coordinator.Namer.
func (r *SQLite) Name() string {
	return "sqlite"
}

// GetInitialState implements coordinator.InitialStateProvider.
func (r *SQLite) GetInitialState(ctx context.Context, key coordinator.Key, respond func(ir.IRValue)) {
	if key.Field == "" {
		snap, err := r.store.Snapshot(ctx, key.Name)
		if err != nil {
			r.logger.Error("load snapshot failed", "key", key.Name, "error", err)
			respond(nil)
			return
		}
		if len(snap) == 0 {
			respond(nil)
			return
		}
		respond(snap)
		return
	}

	v, ok, err := r.store.ReadField(ctx, key.Name, key.Field)
	if err != nil {
		r.logger.Error("load field failed", "key", key.String(), "error", err)
		respond(nil)
		return
	}
	if !ok {
		respond(nil)
		return
	}
	respond(v)
}

// OnStateChange implements coordinator.StateChangeObserver.
// A field removed by the transition is deleted from the snapshot.
func (r *SQLite) OnStateChange(ctx context.Context, key coordinator.Key, _, next ir.IRValue, ev ir.Event) error {
	if next == nil {
		return r.store.DeleteField(ctx, key.Name, key.Field)
	}
	return r.store.WriteField(ctx, store.FieldWrite{
		Key:       key.Name,
		Field:     key.Field,
		Value:     next,
		Seq:       ev.Seq,
		Queryable: key.Queryable,
	})
}

// PostReduction implements coordinator.PostReducer by journaling ev.
// Events submitted straight to the container carry no ID; they get a
// content-addressed one so rewrites stay idempotent.
func (r *SQLite) PostReduction(ctx context.Context, key coordinator.Key, _, _ ir.IRObject, ev ir.Event) error {
	if !r.journal {
		return nil
	}
	if ev.ID == "" {
		id, err := ir.EventID(key.Name, ev)
		if err != nil {
			return fmt.Errorf("journal %s: %w", ev.Type, err)
		}
		ev.ID = id
	}
	return r.store.AppendEvent(ctx, key.Name, ev)
}
