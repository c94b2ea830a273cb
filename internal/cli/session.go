package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/replicate/internal/compiler"
	"github.com/roach88/replicate/internal/config"
	"github.com/roach88/replicate/internal/container"
	"github.com/roach88/replicate/internal/coordinator"
	"github.com/roach88/replicate/internal/ir"
	"github.com/roach88/replicate/internal/replicator"
	"github.com/roach88/replicate/internal/store"
	"github.com/roach88/replicate/internal/transition"
)

// SessionOverrides are command-line values that win over the config file
// and environment.
type SessionOverrides struct {
	Definition string
	App        string
	Key        string
}

// Session is a wrapped container with its configured replicators.
type Session struct {
	Config     *config.Config
	Definition *compiler.Definition
	Rules      *transition.Rules
	Coord      *coordinator.Coordinator
	Registry   *prometheus.Registry
	Logger     *slog.Logger

	closers []io.Closer

	// sqlite is the first configured SQLite store; the clock resumes
	// after the highest seq it holds for the key.
	sqlite *store.Store
}

// Close releases every store opened for the session, newest first.
func (s *Session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// loadConfig reads the config named by the root options.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the text logger on w. --verbose forces debug level.
func newLogger(w io.Writer, cfg *config.Config, verbose bool) *slog.Logger {
	level, _ := cfg.Level()
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadDefinition compiles the configured definition and its rules.
func loadDefinition(path, app string) (*compiler.Definition, *transition.Rules, error) {
	if path == "" {
		return nil, nil, fmt.Errorf("no definition: set definition in %s, REPLICATE_DEFINITION or --definition", config.DefaultFile)
	}
	defs, err := compiler.Load(path)
	if err != nil {
		return nil, nil, err
	}
	def, err := compiler.Find(defs, app)
	if err != nil {
		return nil, nil, err
	}
	rules, err := transition.Compile(def.Rules)
	if err != nil {
		return nil, nil, fmt.Errorf("compile transitions: %w", err)
	}
	return def, rules, nil
}

// openSession loads the definition, opens every configured replicator and
// wraps a fresh container. The coordinator starts hydrating immediately.
func openSession(cfg *config.Config, over SessionOverrides, logger *slog.Logger) (*Session, error) {
	if over.Definition != "" {
		cfg.Definition = over.Definition
	}
	if over.App != "" {
		cfg.App = over.App
	}
	if over.Key != "" {
		cfg.Key = over.Key
	}

	def, rules, err := loadDefinition(cfg.Definition, cfg.App)
	if err != nil {
		return nil, err
	}

	s := &Session{
		Config:     cfg,
		Definition: def,
		Rules:      rules,
		Registry:   prometheus.NewRegistry(),
		Logger:     logger,
	}

	replicators, err := s.openReplicators()
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	clientState, err := cfg.ClientStateIR()
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if clientState == nil {
		clientState = def.Replication.ClientState
	}

	key := cfg.Key
	if key == "" {
		key = def.Replication.Key
	}

	fields := def.Replication.Fields
	if cfg.Fields != nil {
		fields = cfg.Fields
	}

	opts := []coordinator.Option{
		coordinator.WithKey(key),
		coordinator.WithReplicators(replicators...),
		coordinator.WithClientState(clientState),
		coordinator.WithQueryable(slices.Concat(def.Replication.Queryable, cfg.Queryable)...),
		coordinator.WithLogger(logger),
	}
	if fields != nil {
		opts = append(opts, coordinator.WithFields(fields))
	}
	if s.sqlite != nil {
		last, err := resumeSeq(context.Background(), s.sqlite, key)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		opts = append(opts, coordinator.WithClock(coordinator.NewClockAt(last)))
	}
	if def.Replication.AllQueryable {
		opts = append(opts, coordinator.WithAllQueryable())
	}

	c := container.New(rules.Func(), def.Initial.Clone())
	s.Coord = coordinator.Wrap(c, opts...)
	return s, nil
}

func (s *Session) openReplicators() ([]any, error) {
	var out []any
	for _, rc := range s.Config.Replicators {
		switch rc.Type {
		case config.TypeSQLite:
			st, err := store.Open(rc.Path)
			if err != nil {
				return nil, fmt.Errorf("open sqlite %s: %w", rc.Path, err)
			}
			s.closers = append(s.closers, st)
			if s.sqlite == nil {
				s.sqlite = st
			}
			opts := []replicator.SQLiteOption{replicator.WithSQLiteLogger(s.Logger)}
			if !rc.JournalEnabled() {
				opts = append(opts, replicator.WithoutJournal())
			}
			out = append(out, replicator.NewSQLite(st, opts...))

		case config.TypeBadger:
			db, err := replicator.OpenBadger(replicator.BadgerConfig{Path: rc.Path, Logger: s.Logger})
			if err != nil {
				return nil, err
			}
			s.closers = append(s.closers, db)
			out = append(out, replicator.NewBadger(db, rc.Prefix))

		case config.TypeMetrics:
			out = append(out, replicator.NewMetrics(s.Registry))

		case config.TypeLog:
			out = append(out, replicator.NewLogger(s.Logger, slog.LevelInfo))
		}
	}
	return out, nil
}

// resumeSeq returns the highest seq persisted for key, journaled or not.
// Persisted fields ignore writes with an older seq, so a restarted clock
// would silently drop changes.
func resumeSeq(ctx context.Context, st *store.Store, key string) (int64, error) {
	last, err := st.LastSeq(ctx, key)
	if err != nil {
		return 0, err
	}
	records, err := st.ReadFields(ctx, key)
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		last = max(last, rec.Seq)
	}
	return last, nil
}

// openStore opens the first configured SQLite store, or path when given.
func openStore(cfg *config.Config, path string) (*store.Store, error) {
	if path == "" {
		rc, ok := cfg.Replicator(config.TypeSQLite)
		if !ok {
			return nil, fmt.Errorf("no sqlite store: configure a sqlite replicator or pass --db")
		}
		path = rc.Path
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("store %s: %w", path, err)
	}
	return store.Open(path)
}

// canonical renders v as canonical JSON text.
func canonical(v ir.IRValue) string {
	if v == nil {
		return "<absent>"
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}
