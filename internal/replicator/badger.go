package replicator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/replicate/internal/coordinator"
	"github.com/roach88/replicate/internal/ir"
)

// BadgerConfig configures a Badger database for the cache replicator.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// Logger receives badger's internal logs. nil silences them.
	Logger *slog.Logger
}

// OpenBadger opens a badger database for cfg. The caller must Close it.
func OpenBadger(cfg BadgerConfig) (*badger.DB, error) {
	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Path == "":
		return nil, errors.New("badger: path is required unless in-memory")
	default:
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Badger caches replicated values in a badger database.
//
// Keys are "<prefix><store key>/<field>"; whole-state mode uses an empty
// field. Values are canonical JSON, so a cache shared by several processes
// always holds byte-identical payloads for equal states.
type Badger struct {
	db     *badger.DB
	prefix string
	logger *slog.Logger
}

// NewBadger returns a cache replicator writing into db under prefix.
// The caller owns db.
func NewBadger(db *badger.DB, prefix string) *Badger {
	return &Badger{db: db, prefix: prefix, logger: slog.Default()}
}

// Name implements coordinator.Namer.
func (r *Badger) Name() string {
	return "badger"
}

func (r *Badger) cacheKey(key coordinator.Key) []byte {
	return []byte(r.prefix + key.Name + "/" + key.Field)
}

// Get reads one cached value. ok is false when nothing is cached.
func (r *Badger) Get(key coordinator.Key) (v ir.IRValue, ok bool, err error) {
	err = r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.cacheKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, err := ir.UnmarshalIRValue(val)
			if err != nil {
				return err
			}
			v = decoded
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("badger get %s: %w", key, err)
	}
	return v, true, nil
}

// GetInitialState implements coordinator.InitialStateProvider.
func (r *Badger) GetInitialState(_ context.Context, key coordinator.Key, respond func(ir.IRValue)) {
	v, ok, err := r.Get(key)
	if err != nil {
		r.logger.Error("load cached value failed", "key", key.String(), "error", err)
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
func (r *Badger) OnStateChange(_ context.Context, key coordinator.Key, _, next ir.IRValue, _ ir.Event) error {
	k := r.cacheKey(key)
	if next == nil {
		return r.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(k)
		})
	}

	data, err := ir.MarshalCanonical(next)
	if err != nil {
		return fmt.Errorf("badger encode %s: %w", key, err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, data)
	})
}
