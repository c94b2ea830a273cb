package replicator

import (
	"context"
	"log/slog"

	"github.com/roach88/replicate/internal/coordinator"
	"github.com/roach88/replicate/internal/ir"
)

// Logger writes every replicated change to a slog logger.
type Logger struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogger returns a logging replicator. nil uses slog.Default().
func NewLogger(logger *slog.Logger, level slog.Level) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger, level: level}
}

// Name implements coordinator.Namer.
func (l *Logger) Name() string {
	return "log"
}

// OnStateChange implements coordinator.StateChangeObserver.
func (l *Logger) OnStateChange(ctx context.Context, key coordinator.Key, prev, next ir.IRValue, ev ir.Event) error {
	l.logger.Log(ctx, l.level, "state changed",
		"key", key.Name,
		"field", key.Field,
		"event_type", ev.Type,
		"event_id", ev.ID,
		"seq", ev.Seq,
		"prev", render(prev),
		"next", render(next),
	)
	return nil
}

// PostDispatch implements coordinator.PostDispatcher.
func (l *Logger) PostDispatch(ctx context.Context, key coordinator.Key, _ coordinator.StateReader, ev ir.Event) error {
	l.logger.Log(ctx, l.level, "event dispatched",
		"key", key.Name,
		"event_type", ev.Type,
		"event_id", ev.ID,
		"seq", ev.Seq,
	)
	return nil
}

// OnReady implements coordinator.ReadyObserver.
func (l *Logger) OnReady(key coordinator.Key, c *coordinator.Coordinator) {
	l.logger.Log(context.Background(), l.level, "replication ready",
		"key", key.Name,
		"fields", len(c.GetState()),
	)
}

// render formats a value as canonical JSON for log output.
func render(v ir.IRValue) string {
	if v == nil {
		return "<absent>"
	}
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return "<unencodable>"
	}
	return string(b)
}
