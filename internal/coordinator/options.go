package coordinator

import (
	"context"
	"log/slog"

	"github.com/roach88/replicate/internal/ir"
	"github.com/roach88/replicate/internal/selector"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithKey sets the opaque store identifier passed to every replicator.
func WithKey(name string) Option {
	return func(c *Coordinator) {
		c.key = name
	}
}

// WithFields sets the field selection. nil (the default) selects the whole
// state and puts replicators in whole-state mode.
func WithFields(spec *selector.Spec) Option {
	return func(c *Coordinator) {
		c.fields = spec
	}
}

// WithReplicators appends replicators. Each is cloned per coordinator:
// through Cloner when implemented, otherwise through the replicator factory
// if one is set, otherwise used as-is.
func WithReplicators(replicators ...any) Option {
	return func(c *Coordinator) {
		c.replicators = append(c.replicators, replicators...)
	}
}

// WithReplicatorFactory adds one replicator built by factory at wrap time.
func WithReplicatorFactory(factory func() any) Option {
	return func(c *Coordinator) {
		c.factories = append(c.factories, factory)
	}
}

// WithClientState declares the snapshot the caller already holds. Fields
// present in it are not requested from replicators in field mode.
func WithClientState(state ir.IRObject) Option {
	return func(c *Coordinator) {
		c.clientState = state
	}
}

// WithQueryable marks fields whose Key carries Queryable=true.
func WithQueryable(fields ...string) Option {
	return func(c *Coordinator) {
		if c.queryable == nil {
			c.queryable = make(map[string]bool, len(fields))
		}
		for _, f := range fields {
			c.queryable[f] = true
		}
	}
}

// WithAllQueryable marks every selected field queryable.
func WithAllQueryable() Option {
	return func(c *Coordinator) {
		c.allQueryable = true
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithIDGenerator sets the generator used for events without an ID.
// Default: UUIDv7Generator.
func WithIDGenerator(gen IDGenerator) Option {
	return func(c *Coordinator) {
		c.ids = gen
	}
}

// WithClock sets the logical clock used to stamp events. Default: NewClock().
func WithClock(clock Sequencer) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithContext sets the base context passed to Init and GetInitialState.
// Default: context.Background().
func WithContext(ctx context.Context) Option {
	return func(c *Coordinator) {
		c.baseCtx = ctx
	}
}
