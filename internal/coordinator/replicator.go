package coordinator

import (
	"context"
	"fmt"

	"github.com/roach88/replicate/internal/ir"
	"github.com/roach88/replicate/internal/selector"
)

// Key identifies the replicated store, and in field mode the field a hook
// call concerns.
type Key struct {
	// Name is the opaque store identifier configured with WithKey.
	Name string `json:"name"`

	// Field is the state field, empty in whole-state mode and for hooks that
	// see the whole (filtered) state.
	Field string `json:"field,omitempty"`

	// Queryable marks fields the replicator should index for lookup.
	Queryable bool `json:"queryable,omitempty"`
}

func (k Key) String() string {
	if k.Field == "" {
		return k.Name
	}
	return k.Name + "/" + k.Field
}

// StateReader gives hooks read access to the coordinated state.
type StateReader interface {
	GetState() ir.IRObject
}

// A replicator is any value. The coordinator probes it for the optional
// capabilities below and calls only the hooks it implements.

// Initializer is implemented by replicators that need setup before their
// hooks may fire. setReady must be called exactly once per Init call; until
// then the replicator's hooks are skipped and the coordinator stays not-ready.
type Initializer interface {
	Init(ctx context.Context, key Key, store StateReader, setReady func())
}

// InitialStateProvider supplies initial state. respond must be called exactly
// once; a nil value means "nothing stored" and is ignored.
//
// In field mode the coordinator asks once per selected field and expects the
// field's value. In whole-state mode key.Field is empty and the response must
// be an ir.IRObject.
type InitialStateProvider interface {
	GetInitialState(ctx context.Context, key Key, respond func(ir.IRValue))
}

// StateChangeObserver is notified per selected field whose value changed by
// identity. In whole-state mode it is called once with the whole states.
type StateChangeObserver interface {
	OnStateChange(ctx context.Context, key Key, prev, next ir.IRValue, ev ir.Event) error
}

// PreReducer observes the filtered state before the transition runs.
type PreReducer interface {
	PreReduction(ctx context.Context, key Key, state ir.IRObject, ev ir.Event) error
}

// PostReducer observes the filtered states around a transition.
type PostReducer interface {
	PostReduction(ctx context.Context, key Key, prev, next ir.IRObject, ev ir.Event) error
}

// PreDispatcher runs before a dispatched event reaches the container.
type PreDispatcher interface {
	PreDispatch(ctx context.Context, key Key, store StateReader, ev ir.Event) error
}

// PostDispatcher runs after a dispatched event was applied.
type PostDispatcher interface {
	PostDispatch(ctx context.Context, key Key, store StateReader, ev ir.Event) error
}

// ReadyObserver is called once when the coordinator first becomes ready.
type ReadyObserver interface {
	OnReady(key Key, c *Coordinator)
}

// FieldScoper replaces the coordinator's field selection for one replicator.
// Returning nil puts the replicator in whole-state mode.
type FieldScoper interface {
	Fields() *selector.Spec
}

// Cloner returns an independent working copy so per-coordinator mutable
// fields never leak between coordinators sharing one definition.
type Cloner interface {
	Clone() any
}

// Namer lets a replicator choose its name in logs and errors.
type Namer interface {
	Name() string
}

// replicatorName returns a stable label for logs and errors.
func replicatorName(r any, index int) string {
	if n, ok := r.(Namer); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T#%d", r, index)
}
