package harness

import (
	"github.com/roach88/replicate/internal/ir"
)

// Trace entry kinds.
const (
	KindStep   = "step"
	KindHook   = "hook"
	KindNotify = "notify"
)

// TraceEvent is one entry of a scenario trace: a step, a replicator hook
// call, or a subscriber notification.
type TraceEvent struct {
	Kind string `json:"kind"`

	// Step entries
	Index  int    `json:"index,omitempty"`
	Op     string `json:"op,omitempty"`
	Target string `json:"target,omitempty"`
	Queued bool   `json:"queued,omitempty"`
	Ready  bool   `json:"ready,omitempty"`
	Error  string `json:"error,omitempty"`

	// Hook entries
	Replicator string     `json:"replicator,omitempty"`
	Hook       string     `json:"hook,omitempty"`
	Key        string     `json:"key,omitempty"`
	Prev       ir.IRValue `json:"prev,omitempty"`
	Next       ir.IRValue `json:"next,omitempty"`

	// Event is the event type for dispatch steps and hooks.
	Event string `json:"event,omitempty"`

	// State is the notified state for notify entries.
	State ir.IRObject `json:"state,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held and no step failed
	// unexpectedly.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	Errors []string `json:"errors,omitempty"`

	// State is the coordinator state after the last step.
	State ir.IRObject `json:"state"`

	// Ready is the coordinator readiness after the last step.
	Ready bool `json:"ready"`

	// Notifications counts subscriber notifications.
	Notifications int `json:"notifications"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Hooks returns the hook entries of one replicator in order.
func (r *Result) Hooks(replicator string) []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Kind == KindHook && e.Replicator == replicator {
			out = append(out, e)
		}
	}
	return out
}
