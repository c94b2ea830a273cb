package ir

// Event is a named transition request applied to a container's transition
// function. It is the only way state changes outside of hydration.
type Event struct {
	// ID correlates the event across replicators and journals.
	// Assigned by the coordinator when empty.
	ID string `json:"id,omitempty"`

	// Type names the transition (e.g. "SET_WOW").
	Type string `json:"type"`

	// Args carries the transition payload.
	Args IRObject `json:"args,omitempty"`

	// Seq is the logical clock value stamped at submission.
	// Zero means "not yet stamped".
	Seq int64 `json:"seq,omitempty"`
}

// NewEvent creates an unstamped event.
func NewEvent(typ string, args IRObject) Event {
	return Event{Type: typ, Args: args}
}

// Arg returns the named argument, or nil when absent.
func (e Event) Arg(name string) IRValue {
	if e.Args == nil {
		return nil
	}
	return e.Args[name]
}
