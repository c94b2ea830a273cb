package ir

// Version constants for persisted payloads and the coordinator.
const (
	// SchemaVersion is the version of persisted field and event payloads.
	SchemaVersion = "1"

	// CoordinatorVersion is the replicate coordinator version.
	CoordinatorVersion = "0.1.0"
)
