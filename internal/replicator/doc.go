// Package replicator provides concrete replicators for the coordinator.
//
// Each type implements a subset of the optional coordinator hooks:
//
//   - SQLite: durable field snapshots plus an event journal (internal/store)
//   - Badger: a key/value cache shaped like a remote cache
//   - Metrics: Prometheus counters and a readiness gauge
//   - Logger: structured slog output of every change
//
// Persistence replicators answer GetInitialState from what they stored and
// write on OnStateChange. A backend error while loading is logged and
// answered with "nothing stored" so readiness never stalls on a bad row;
// write errors are returned and abort the transition.
package replicator
