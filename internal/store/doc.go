// Package store provides SQLite-backed durable storage for replicated state.
//
// The store holds two tables:
//   - fields: the latest value of every persisted (store key, field) pair,
//     written by the SQLite replicator as fields change
//   - events: an append-only journal of every event applied after
//     readiness, used to rebuild and audit state
//
// # Critical Patterns
//
// Logical time:
//   - All ordering uses seq INTEGER (logical clock), NEVER timestamps
//   - A field write carrying an older seq than the stored row is ignored
//
// Deterministic reads:
//   - Journal queries use ORDER BY seq ASC, id ASC COLLATE BINARY
//   - Values are stored as RFC 8785 canonical JSON, so equal values have
//     equal text and queryable lookups compare TEXT directly
//
// Idempotency:
//   - events.id is the primary key; appending the same event twice is a no-op
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
