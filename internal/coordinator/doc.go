// Package coordinator implements the replication coordinator: it wraps a
// state container, seeds it from replicators, and runs replicator hooks
// around every transition once hydration has finished.
//
// LIFECYCLE:
//
//  1. Wrap clones each replicator and installs the intercepted transition
//     function on the container.
//  2. Init is called on every Initializer with a setReady callback.
//  3. GetInitialState is requested once per (provider x selected field), or
//     once per provider in whole-state mode. The request count is fixed
//     before the first request is issued.
//  4. When every response has arrived the collected values are merged into
//     the container in a single notification, bypassing replicator hooks.
//  5. When hydration is done and every Initializer has called setReady the
//     coordinator flips to ready, flushes events queued by Dispatch in FIFO
//     order, and fires ready callbacks.
//
// Readiness is monotonic: SetKey re-runs Init under a new key and pauses the
// affected replicators' hooks, but never makes the coordinator not-ready.
//
// HOOK GATING:
//
// Hooks fire only when the coordinator is ready AND the replicator itself is
// ready. Events applied before then still transition state; consumers never
// block on replicator latency.
//
// CONCURRENCY:
//
// Replicators may answer from any goroutine. Transitions are serialized by
// the container. Hooks run inline on the transition path while the
// container's writer lock is held: they may read state through the
// StateReader they receive, but must not call Dispatch synchronously.
//
// There are no timeouts. A replicator that never calls setReady or respond
// stalls readiness for the whole coordinator.
package coordinator
