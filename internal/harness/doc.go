// Package harness runs replication scenarios against a real coordinator.
//
// A scenario names an app definition, a set of replicators and a list of
// steps. The harness wraps a container running the definition's transition
// rules, applies each step, records a trace and evaluates assertions.
//
// # Scenario Format
//
//	name: delayed_hydration
//	description: "Events dispatched before hydration apply to loaded state"
//	definition: ../defs/wow.cue
//	app: wow
//	key: test
//	replicators:
//	  - name: delayed
//	    hold: true
//	    stored: {wow: stored-wow}
//	  - name: gate
//	    init: manual
//	  - name: db
//	    type: sqlite
//	steps:
//	  - dispatch: {type: APPEND_WOW, args: {value: "+live"}}
//	  - release: delayed
//	  - mark_ready: gate
//	  - set_key: other
//	  - set_state: {very: injected}
//	  - submit: {type: SET_VERY, args: {value: direct}}
//	assertions:
//	  - type: ready
//	    ready: true
//	  - type: final_state
//	    expect: {wow: stored-wow+live}
//	  - type: hook_count
//	    replicator: delayed
//	    hook: OnStateChange
//	    count: 1
//
// # Replicators
//
// Scripted replicators (the default type) answer GetInitialState from their
// stored values, optionally parking answers until a release step, and
// record every hook. init: manual adds an Init hook that waits for a
// mark_ready step; init: auto answers setReady from inside Init. A sqlite
// replicator persists into an in-memory store that stored assertions read.
//
// # Assertion Types
//
//   - ready: coordinator readiness after the last step
//   - final_state: subset match on the final state
//   - notifications: number of subscriber notifications
//   - hook_count: calls of one hook on one replicator
//   - hook_order: relative order of hooks on one replicator
//   - requests: fields one replicator was asked to load, in order
//   - stored: a field value persisted by a sqlite replicator
//
// # Deterministic Testing
//
// Event IDs come from testutil.SequentialIDs and sequence numbers from
// testutil.DeterministicClock, and every answer is delivered synchronously
// or by an explicit step, so traces are identical across runs and can be
// compared with golden files.
package harness
