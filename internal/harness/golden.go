package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/replicate/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Ready        bool         `json:"ready"`
	FinalState   ir.IRObject  `json:"final_state"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical
// JSON serialization. Absent values are left out rather than encoded.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{"kind": event.Kind}
		setString(eventMap, "op", event.Op)
		setString(eventMap, "target", event.Target)
		setString(eventMap, "error", event.Error)
		setString(eventMap, "replicator", event.Replicator)
		setString(eventMap, "hook", event.Hook)
		setString(eventMap, "key", event.Key)
		setString(eventMap, "event", event.Event)
		if event.Kind == KindStep {
			eventMap["ready"] = event.Ready
			if event.Index > 0 {
				eventMap["index"] = event.Index
			}
			if event.Queued {
				eventMap["queued"] = true
			}
		}
		if event.Prev != nil {
			eventMap["prev"] = event.Prev
		}
		if event.Next != nil {
			eventMap["next"] = event.Next
		}
		if event.State != nil {
			eventMap["state"] = event.State
		}
		traceList[i] = eventMap
	}

	state := s.FinalState
	if state == nil {
		state = ir.IRObject{}
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"ready":         s.Ready,
		"final_state":   state,
		"trace":         traceList,
	}
}

func setString(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// Snapshot builds the golden snapshot of a result.
func Snapshot(name string, result *Result) TraceSnapshot {
	return TraceSnapshot{
		ScenarioName: name,
		Ready:        result.Ready,
		FinalState:   result.State,
		Trace:        result.Trace,
	}
}

// Canonical returns the canonical JSON of the snapshot.
func (s TraceSnapshot) Canonical() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden
// file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := Snapshot(scenarioName, result)
	traceJSON, err := snapshot.Canonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
