package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/replicate/internal/selector"
)

// Scenario defines a replication scenario: a definition to run, the
// replicators attached to it, the steps to apply and the assertions that
// must hold afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Definition is the path to a CUE definition file or directory.
	// Relative paths are resolved against the scenario file location.
	Definition string `yaml:"definition"`

	// App selects one definition when the file declares several.
	App string `yaml:"app,omitempty"`

	// Key overrides the definition's replication key.
	Key string `yaml:"key,omitempty"`

	// Fields overrides the definition's field selection.
	Fields *selector.Spec `yaml:"fields,omitempty"`

	// Queryable overrides the definition's queryable fields.
	Queryable []string `yaml:"queryable,omitempty"`

	// ClientState is merged over the definition's client state.
	ClientState map[string]any `yaml:"client_state,omitempty"`

	Replicators []ReplicatorSpec `yaml:"replicators"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions"`
}

// Replicator types.
const (
	ReplicatorScripted = "scripted"
	ReplicatorSQLite   = "sqlite"
)

// Init modes for scripted replicators.
const (
	InitNone   = ""
	InitAuto   = "auto"
	InitManual = "manual"
)

// ReplicatorSpec describes one replicator of a scenario.
type ReplicatorSpec struct {
	Name string `yaml:"name"`

	// Type is scripted (default) or sqlite.
	Type string `yaml:"type,omitempty"`

	// Stored holds per-field answers for field-mode requests.
	Stored map[string]any `yaml:"stored,omitempty"`

	// StoredState is the answer for whole-state requests.
	StoredState map[string]any `yaml:"stored_state,omitempty"`

	// Hold parks initial state answers until a release step.
	Hold bool `yaml:"hold,omitempty"`

	// Init adds an Init hook: auto answers immediately, manual waits for
	// a mark_ready step.
	Init string `yaml:"init,omitempty"`

	// Fields gives this replicator its own field selection.
	Fields *selector.Spec `yaml:"fields,omitempty"`

	// Fail maps hook names to error messages the hook returns.
	Fail map[string]string `yaml:"fail,omitempty"`
}

// Step is one scenario step. Exactly one operation must be set.
type Step struct {
	Dispatch  *EventStep     `yaml:"dispatch,omitempty"`
	Submit    *EventStep     `yaml:"submit,omitempty"`
	Release   string         `yaml:"release,omitempty"`
	MarkReady string         `yaml:"mark_ready,omitempty"`
	SetKey    string         `yaml:"set_key,omitempty"`
	SetState  map[string]any `yaml:"set_state,omitempty"`

	// ExpectError requires the step to fail with an error containing it.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// EventStep is an event to dispatch or submit.
type EventStep struct {
	Type string         `yaml:"type"`
	Args map[string]any `yaml:"args,omitempty"`
}

// Step operations.
const (
	OpDispatch  = "dispatch"
	OpSubmit    = "submit"
	OpRelease   = "release"
	OpMarkReady = "mark_ready"
	OpSetKey    = "set_key"
	OpSetState  = "set_state"
)

// Op returns the step's operation name, or "" when none or several are set.
func (s Step) Op() string {
	var ops []string
	if s.Dispatch != nil {
		ops = append(ops, OpDispatch)
	}
	if s.Submit != nil {
		ops = append(ops, OpSubmit)
	}
	if s.Release != "" {
		ops = append(ops, OpRelease)
	}
	if s.MarkReady != "" {
		ops = append(ops, OpMarkReady)
	}
	if s.SetKey != "" {
		ops = append(ops, OpSetKey)
	}
	if s.SetState != nil {
		ops = append(ops, OpSetState)
	}
	if len(ops) != 1 {
		return ""
	}
	return ops[0]
}

// Assertion validates the outcome of a scenario.
type Assertion struct {
	// Type specifies the assertion type:
	// - "ready": coordinator readiness equals Ready
	// - "final_state": subset match of Expect against the final state
	// - "notifications": subscriber notification count equals Count
	// - "hook_count": Hook ran Count times on Replicator
	// - "hook_order": Hooks appear in this relative order on Replicator
	// - "requests": Replicator was asked for Fields, in order
	// - "stored": sqlite Replicator persisted Expect under Key
	Type string `yaml:"type"`

	Replicator string `yaml:"replicator,omitempty"`

	Hook  string   `yaml:"hook,omitempty"`
	Hooks []string `yaml:"hooks,omitempty"`

	Count int `yaml:"count,omitempty"`

	Ready bool `yaml:"ready,omitempty"`

	// Key is the store key for stored assertions; defaults to the
	// coordinator's key.
	Key string `yaml:"key,omitempty"`

	Fields []string `yaml:"fields,omitempty"`

	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertReady         = "ready"
	AssertFinalState    = "final_state"
	AssertNotifications = "notifications"
	AssertHookCount     = "hook_count"
	AssertHookOrder     = "hook_order"
	AssertRequests      = "requests"
	AssertStored        = "stored"
)

// LoadScenario reads and parses a scenario YAML file. The definition path
// is resolved relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict decoding catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Definition != "" && !filepath.IsAbs(scenario.Definition) {
		scenario.Definition = filepath.Join(filepath.Dir(path), scenario.Definition)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Definition == "" {
		return fmt.Errorf("definition is required")
	}
	if _, err := os.Stat(s.Definition); os.IsNotExist(err) {
		return fmt.Errorf("definition not found: %s", s.Definition)
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	names := make(map[string]*ReplicatorSpec, len(s.Replicators))
	for i := range s.Replicators {
		r := &s.Replicators[i]
		if r.Name == "" {
			return fmt.Errorf("replicators[%d]: name is required", i)
		}
		if _, dup := names[r.Name]; dup {
			return fmt.Errorf("replicators[%d]: duplicate name %q", i, r.Name)
		}
		names[r.Name] = r

		switch r.Type {
		case "", ReplicatorScripted:
		case ReplicatorSQLite:
			if r.Hold || r.Init != InitNone || r.Stored != nil || r.StoredState != nil || r.Fail != nil {
				return fmt.Errorf("replicators[%d]: sqlite replicators take no scripting options", i)
			}
		default:
			return fmt.Errorf("replicators[%d]: unknown type %q", i, r.Type)
		}

		switch r.Init {
		case InitNone, InitAuto, InitManual:
		default:
			return fmt.Errorf("replicators[%d]: init must be %q or %q", i, InitAuto, InitManual)
		}
	}

	for i, step := range s.Steps {
		op := step.Op()
		if op == "" {
			return fmt.Errorf("steps[%d]: exactly one operation is required", i)
		}
		switch op {
		case OpDispatch, OpSubmit:
			ev := step.Dispatch
			if ev == nil {
				ev = step.Submit
			}
			if ev.Type == "" {
				return fmt.Errorf("steps[%d].%s: type is required", i, op)
			}
		case OpRelease:
			r, ok := names[step.Release]
			if !ok {
				return fmt.Errorf("steps[%d]: unknown replicator %q", i, step.Release)
			}
			if !r.Hold {
				return fmt.Errorf("steps[%d]: replicator %q does not hold answers", i, step.Release)
			}
		case OpMarkReady:
			r, ok := names[step.MarkReady]
			if !ok {
				return fmt.Errorf("steps[%d]: unknown replicator %q", i, step.MarkReady)
			}
			if r.Init != InitManual {
				return fmt.Errorf("steps[%d]: replicator %q is not manually initialized", i, step.MarkReady)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], names); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, replicators map[string]*ReplicatorSpec) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	needReplicator := func() (*ReplicatorSpec, error) {
		if a.Replicator == "" {
			return nil, fmt.Errorf("assertions[%d]: replicator is required for %s", index, a.Type)
		}
		r, ok := replicators[a.Replicator]
		if !ok {
			return nil, fmt.Errorf("assertions[%d]: unknown replicator %q", index, a.Replicator)
		}
		return r, nil
	}

	switch a.Type {
	case AssertReady:
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertNotifications:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for notifications", index)
		}
	case AssertHookCount:
		if _, err := needReplicator(); err != nil {
			return err
		}
		if a.Hook == "" {
			return fmt.Errorf("assertions[%d]: hook is required for hook_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for hook_count", index)
		}
	case AssertHookOrder:
		if _, err := needReplicator(); err != nil {
			return err
		}
		if len(a.Hooks) == 0 {
			return fmt.Errorf("assertions[%d]: hooks list is required for hook_order", index)
		}
	case AssertRequests:
		r, err := needReplicator()
		if err != nil {
			return err
		}
		if r.Type == ReplicatorSQLite {
			return fmt.Errorf("assertions[%d]: requests needs a scripted replicator", index)
		}
	case AssertStored:
		r, err := needReplicator()
		if err != nil {
			return err
		}
		if r.Type != ReplicatorSQLite {
			return fmt.Errorf("assertions[%d]: stored needs a sqlite replicator", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for stored", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
