package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replicate/internal/ir"
)

// writeScenario writes a definition and a scenario into a temp dir and
// returns the scenario path.
func writeScenario(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()

	def, err := os.ReadFile(wowDefinition)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "defs"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "defs", "wow.cue"), def, 0644))

	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const validScenario = `
name: valid
description: "A valid scenario"
definition: defs/wow.cue
key: k
fields: {wow: true}
replicators:
  - name: slow
    hold: true
    stored: {wow: loaded}
  - name: gate
    init: manual
    fields: [very]
  - name: db
    type: sqlite
steps:
  - dispatch: {type: APPEND_WOW, args: {value: "!"}}
  - release: slow
  - mark_ready: gate
  - set_state: {awesome: set}
assertions:
  - type: ready
    ready: true
  - type: stored
    replicator: db
    expect: {wow: loaded!}
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, validScenario)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "valid", scenario.Name)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "defs", "wow.cue"), scenario.Definition)
	assert.Equal(t, "k", scenario.Key)
	assert.True(t, scenario.Fields.IsWhitelist())
	require.Len(t, scenario.Replicators, 3)
	assert.True(t, scenario.Replicators[0].Hold)
	assert.Equal(t, "loaded", scenario.Replicators[0].Stored["wow"])
	assert.Equal(t, InitManual, scenario.Replicators[1].Init)
	assert.True(t, scenario.Replicators[1].Fields.Allows("very"))
	assert.Equal(t, ReplicatorSQLite, scenario.Replicators[2].Type)

	require.Len(t, scenario.Steps, 4)
	assert.Equal(t, OpDispatch, scenario.Steps[0].Op())
	assert.Equal(t, OpRelease, scenario.Steps[1].Op())
	assert.Equal(t, OpMarkReady, scenario.Steps[2].Op())
	assert.Equal(t, OpSetState, scenario.Steps[3].Op())
}

func TestLoadScenario_RunsEndToEnd(t *testing.T) {
	scenario, err := LoadScenario(writeScenario(t, validScenario))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, ir.IRString("set"), result.State["awesome"])
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, validScenario+"\nassertion: []\n")

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing name",
			body: `
description: d
definition: defs/wow.cue
steps: [{set_key: x}]
assertions: [{type: ready}]
`,
			want: "name is required",
		},
		{
			name: "missing definition file",
			body: `
name: n
description: d
definition: defs/none.cue
steps: [{set_key: x}]
assertions: [{type: ready}]
`,
			want: "definition not found",
		},
		{
			name: "no steps",
			body: `
name: n
description: d
definition: defs/wow.cue
assertions: [{type: ready}]
`,
			want: "steps list is required",
		},
		{
			name: "two operations in one step",
			body: `
name: n
description: d
definition: defs/wow.cue
steps: [{set_key: x, release: r}]
assertions: [{type: ready}]
`,
			want: "steps[0]: exactly one operation is required",
		},
		{
			name: "release without hold",
			body: `
name: n
description: d
definition: defs/wow.cue
replicators: [{name: r}]
steps: [{release: r}]
assertions: [{type: ready}]
`,
			want: `replicator "r" does not hold answers`,
		},
		{
			name: "mark_ready on auto init",
			body: `
name: n
description: d
definition: defs/wow.cue
replicators: [{name: r, init: auto}]
steps: [{mark_ready: r}]
assertions: [{type: ready}]
`,
			want: `replicator "r" is not manually initialized`,
		},
		{
			name: "duplicate replicator",
			body: `
name: n
description: d
definition: defs/wow.cue
replicators: [{name: r}, {name: r}]
steps: [{set_key: x}]
assertions: [{type: ready}]
`,
			want: `duplicate name "r"`,
		},
		{
			name: "bad init mode",
			body: `
name: n
description: d
definition: defs/wow.cue
replicators: [{name: r, init: later}]
steps: [{set_key: x}]
assertions: [{type: ready}]
`,
			want: "init must be",
		},
		{
			name: "stored on scripted replicator",
			body: `
name: n
description: d
definition: defs/wow.cue
replicators: [{name: r}]
steps: [{set_key: x}]
assertions: [{type: stored, replicator: r, expect: {wow: x}}]
`,
			want: "stored needs a sqlite replicator",
		},
		{
			name: "hook_count without hook",
			body: `
name: n
description: d
definition: defs/wow.cue
replicators: [{name: r}]
steps: [{set_key: x}]
assertions: [{type: hook_count, replicator: r}]
`,
			want: "hook is required for hook_count",
		},
		{
			name: "unknown assertion type",
			body: `
name: n
description: d
definition: defs/wow.cue
steps: [{set_key: x}]
assertions: [{type: eventually}]
`,
			want: `unknown assertion type "eventually"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
