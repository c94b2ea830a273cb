package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const counterDef = `app: counter: {
	initial: {
		count: 0
		owner: "nobody"
		note:  "n/a"
	}

	transitions: {
		INC: set: count: "state.count + args.by"
		OWN: set: owner: "args.owner"
		NOTE: set: note: "args.text"
	}

	replicate: {
		fields: {count: true, owner: true}
		queryable: ["owner"]
	}
}
`

// fixture is a counter app with every replicator type configured.
type fixture struct {
	dir    string
	def    string
	db     string
	config string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:    dir,
		def:    filepath.Join(dir, "counter.cue"),
		db:     filepath.Join(dir, "state.db"),
		config: filepath.Join(dir, "replicate.yaml"),
	}
	require.NoError(t, os.WriteFile(f.def, []byte(counterDef), 0644))

	cfg := fmt.Sprintf(`definition: %q
log_level: warn
replicators:
  - type: sqlite
    path: %q
  - type: badger
    path: %q
    prefix: counter
  - type: metrics
  - type: log
`, f.def, f.db, filepath.Join(dir, "cache"))
	require.NoError(t, os.WriteFile(f.config, []byte(cfg), 0644))
	return f
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// run dispatches events through the fixture and fails the test on error.
func (f fixture) run(t *testing.T, events string, args ...string) string {
	t.Helper()
	out, err := execute(t, events, append([]string{"run", "--config", f.config}, args...)...)
	require.NoError(t, err, out)
	return out
}
