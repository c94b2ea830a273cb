package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replicate/internal/ir"
	"github.com/roach88/replicate/internal/selector"
)

const sample = `
definition: ./app.cue
app: wow
key: wow-store
fields:
  wow: true
  very: true
queryable: [wow]
client_state:
  awesome: 5
replicators:
  - type: sqlite
    path: ./replicate.db
  - type: badger
    path: ":memory:"
    prefix: "cache:"
  - type: metrics
  - type: log
log_level: debug
`

func TestParse_Full(t *testing.T) {
	cfg, err := Parse([]byte(sample), nil)
	require.NoError(t, err)

	assert.Equal(t, "./app.cue", cfg.Definition)
	assert.Equal(t, "wow", cfg.App)
	assert.Equal(t, "wow-store", cfg.Key)
	assert.Equal(t, selector.Whitelist("wow", "very").Entries(), cfg.Fields.Entries())
	assert.Equal(t, []string{"wow"}, cfg.Queryable)
	require.Len(t, cfg.Replicators, 4)
	assert.Equal(t, "cache:", cfg.Replicators[1].Prefix)
	assert.True(t, cfg.Replicators[0].JournalEnabled())

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	cs, err := cfg.ClientStateIR()
	require.NoError(t, err)
	assert.Equal(t, ir.IRObject{"awesome": ir.IRInt(5)}, cs)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil, nil)
	require.NoError(t, err)

	assert.Nil(t, cfg.Fields, "no selection means whole-state")
	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)

	cs, err := cfg.ClientStateIR()
	require.NoError(t, err)
	assert.Nil(t, cs)
}

func TestParse_UnknownKeyRejected(t *testing.T) {
	_, err := Parse([]byte("replicatorz: []\n"), nil)
	assert.Error(t, err)
}

func TestParse_JournalOff(t *testing.T) {
	cfg, err := Parse([]byte("replicators:\n  - type: sqlite\n    path: x.db\n    journal: false\n"), nil)
	require.NoError(t, err)
	assert.False(t, cfg.Replicators[0].JournalEnabled())
}

func TestParse_EnvOverrides(t *testing.T) {
	cfg, err := Parse([]byte(sample), map[string]string{
		"REPLICATE_KEY":         "from-env",
		"REPLICATE_LOG_LEVEL":   "warn",
		"REPLICATE_QUERYABLE":   "wow,very",
		"REPLICATE_SQLITE_PATH": "/tmp/env.db",
	})
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Key)
	assert.Equal(t, []string{"wow", "very"}, cfg.Queryable)
	assert.Equal(t, "/tmp/env.db", cfg.Replicators[0].Path)
	assert.Equal(t, "./app.cue", cfg.Definition, "unset variables keep file values")

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)
}

func TestParse_EnvAddsReplicator(t *testing.T) {
	cfg, err := Parse(nil, map[string]string{
		"REPLICATE_DEFINITION":  "defs/",
		"REPLICATE_BADGER_PATH": ":memory:",
	})
	require.NoError(t, err)

	assert.Equal(t, "defs/", cfg.Definition)
	r, ok := cfg.Replicator(TypeBadger)
	require.True(t, ok)
	assert.Equal(t, ":memory:", r.Path)

	_, ok = cfg.Replicator(TypeSQLite)
	assert.False(t, ok)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"unknown type", "replicators: [{type: redis}]", "replicators[0].type"},
		{"missing type", "replicators: [{path: x}]", "replicators[0].type"},
		{"sqlite without path", "replicators: [{type: sqlite}]", "replicators[0].path"},
		{"bad level", "log_level: loud", "log_level"},
		{"float client state", "client_state: {x: 1.5}", "client_state"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), nil)
			require.Error(t, err)
			require.True(t, IsConfigError(err), "got %v", err)

			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replicate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	t.Setenv("REPLICATE_APP", "other")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "other", cfg.App)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_MissingDefaultFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Replicators)
}
