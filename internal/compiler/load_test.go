package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wow.cue")
	require.NoError(t, os.WriteFile(path, []byte(wowApp), 0o644))

	defs, err := Load(path)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "wow", defs[0].Name)
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.cue"), []byte("package demo\n\napp: a: initial: {x: 1}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.cue"), []byte("package demo\n\napp: b: initial: {y: 2}\n"), 0o644))

	defs, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	b, err := Find(defs, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", b.Name)

	_, err = Find(defs, "")
	assert.Error(t, err, "ambiguous without a name")
	_, err = Find(defs, "c")
	assert.Error(t, err)
}

func TestLoadStringTopLevel(t *testing.T) {
	defs, err := LoadString(`
		initial: {n: 0}
		transitions: INC: set: n: "state.n + 1"
	`, "counter.cue")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "counter", defs[0].Name)
	assert.Equal(t, "counter", defs[0].Replication.Key)

	only, err := Find(defs, "")
	require.NoError(t, err)
	assert.Same(t, defs[0], only)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)

	_, err = LoadString(`other: 1`, "x.cue")
	assert.Error(t, err)

	_, err = LoadString(`app: x: initial: {`, "broken.cue")
	assert.Error(t, err)
}
