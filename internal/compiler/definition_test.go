package compiler

import (
	"errors"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replicate/internal/ir"
	"github.com/roach88/replicate/internal/selector"
)

const wowApp = `
app: wow: {
	initial: {
		wow:     "initial"
		very:    "initial"
		awesome: 0
		tags: ["a", "b"]
		meta: {owner: null, open: true}
	}

	transitions: {
		SET_WOW: set: wow: "args.value"
		BUMP: {
			when: "args.by > 0"
			set: awesome: "state.awesome + args.by"
		}
		CLEAR: unset: ["very"]
	}

	replicate: {
		key: "wow-store"
		fields: {wow: true, very: true, awesome: true}
		queryable: ["wow"]
		client_state: {awesome: 5}
	}
}
`

func compileApp(t *testing.T, src, path string) (*Definition, error) {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	return CompileDefinition(v.LookupPath(cue.ParsePath(path)))
}

func TestCompileDefinitionBasic(t *testing.T) {
	def, err := compileApp(t, wowApp, "app.wow")
	require.NoError(t, err)

	assert.Equal(t, "wow", def.Name)
	assert.Equal(t, ir.IRObject{
		"wow":     ir.IRString("initial"),
		"very":    ir.IRString("initial"),
		"awesome": ir.IRInt(0),
		"tags":    ir.IRArray{ir.IRString("a"), ir.IRString("b")},
		"meta":    ir.IRObject{"owner": ir.IRNull{}, "open": ir.IRBool(true)},
	}, def.Initial)

	require.Len(t, def.Rules, 3)
	assert.Equal(t, "SET_WOW", def.Rules[0].Event)
	assert.Equal(t, map[string]string{"wow": "args.value"}, def.Rules[0].Set)
	assert.Equal(t, "args.by > 0", def.Rules[1].When)
	assert.Equal(t, []string{"very"}, def.Rules[2].Unset)

	rep := def.Replication
	assert.Equal(t, "wow-store", rep.Key)
	assert.Equal(t, []selector.Entry{
		{Field: "wow", Keep: true},
		{Field: "very", Keep: true},
		{Field: "awesome", Keep: true},
	}, rep.Fields.Entries(), "declaration order is preserved")
	assert.Equal(t, []string{"wow"}, rep.Queryable)
	assert.Equal(t, ir.IRObject{"awesome": ir.IRInt(5)}, rep.ClientState)
}

func TestCompileDefinitionDefaults(t *testing.T) {
	def, err := compileApp(t, `app: plain: initial: {n: 1}`, "app.plain")
	require.NoError(t, err)

	assert.Equal(t, "plain", def.Replication.Key, "key defaults to the name")
	assert.Nil(t, def.Replication.Fields, "no selection means whole-state")
	assert.Empty(t, def.Rules)
}

func TestCompileDefinitionSelectionForms(t *testing.T) {
	tests := []struct {
		name    string
		fields  string
		entries []selector.Entry
	}{
		{"list whitelist", `["b", "a"]`, []selector.Entry{{Field: "b", Keep: true}, {Field: "a", Keep: true}}},
		{"blacklist", `{a: false}`, []selector.Entry{{Field: "a", Keep: false}}},
		{"empty", `{}`, []selector.Entry{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := compileApp(t, `app: x: {initial: {a: 1, b: 2}, replicate: fields: `+tt.fields+`}`, "app.x")
			require.NoError(t, err)
			require.NotNil(t, def.Replication.Fields)
			assert.Equal(t, tt.entries, def.Replication.Fields.Entries())
		})
	}
}

func TestCompileDefinitionAllQueryable(t *testing.T) {
	def, err := compileApp(t, `app: x: {initial: {a: 1}, replicate: queryable: true}`, "app.x")
	require.NoError(t, err)
	assert.True(t, def.Replication.AllQueryable)
}

func TestCompileDefinitionErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"missing initial", `app: x: transitions: {}`, "initial"},
		{"initial not struct", `app: x: initial: [1]`, "initial"},
		{"float", `app: x: initial: {f: 1.5}`, "initial.f"},
		{"incomplete", `app: x: initial: {s: string}`, "initial.s"},
		{"non-string expression", `app: x: {initial: {a: 1}, transitions: T: set: a: 1}`, "transitions.T.set.a"},
		{"non-bool selection", `app: x: {initial: {a: 1}, replicate: fields: {a: "yes"}}`, "replicate.fields.a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileApp(t, tt.src, "app.x")
			require.Error(t, err)
			var ce *CompileError
			require.True(t, errors.As(err, &ce), "got %T: %v", err, err)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{Field: "initial", Message: "initial state is required"}
	assert.Equal(t, "initial: initial state is required", err.Error())
}

func TestCompileErrorMore(t *testing.T) {
	err := &CompileError{Field: "cue", Message: "conflicting values", More: 2}
	assert.Equal(t, "cue: conflicting values (and 2 more)", err.Error())
}
