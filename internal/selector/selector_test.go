package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/replicate/internal/ir"
)

func sampleState() ir.IRObject {
	return ir.IRObject{
		"a": ir.IRInt(1),
		"b": ir.IRInt(2),
		"c": ir.IRInt(3),
	}
}

func TestSelect_Whitelist(t *testing.T) {
	got := Select(Whitelist("a", "b"), sampleState())
	assert.Equal(t, ir.IRObject{"a": ir.IRInt(1), "b": ir.IRInt(2)}, got)
}

func TestSelect_Blacklist(t *testing.T) {
	got := Select(Blacklist("a"), sampleState())
	assert.Equal(t, ir.IRObject{"b": ir.IRInt(2), "c": ir.IRInt(3)}, got)
}

func TestSelect_EmptySelectsNothing(t *testing.T) {
	got := Select(None(), sampleState())
	assert.Equal(t, ir.IRObject{}, got)
}

func TestSelect_NilReturnsSameReference(t *testing.T) {
	state := sampleState()
	got := Select(nil, state)
	assert.True(t, ir.Same(state, got), "nil spec must return the state itself")
}

func TestSelect_SkipsAbsentFields(t *testing.T) {
	state := ir.IRObject{"a": ir.IRInt(1), "b": nil}

	assert.Equal(t, ir.IRObject{"a": ir.IRInt(1)}, Select(Whitelist("a", "b", "z"), state))
	assert.Equal(t, ir.IRObject{"a": ir.IRInt(1)}, Select(Blacklist("z"), state))
}

func TestSelect_NullIsPresent(t *testing.T) {
	state := ir.IRObject{"a": ir.IRNull{}}
	assert.Equal(t, state, Select(Whitelist("a"), state))
}

func TestSelect_FirstKeyWins(t *testing.T) {
	// Mixed polarity: first entry is truthy, so the whole spec is a whitelist
	// and "b" (declared false) is still a whitelist member.
	spec := FromEntries(Entry{"a", true}, Entry{"b", false})
	assert.Equal(t, ir.IRObject{"a": ir.IRInt(1), "b": ir.IRInt(2)}, Select(spec, sampleState()))

	// First entry falsy: blacklist, "b" excluded despite being declared true.
	spec = FromEntries(Entry{"a", false}, Entry{"b", true})
	assert.Equal(t, ir.IRObject{"c": ir.IRInt(3)}, Select(spec, sampleState()))
}

func TestEach_Order(t *testing.T) {
	state := sampleState()

	assert.Equal(t, []string{"c", "a"}, Fields(Whitelist("c", "a"), state), "whitelist follows declaration order")
	assert.Equal(t, []string{"a", "b", "c"}, Fields(nil, state), "nil spec follows canonical order")
	assert.Equal(t, []string{"a", "c"}, Fields(Blacklist("b"), state))
	assert.Empty(t, Fields(None(), state))
}

func TestEach_VisitsValues(t *testing.T) {
	visited := ir.IRObject{}
	Each(Whitelist("b"), sampleState(), func(field string, value ir.IRValue) {
		visited[field] = value
	})
	assert.Equal(t, ir.IRObject{"b": ir.IRInt(2)}, visited)
}

func TestAllows(t *testing.T) {
	var all *Spec
	assert.True(t, all.Allows("anything"))
	assert.False(t, None().Allows("a"))
	assert.True(t, Whitelist("a").Allows("a"))
	assert.False(t, Whitelist("a").Allows("b"))
	assert.False(t, Blacklist("a").Allows("a"))
	assert.True(t, Blacklist("a").Allows("b"))
}

func TestFromEntries_Duplicates(t *testing.T) {
	spec := FromEntries(Entry{"a", true}, Entry{"a", false}, Entry{"b", true})
	assert.Equal(t, []Entry{{"a", true}, {"b", true}}, spec.Entries())
}

func TestMergeStates(t *testing.T) {
	s1 := ir.IRObject{"wow": ir.IRString("one"), "very": ir.IRString("x")}
	s2 := ir.IRObject{"wow": ir.IRString("two"), "awesome": ir.IRString("y")}

	assert.Equal(t,
		ir.IRObject{"wow": ir.IRString("two"), "very": ir.IRString("x"), "awesome": ir.IRString("y")},
		MergeStates(nil, s1, s2))
	assert.Equal(t,
		ir.IRObject{"wow": ir.IRString("two")},
		MergeStates(Whitelist("wow"), s1, s2))
	assert.Equal(t,
		ir.IRObject{"very": ir.IRString("x"), "awesome": ir.IRString("y")},
		MergeStates(Blacklist("wow"), s1, s2))
	assert.Equal(t, ir.IRObject{}, MergeStates(None(), s1, s2))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *Spec
	}{
		{"empty", "", nil},
		{"null", "null", nil},
		{"json whitelist keeps order", `{"very": true, "wow": true}`, Whitelist("very", "wow")},
		{"yaml blacklist", "{awesome: false}", Blacklist("awesome")},
		{"sequence", "[wow, very]", Whitelist("wow", "very")},
		{"empty mapping", "{}", None()},
		{"int truthiness", "{a: 1, b: 0}", FromEntries(Entry{"a", true}, Entry{"b", false})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want.Entries(), got.Entries())
			assert.Equal(t, tt.want.IsWhitelist(), got.IsWhitelist())
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse(`"just a string"`)
	assert.Error(t, err)
}

func TestYAMLRoundTrip(t *testing.T) {
	type doc struct {
		Fields *Spec `yaml:"fields"`
		Other  *Spec `yaml:"other"`
	}

	var d doc
	require.NoError(t, yaml.Unmarshal([]byte("fields:\n  wow: true\n  very: true\nother: null\n"), &d))
	require.NotNil(t, d.Fields)
	assert.Nil(t, d.Other)
	assert.Equal(t, []string{"wow", "very"}, Fields(d.Fields, ir.IRObject{
		"very": ir.IRString("v"),
		"wow":  ir.IRString("w"),
	}))

	out, err := yaml.Marshal(doc{Fields: Blacklist("awesome")})
	require.NoError(t, err)
	assert.Contains(t, string(out), "awesome: false")
	assert.Equal(t, "{awesome: false}", Blacklist("awesome").String())
}
