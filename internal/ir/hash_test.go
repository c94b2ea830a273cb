package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateHashDeterminism(t *testing.T) {
	a := IRObject{"wow": IRString("x"), "very": IRInt(1)}
	b := IRObject{"very": IRInt(1), "wow": IRString("x"), "absent": nil}

	ha, err := StateHash(a)
	require.NoError(t, err)
	hb, err := StateHash(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64, "SHA-256 hex is 64 characters")

	hn, err := StateHash(nil)
	require.NoError(t, err)
	he, err := StateHash(IRObject{})
	require.NoError(t, err)
	assert.Equal(t, hn, he)
}

func TestFieldHashChangesWithInput(t *testing.T) {
	h1, err := FieldHash("test", "wow", IRString("x"))
	require.NoError(t, err)
	h2, _ := FieldHash("test", "very", IRString("x"))
	h3, _ := FieldHash("other", "wow", IRString("x"))
	h4, _ := FieldHash("test", "wow", IRString("y"))

	assert.NotEqual(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.NotEqual(t, h1, h4)
}

func TestEventIDDomainSeparation(t *testing.T) {
	ev := Event{Type: "SET_WOW", Args: IRObject{"value": IRString("x")}, Seq: 1}

	id, err := EventID("test", ev)
	require.NoError(t, err)

	again, err := EventID("test", ev)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	ev.Seq = 2
	next, err := EventID("test", ev)
	require.NoError(t, err)
	assert.NotEqual(t, id, next)

	// Same bytes under a different domain never collide
	state, err := StateHash(IRObject{"key": IRString("test")})
	require.NoError(t, err)
	assert.NotEqual(t, id, state)
}
