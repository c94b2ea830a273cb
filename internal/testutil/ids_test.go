package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialIDs(t *testing.T) {
	gen := NewSequentialIDs("")
	assert.Equal(t, "evt-1", gen.Generate())
	assert.Equal(t, "evt-2", gen.Generate())

	custom := NewSequentialIDs("scenario")
	assert.Equal(t, "scenario-1", custom.Generate())
}
