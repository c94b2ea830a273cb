package gate

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_ZeroFiresImmediately(t *testing.T) {
	calls := 0
	g := New(0, func() { calls++ })

	assert.Equal(t, 1, calls, "zero-sized gate fires inside New")
	assert.True(t, g.fired)
	assert.Equal(t, 0, g.remaining)
}

func TestGate_FiresAfterExactCount(t *testing.T) {
	// N replicators x M fields
	const n, m = 3, 4
	calls := 0
	g := New(n*m, func() { calls++ })

	for i := 0; i < n*m-1; i++ {
		g.Signal()
		require.Equal(t, 0, calls, "fired early after %d signals", i+1)
	}

	g.Signal()
	assert.Equal(t, 1, calls)
	assert.True(t, g.fired)
}

func TestGate_ExtraSignalsNeverRefire(t *testing.T) {
	calls := 0
	g := New(1, func() { calls++ })

	g.Signal()
	g.Signal()
	g.Signal()

	assert.Equal(t, 1, calls)
	assert.Equal(t, -2, g.remaining, "over-signaling drives the counter negative")
}

func TestGate_SignalFuncIsIdempotent(t *testing.T) {
	calls := 0
	g := New(2, func() { calls++ })

	first := g.SignalFunc()
	first()
	first()
	assert.Equal(t, 1, g.remaining)
	assert.Equal(t, 0, calls)

	g.SignalFunc()()
	assert.Equal(t, 1, calls)
}

func TestGate_ConcurrentSignals(t *testing.T) {
	const total = 200
	var calls atomic.Int32
	g := New(total, func() { calls.Add(1) }, WithName("concurrent"))

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Signal()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, g.remaining)
}

func TestGate_OnDoneMaySignalAnotherGate(t *testing.T) {
	outerCalls := 0
	outer := New(1, func() { outerCalls++ })
	inner := New(1, outer.Signal)

	inner.Signal()

	assert.Equal(t, 1, outerCalls)
}

func TestGate_NilCallback(t *testing.T) {
	g := New(1, nil)
	assert.NotPanics(t, g.Signal)
	assert.True(t, g.fired)
}
