package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replicate/internal/ir"
	"github.com/roach88/replicate/internal/selector"
)

func TestPendingQueue_FIFO(t *testing.T) {
	q := newPendingQueue()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.True(t, q.Enqueue(pendingEvent{ctx: ctx, ev: ir.Event{Seq: int64(i)}}))
	}
	assert.Equal(t, 3, q.Len())

	for i := 1; i <= 3; i++ {
		e, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, int64(i), e.ev.Seq)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestPendingQueue_CloseIfEmpty(t *testing.T) {
	q := newPendingQueue()
	q.Enqueue(pendingEvent{ev: ir.Event{Type: "A"}})

	assert.False(t, q.CloseIfEmpty(), "queue still holds an event")
	assert.False(t, q.closed)

	_, _ = q.TryDequeue()
	assert.True(t, q.CloseIfEmpty())
	assert.True(t, q.closed)
	assert.False(t, q.Enqueue(pendingEvent{ev: ir.Event{Type: "B"}}), "closed queue rejects events")
	assert.Equal(t, 0, q.Len())
}

func TestPendingQueue_ConcurrentEnqueue(t *testing.T) {
	q := newPendingQueue()
	const producers, perProducer = 10, 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(pendingEvent{})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, producers*perProducer, q.Len())
}

func TestClock(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())

	resumed := NewClockAt(41)
	assert.Equal(t, int64(42), resumed.Next())
}

func TestClock_ConcurrentUnique(t *testing.T) {
	c := NewClock()
	const n = 500

	var mu sync.Mutex
	seen := make(map[int64]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := c.Next()
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

func TestUUIDv7Generator(t *testing.T) {
	gen := UUIDv7Generator{}
	a, b := gen.Generate(), gen.Generate()

	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
	assert.Equal(t, byte('7'), a[14], "version nibble")
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", gen.Generate())
	assert.Equal(t, "b", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}

func TestReplicationError(t *testing.T) {
	cause := errors.New("disk full")
	err := newHookError("sqlite", "OnStateChange", "wow", cause)

	assert.Equal(t, "HOOK_FAILED: OnStateChange failed (replicator=sqlite, field=wow): disk full", err.Error())
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("dispatch: %w", err)
	assert.True(t, IsHookError(wrapped))
	assert.False(t, IsInvalidInitialState(wrapped))
	assert.False(t, IsNotReady(wrapped))
	assert.False(t, IsHookError(cause))

	invalid := newInvalidInitialStateError("cache", ir.IRString("x"))
	assert.True(t, IsInvalidInitialState(invalid))
	assert.Equal(t, "INVALID_INITIAL_STATE: whole-state initial state must be an object, got ir.IRString (replicator=cache)", invalid.Error())
}

func TestMergeState(t *testing.T) {
	current := ir.IRObject{"wow": ir.IRString("a"), "very": ir.IRString("b")}
	merged := mergeState(current, ir.IRObject{"wow": ir.IRString("c"), "gone": nil})

	assert.Equal(t, ir.IRObject{"wow": ir.IRString("c"), "very": ir.IRString("b")}, merged)
	assert.Equal(t, ir.IRString("a"), current["wow"], "inputs are not mutated")
	assert.False(t, ir.Same(current, merged))
}

func TestChangedFields(t *testing.T) {
	shared := ir.IRArray{ir.IRInt(1)}
	prev := ir.IRObject{"a": ir.IRInt(1), "b": shared, "c": ir.IRString("x"), "d": ir.IRBool(true)}
	next := ir.IRObject{"a": ir.IRInt(2), "b": shared, "e": ir.IRString("new"), "d": ir.IRBool(true)}

	assert.Equal(t, []string{"a", "e", "c"}, changedFields(selector.Blacklist("zzz"), prev, next),
		"next-order first, then removed fields")
	assert.Equal(t, []string{"a", "c"}, changedFields(selector.Whitelist("c", "b", "a"), prev, next))
	assert.Empty(t, changedFields(selector.None(), prev, next))
}

func TestHydrationBuffer(t *testing.T) {
	var b hydrationBuffer
	assert.Empty(t, b.snapshot())

	b.put("wow", ir.IRString("one"))
	b.put("wow", ir.IRString("two"))
	b.putAll(ir.IRObject{"very": ir.IRInt(1)})

	assert.Equal(t, ir.IRObject{"wow": ir.IRString("two"), "very": ir.IRInt(1)}, b.snapshot())

	b.clear()
	assert.Empty(t, b.snapshot())
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "store", Key{Name: "store"}.String())
	assert.Equal(t, "store/wow", Key{Name: "store", Field: "wow"}.String())
}
