package coordinator

import (
	"sync"

	"github.com/roach88/replicate/internal/ir"
)

// hydrationBuffer collects initial-state responses until the hydration gate
// fires. Responses may arrive on any goroutine.
type hydrationBuffer struct {
	mu     sync.Mutex
	values ir.IRObject
}

// put records a field-mode response. A later response for the same field
// replaces an earlier one.
func (b *hydrationBuffer) put(field string, v ir.IRValue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.values == nil {
		b.values = ir.IRObject{}
	}
	b.values[field] = v
}

// putAll records a whole-state response.
func (b *hydrationBuffer) putAll(obj ir.IRObject) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values = ir.Merge(b.values, obj)
}

func (b *hydrationBuffer) snapshot() ir.IRObject {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.values.Clone()
}

func (b *hydrationBuffer) clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values = nil
}

// mergeState is the pure half of hydration: {...current, ...partial}.
// Absent (nil) partial values never erase present ones.
func mergeState(current, partial ir.IRObject) ir.IRObject {
	return ir.Merge(current, partial)
}

// hydrate injects partial into the container.
//
// The merged state is installed with the container's set-and-notify
// primitive, so subscribers see exactly one notification and the intercepted
// transition function (and with it every replicator hook) is bypassed.
// Replicators never observe data they supplied themselves.
//
// Hydrations are serialized; an injection arriving while another is in
// flight waits for it. Returns false for an empty partial, which is a no-op.
func (c *Coordinator) hydrate(partial ir.IRObject) bool {
	if len(partial) == 0 {
		return false
	}

	c.hydrateMu.Lock()
	defer c.hydrateMu.Unlock()

	next := c.container.Update(func(current ir.IRObject) ir.IRObject {
		return mergeState(current, partial)
	})

	c.logger.Debug("state hydrated",
		"key", c.Key().Name,
		"fields", partial.SortedKeys(),
		"state_fields", len(next),
	)
	return true
}

// hydrateFromBuffer merges everything collected from replicators and then
// discards the buffer.
func (c *Coordinator) hydrateFromBuffer() {
	values := c.buffer.snapshot()
	if c.hydrate(values) {
		c.logger.Info("initial state loaded",
			"key", c.Key().Name,
			"fields", values.SortedKeys(),
		)
	}
	c.buffer.clear()
}
