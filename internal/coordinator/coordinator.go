package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/replicate/internal/container"
	"github.com/roach88/replicate/internal/gate"
	"github.com/roach88/replicate/internal/ir"
	"github.com/roach88/replicate/internal/selector"
)

// ReadyFunc is called once the coordinator is ready.
type ReadyFunc func(key Key, c *Coordinator)

// Coordinator wraps a container with replication.
//
// Thread-safety model:
//   - Dispatch, SetState, OnReady and SetKey are safe from any goroutine
//   - replicator callbacks (setReady, respond) may be invoked from any
//     goroutine
//   - hooks run on the goroutine that applied the event
type Coordinator struct {
	container *container.Container

	keyMu sync.RWMutex
	key   string

	fields       *selector.Spec
	replicators  []any
	factories    []func() any
	clientState  ir.IRObject
	queryable    map[string]bool
	allQueryable bool
	logger       *slog.Logger
	ids          IDGenerator
	clock        Sequencer
	baseCtx      context.Context

	slots []*slot

	baseMu sync.RWMutex
	base   container.TransitionFunc

	ready     atomic.Bool
	pending   *pendingQueue
	buffer    hydrationBuffer
	hydrateMu sync.Mutex
	readyGate *gate.Gate

	mu             sync.Mutex // guards the fields below
	readyFired     bool
	readyCallbacks []ReadyFunc
	readyCh        chan struct{}
	flushErr       error
}

// slot is the coordinator's working copy of one replicator.
type slot struct {
	index int
	name  string
	r     any

	// spec is the effective field selection; nil means whole-state mode.
	spec *selector.Spec

	ready atomic.Bool

	// gen invalidates setReady callbacks handed out before SetKey.
	gen atomic.Uint64

	// initSignal counts this replicator toward the first readiness cycle.
	initSignal func()
}

// Wrap installs replication on c and starts hydration.
//
// Wrap returns immediately; replicators answer asynchronously. Use OnReady or
// WaitReady to observe readiness. The container instance is never replaced:
// only its transition function is swapped for the intercepted one.
func Wrap(c *container.Container, opts ...Option) *Coordinator {
	co := &Coordinator{
		container: c,
		logger:    slog.Default(),
		ids:       UUIDv7Generator{},
		clock:     NewClock(),
		baseCtx:   context.Background(),
		pending:   newPendingQueue(),
		readyCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(co)
	}

	co.slots = co.cloneReplicators()

	co.base = c.Transition()
	c.ReplaceTransition(co.transition)

	co.start()
	return co
}

// cloneReplicators builds one slot per configured replicator.
func (c *Coordinator) cloneReplicators() []*slot {
	defs := make([]any, 0, len(c.replicators)+len(c.factories))
	for _, r := range c.replicators {
		if cl, ok := r.(Cloner); ok {
			r = cl.Clone()
		}
		defs = append(defs, r)
	}
	for _, f := range c.factories {
		defs = append(defs, f())
	}

	slots := make([]*slot, len(defs))
	for i, r := range defs {
		spec := c.fields
		if fs, ok := r.(FieldScoper); ok {
			spec = fs.Fields()
		}
		slots[i] = &slot{
			index: i,
			name:  replicatorName(r, i),
			r:     r,
			spec:  spec,
		}
	}
	return slots
}

// start runs the first initialization cycle.
func (c *Coordinator) start() {
	key := c.Key()

	initializers := 0
	for _, s := range c.slots {
		if _, ok := s.r.(Initializer); ok {
			initializers++
		}
	}

	// One signal for hydration plus one per Initializer.
	c.readyGate = gate.New(1+initializers, c.becomeReady, gate.WithName("ready:"+key.Name))

	c.logger.Info("replication starting",
		"key", key.Name,
		"replicators", len(c.slots),
		"initializers", initializers,
		"whole_state", c.fields == nil,
	)

	for _, s := range c.slots {
		in, ok := s.r.(Initializer)
		if !ok {
			s.ready.Store(true)
			continue
		}
		s.initSignal = c.readyGate.SignalFunc()
		in.Init(c.baseCtx, key, c, c.setReadyFunc(s, s.gen.Load()))
	}

	reqs := c.planRequests(key)
	c.logger.Debug("requesting initial state",
		"key", key.Name,
		"requests", len(reqs),
	)

	hydration := gate.New(len(reqs), c.finishHydration, gate.WithName("hydrate:"+key.Name))
	for _, req := range reqs {
		req.provider.GetInitialState(c.baseCtx, req.key, c.respondFunc(req, hydration))
	}
}

// initialStateRequest is one planned GetInitialState call.
type initialStateRequest struct {
	slot     *slot
	provider InitialStateProvider
	key      Key
}

// planRequests enumerates every GetInitialState call up front so the
// hydration gate can be sized before any replicator answers.
func (c *Coordinator) planRequests(key Key) []initialStateRequest {
	state := c.container.GetState()

	var reqs []initialStateRequest
	for _, s := range c.slots {
		p, ok := s.r.(InitialStateProvider)
		if !ok {
			continue
		}

		if s.spec == nil {
			reqs = append(reqs, initialStateRequest{slot: s, provider: p, key: Key{Name: key.Name}})
			continue
		}

		selector.Each(s.spec, state, func(field string, _ ir.IRValue) {
			if c.clientState[field] != nil {
				return
			}
			reqs = append(reqs, initialStateRequest{
				slot:     s,
				provider: p,
				key:      c.fieldKey(key.Name, field),
			})
		})
	}
	return reqs
}

// respondFunc returns the callback handed to GetInitialState.
func (c *Coordinator) respondFunc(req initialStateRequest, hydration *gate.Gate) func(ir.IRValue) {
	var responded atomic.Bool
	return func(v ir.IRValue) {
		if !responded.CompareAndSwap(false, true) {
			c.logger.Warn("replicator responded more than once, ignoring",
				"replicator", req.slot.name,
				"key", req.key.String(),
			)
			return
		}
		c.collect(req, v)
		hydration.Signal()
	}
}

// collect stores one initial-state response in the hydration buffer.
func (c *Coordinator) collect(req initialStateRequest, v ir.IRValue) {
	if v == nil {
		c.logger.Debug("no initial state stored",
			"replicator", req.slot.name,
			"key", req.key.String(),
		)
		return
	}

	if req.key.Field != "" {
		c.buffer.put(req.key.Field, v)
		return
	}

	obj, ok := v.(ir.IRObject)
	if !ok {
		err := newInvalidInitialStateError(req.slot.name, v)
		c.logger.Error("initial state rejected",
			"replicator", req.slot.name,
			"key", req.key.String(),
			"error", err,
		)
		return
	}
	c.buffer.putAll(obj)
}

// finishHydration runs when every initial-state response has arrived.
func (c *Coordinator) finishHydration() {
	c.hydrateFromBuffer()
	c.readyGate.Signal()
}

// setReadyFunc returns the setReady callback for one Init call.
func (c *Coordinator) setReadyFunc(s *slot, gen uint64) func() {
	var called atomic.Bool
	return func() {
		if !called.CompareAndSwap(false, true) {
			c.logger.Warn("replicator called setReady more than once",
				"replicator", s.name,
			)
			return
		}
		if s.gen.Load() != gen {
			c.logger.Debug("ignoring stale setReady",
				"replicator", s.name,
				"generation", gen,
			)
			return
		}
		s.ready.Store(true)
		c.logger.Debug("replicator ready", "replicator", s.name)
		if s.initSignal != nil {
			s.initSignal()
		}
	}
}

// becomeReady flips readiness, flushes queued events, then fires callbacks.
func (c *Coordinator) becomeReady() {
	c.ready.Store(true)
	c.logger.Info("replication ready",
		"key", c.Key().Name,
		"pending", c.pending.Len(),
	)

	c.flush()
	c.fireReady()
}

// flush replays queued events through the real dispatch path.
//
// ERROR HANDLING: a failing event is logged with full event context and the
// flush continues, so one bad event never strands the rest of the queue.
// The last failure is kept for FlushErr.
func (c *Coordinator) flush() {
	flushed := 0
	for {
		pe, ok := c.pending.TryDequeue()
		if !ok {
			if c.pending.CloseIfEmpty() {
				break
			}
			continue
		}

		flushed++
		if err := c.dispatch(pe.ctx, pe.ev); err != nil {
			c.logger.Error("queued event failed",
				"event_type", pe.ev.Type,
				"event_id", pe.ev.ID,
				"seq", pe.ev.Seq,
				"error", err,
			)
			c.mu.Lock()
			c.flushErr = err
			c.mu.Unlock()
		}
	}

	if flushed > 0 {
		c.logger.Debug("pending events flushed", "count", flushed)
	}
}

func (c *Coordinator) fireReady() {
	c.mu.Lock()
	c.readyFired = true
	callbacks := c.readyCallbacks
	c.readyCallbacks = nil
	close(c.readyCh)
	c.mu.Unlock()

	key := c.Key()
	for _, s := range c.slots {
		if ro, ok := s.r.(ReadyObserver); ok {
			ro.OnReady(key, c)
		}
	}
	for _, cb := range callbacks {
		cb(key, c)
	}
}

// transition is the intercepted transition function installed on the
// container. It applies the underlying transition and runs replicator hooks
// around it for every ready replicator. Events submitted straight to the
// container are stamped here, so hooks always see a seq and an ID.
func (c *Coordinator) transition(ctx context.Context, state ir.IRObject, ev ir.Event) (ir.IRObject, error) {
	base := c.baseTransition()
	if !c.ready.Load() {
		return base(ctx, state, ev)
	}

	ev = c.stamp(ev)
	key := c.Key()
	active := c.readySlots()

	for _, s := range active {
		if pr, ok := s.r.(PreReducer); ok {
			if err := pr.PreReduction(ctx, key, selector.Select(s.spec, state), ev); err != nil {
				return nil, newHookError(s.name, "PreReduction", "", err)
			}
		}
	}

	next, err := base(ctx, state, ev)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, container.ErrNilState
	}

	for _, s := range active {
		if obs, ok := s.r.(StateChangeObserver); ok {
			if err := c.notifyChanges(ctx, s, obs, key, state, next, ev); err != nil {
				return nil, err
			}
		}
		if pr, ok := s.r.(PostReducer); ok {
			prev, cur := selector.Select(s.spec, state), selector.Select(s.spec, next)
			if err := pr.PostReduction(ctx, key, prev, cur, ev); err != nil {
				return nil, newHookError(s.name, "PostReduction", "", err)
			}
		}
	}

	return next, nil
}

// notifyChanges calls OnStateChange for every selected field whose value
// changed by identity. Fields removed by the transition count as changed.
func (c *Coordinator) notifyChanges(ctx context.Context, s *slot, obs StateChangeObserver, key Key, prev, next ir.IRObject, ev ir.Event) error {
	if s.spec == nil {
		if ir.Same(prev, next) {
			return nil
		}
		if err := obs.OnStateChange(ctx, key, prev, next, ev); err != nil {
			return newHookError(s.name, "OnStateChange", "", err)
		}
		return nil
	}

	for _, field := range changedFields(s.spec, prev, next) {
		fk := c.fieldKey(key.Name, field)
		if err := obs.OnStateChange(ctx, fk, prev[field], next[field], ev); err != nil {
			return newHookError(s.name, "OnStateChange", field, err)
		}
	}
	return nil
}

// changedFields lists selected fields of prev or next whose values differ by
// identity, in the selector's visit order.
func changedFields(spec *selector.Spec, prev, next ir.IRObject) []string {
	seen := make(map[string]struct{})
	var changed []string
	visit := func(field string, _ ir.IRValue) {
		if _, dup := seen[field]; dup {
			return
		}
		seen[field] = struct{}{}
		if !ir.Same(prev[field], next[field]) {
			changed = append(changed, field)
		}
	}
	selector.Each(spec, next, visit)
	selector.Each(spec, prev, visit)
	return changed
}

// Dispatch submits ev through the coordinator.
//
// Events without a Seq or ID are stamped first. Before readiness the event is
// queued and Dispatch returns queued=true; it is applied after hydration, in
// submission order. After readiness PreDispatch hooks, the container
// transition and PostDispatch hooks run inline and their errors are returned.
func (c *Coordinator) Dispatch(ctx context.Context, ev ir.Event) (queued bool, err error) {
	ev = c.stamp(ev)

	if c.pending.Enqueue(pendingEvent{ctx: context.WithoutCancel(ctx), ev: ev}) {
		c.logger.Debug("event queued until ready",
			"event_type", ev.Type,
			"event_id", ev.ID,
			"seq", ev.Seq,
		)
		return true, nil
	}
	return false, c.dispatch(ctx, ev)
}

func (c *Coordinator) dispatch(ctx context.Context, ev ir.Event) error {
	key := c.Key()
	active := c.readySlots()

	for _, s := range active {
		if pd, ok := s.r.(PreDispatcher); ok {
			if err := pd.PreDispatch(ctx, key, c, ev); err != nil {
				return newHookError(s.name, "PreDispatch", "", err)
			}
		}
	}

	if _, err := c.container.Submit(ctx, ev); err != nil {
		return err
	}

	for _, s := range active {
		if pd, ok := s.r.(PostDispatcher); ok {
			if err := pd.PostDispatch(ctx, key, c, ev); err != nil {
				return newHookError(s.name, "PostDispatch", "", err)
			}
		}
	}
	return nil
}

func (c *Coordinator) stamp(ev ir.Event) ir.Event {
	if ev.Seq == 0 {
		ev.Seq = c.clock.Next()
	}
	if ev.ID == "" {
		ev.ID = c.ids.Generate()
	}
	return ev
}

// SetState injects partial through the hydration merge: fields in partial
// overwrite the current ones, subscribers are notified once, and no
// replicator hook fires. A nil or empty partial is a no-op.
func (c *Coordinator) SetState(partial ir.IRObject) {
	c.hydrate(partial)
}

// OnReady registers cb to run once the coordinator is ready. If it already
// is, cb runs immediately on the calling goroutine.
func (c *Coordinator) OnReady(cb ReadyFunc) {
	c.mu.Lock()
	if !c.readyFired {
		c.readyCallbacks = append(c.readyCallbacks, cb)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	cb(c.Key(), c)
}

// WaitReady blocks until ready callbacks have been released or ctx is done.
func (c *Coordinator) WaitReady(ctx context.Context) error {
	select {
	case <-c.readyCh:
		return nil
	case <-ctx.Done():
		return &ReplicationError{
			Code:    ErrCodeNotReady,
			Message: "coordinator did not become ready",
			Err:     ctx.Err(),
		}
	}
}

// SetKey re-runs Init for every Initializer under a new key.
//
// State already loaded is kept and no initial state is requested again.
// Each Initializer's hooks pause until it calls the new setReady; callbacks
// handed out before SetKey are ignored from now on. Coordinator readiness is
// unaffected. Setting the current key again does nothing.
func (c *Coordinator) SetKey(name string) {
	c.keyMu.Lock()
	old := c.key
	if name == old {
		c.keyMu.Unlock()
		return
	}
	c.key = name
	c.keyMu.Unlock()

	c.logger.Info("replication key changed", "old_key", old, "key", name)

	key := c.Key()
	for _, s := range c.slots {
		in, ok := s.r.(Initializer)
		if !ok {
			continue
		}
		gen := s.gen.Add(1)
		s.ready.Store(false)
		in.Init(c.baseCtx, key, c, c.setReadyFunc(s, gen))
	}
}

// ReplaceTransition swaps the underlying transition function while keeping
// interception in place.
func (c *Coordinator) ReplaceTransition(fn container.TransitionFunc) {
	if fn == nil {
		fn = container.Identity
	}
	c.baseMu.Lock()
	c.base = fn
	c.baseMu.Unlock()
}

func (c *Coordinator) baseTransition() container.TransitionFunc {
	c.baseMu.RLock()
	defer c.baseMu.RUnlock()
	return c.base
}

func (c *Coordinator) readySlots() []*slot {
	active := make([]*slot, 0, len(c.slots))
	for _, s := range c.slots {
		if s.ready.Load() {
			active = append(active, s)
		}
	}
	return active
}

func (c *Coordinator) fieldKey(name, field string) Key {
	return Key{
		Name:      name,
		Field:     field,
		Queryable: c.allQueryable || c.queryable[field],
	}
}

// GetState returns the container's current state.
func (c *Coordinator) GetState() ir.IRObject {
	return c.container.GetState()
}

// Subscribe registers a container listener.
func (c *Coordinator) Subscribe(l container.Listener) (cancel func()) {
	return c.container.Subscribe(l)
}

// Container returns the wrapped container.
func (c *Coordinator) Container() *container.Container {
	return c.container
}

// Key returns the current store key.
func (c *Coordinator) Key() Key {
	c.keyMu.RLock()
	defer c.keyMu.RUnlock()
	return Key{Name: c.key}
}

// Ready reports whether hydration has completed.
func (c *Coordinator) Ready() bool {
	return c.ready.Load()
}

// Pending returns the number of events waiting for readiness.
func (c *Coordinator) Pending() int {
	return c.pending.Len()
}

// Replicators returns the replicator names in configuration order.
func (c *Coordinator) Replicators() []string {
	names := make([]string, len(c.slots))
	for i, s := range c.slots {
		names[i] = s.name
	}
	return names
}

// Replicator returns the working copy of the i-th replicator.
func (c *Coordinator) Replicator(i int) any {
	return c.slots[i].r
}

// FlushErr returns the last error raised while flushing queued events.
func (c *Coordinator) FlushErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushErr
}
