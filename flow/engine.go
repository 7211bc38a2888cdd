package flow

import (
	"context"
	"sync"

	"github.com/stepflow-go/stepflow/flow/emit"
	"github.com/stepflow-go/stepflow/flow/rnode"
)

// Engine owns the process-wide pieces every instance shares: the event
// bus, the reactive node tree, and the default Options (bridge, store,
// codec, metrics, budgets) new instances inherit.
type Engine struct {
	opts Options
	bus  *emit.Bus
	tree *rnode.Tree

	mu        sync.Mutex
	instances map[string]*Instance
}

// NewEngine creates an engine with the given default Options.
func NewEngine(opts Options) *Engine {
	if opts.Bridge != nil && opts.Metrics != nil {
		m := opts.Metrics
		opts.Bridge.SetCacheHitHook(func() {
			m.bridgeCacheHits.Inc()
		})
	}
	return &Engine{
		opts:      opts,
		bus:       emit.NewBus(opts.Emitter),
		tree:      rnode.NewTree(),
		instances: make(map[string]*Instance),
	}
}

// Bus returns the engine's event bus. Handlers subscribed here see events
// from every instance; use Instance.On for per-instance filtering.
func (e *Engine) Bus() *emit.Bus { return e.bus }

// Tree returns the engine's reactive node tree. Each instance's state
// lives under a subtree named by its id.
func (e *Engine) Tree() *rnode.Tree { return e.tree }

// Open returns the named instance, creating it with the engine's default
// Options on first use.
func (e *Engine) Open(id string) *Instance {
	return e.OpenWith(id, e.opts)
}

// OpenWith returns the named instance, creating it with the given Options
// on first use. Zero-valued shared fields (Bridge, Store, Codec, Metrics,
// Emitter aside, which lives on the bus) fall back to the engine's
// defaults. Options passed for an already-open id are ignored.
func (e *Engine) OpenWith(id string, opts Options) *Instance {
	e.mu.Lock()
	defer e.mu.Unlock()

	if in, ok := e.instances[id]; ok {
		return in
	}

	if opts.Bridge == nil {
		opts.Bridge = e.opts.Bridge
	}
	if opts.Store == nil {
		opts.Store = e.opts.Store
	}
	if opts.Codec == nil {
		opts.Codec = e.opts.Codec
	}
	if opts.Metrics == nil {
		opts.Metrics = e.opts.Metrics
	}

	in := newInstance(id, e, opts)
	e.instances[id] = in
	return in
}

// Instance returns the named instance if it is open.
func (e *Engine) Instance(id string) (*Instance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	in, ok := e.instances[id]
	return in, ok
}

// Instances returns the ids of all open instances.
func (e *Engine) Instances() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.instances))
	for id := range e.instances {
		ids = append(ids, id)
	}
	return ids
}

// Restore opens the named instance and loads its latest snapshot from the
// engine's store. The restored definitions are metadata-only; re-attach
// behavior with AttachEffect before pumping.
func (e *Engine) Restore(ctx context.Context, runID string) (*Instance, error) {
	if e.opts.Store == nil {
		return nil, &FlowError{Message: "no snapshot store configured", Code: "NO_STORE"}
	}
	rec, err := e.opts.Store.LoadLatest(ctx, runID)
	if err != nil {
		return nil, err
	}
	in := e.Open(runID)
	if err := in.Deserialize(rec.Data); err != nil {
		return nil, err
	}
	return in, nil
}

// Close releases the engine's shared resources: the snapshot store, if
// any. Instances are not drained first.
func (e *Engine) Close() error {
	if e.opts.Store != nil {
		return e.opts.Store.Close()
	}
	return nil
}
