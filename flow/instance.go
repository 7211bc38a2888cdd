package flow

import (
	"sync"

	"github.com/stepflow-go/stepflow/flow/emit"
	"github.com/stepflow-go/stepflow/flow/rnode"
)

// Stats holds an instance's execution counters.
type Stats struct {
	// Steps is the number of step executions completed or failed so
	// far, across all pump calls.
	Steps int `json:"steps"`
}

// QueueItem is one pending step execution.
type QueueItem struct {
	StepName     string      `json:"stepName"`
	Payload      interface{} `json:"payload"`
	EnqueuedAtMs int64       `json:"enqueuedAtMs"`

	// TraceID is a per-enqueue token correlating logs and bridge calls.
	// Unique within the instance, not globally.
	TraceID string `json:"traceId"`

	// Attempt counts prior executions of this item; retries re-enqueue
	// with Attempt incremented.
	Attempt int `json:"attempt,omitempty"`
}

// Instance is one running workflow graph: a registry of step definitions
// and adjacency, a work queue, and the state every step's context sees.
//
// Pump calls on one instance are serialized by the running guard, so at
// most one step executes at a time within an instance. Different
// instances are independent and may be pumped concurrently.
type Instance struct {
	id   string
	eng  *Engine
	opts Options

	mu      sync.Mutex
	steps   map[string]*StepDefinition
	edges   map[string][]string
	queue   []QueueItem
	stats   Stats
	running bool

	// pending counts scheduled retries and parked suspensions; the
	// instance is finished only when both queue and pending are empty.
	pending int

	// shared is deliberately handed out unlocked: steps in one
	// instance never run concurrently with each other.
	shared map[string]interface{}

	logs map[string]*StepLog
	root *rnode.Node
}

func newInstance(id string, eng *Engine, opts Options) *Instance {
	return &Instance{
		id:     id,
		eng:    eng,
		opts:   opts,
		steps:  make(map[string]*StepDefinition),
		edges:  make(map[string][]string),
		shared: make(map[string]interface{}),
		logs:   make(map[string]*StepLog),
		root:   eng.tree.At(id),
	}
}

// ID returns the instance's identifier.
func (in *Instance) ID() string { return in.id }

// DefineStep registers or replaces a step definition. Replacing a name
// does not touch in-flight queue items bearing it; they execute under
// whatever definition is current at dequeue time.
func (in *Instance) DefineStep(name string, def StepDefinition) error {
	if name == "" {
		return &FlowError{Message: "step name cannot be empty", Code: "EMPTY_STEP_NAME"}
	}
	if def.Retry != nil {
		if err := def.Retry.Validate(); err != nil {
			return err
		}
	}
	def.Name = name

	in.mu.Lock()
	defer in.mu.Unlock()
	in.steps[name] = &def
	return nil
}

// AttachEffect re-attaches executable behavior to a step restored from a
// snapshot (snapshots carry definition metadata only, never code). Any of
// the arguments may be nil to leave that slot empty.
func (in *Instance) AttachEffect(name string, effect Effect, guard Guard, branch *BranchSpec) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	def, ok := in.steps[name]
	if !ok {
		return &FlowError{Message: "unknown step: " + name, Code: "STEP_NOT_FOUND"}
	}
	def.Effect = effect
	def.Guard = guard
	def.Branch = branch
	return nil
}

// Connect appends downstream names to a step's static adjacency list.
// Step existence is not validated, so graphs may be wired in any order.
func (in *Instance) Connect(from string, to ...string) error {
	if from == "" {
		return &FlowError{Message: "from step name cannot be empty", Code: "EMPTY_STEP_NAME"}
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	in.edges[from] = append(in.edges[from], to...)
	return nil
}

// On subscribes a handler to this instance's events only; events from
// other instances on the same engine are filtered out. Returns an
// unsubscribe function.
func (in *Instance) On(name string, handler emit.Handler) (off func()) {
	return in.eng.bus.On(name, func(ev emit.Event) {
		if ev.RunID == in.id {
			handler(ev)
		}
	})
}

// Shared returns the instance-wide key/value store visible to every
// step's context. The map itself is returned, not a copy, and it is not
// locked; see StepContext.Shared for the safety contract.
func (in *Instance) Shared() map[string]interface{} {
	return in.shared
}

// Stats returns a copy of the instance's counters.
func (in *Instance) Stats() Stats {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.stats
}

// QueueLen returns the number of pending queue items.
func (in *Instance) QueueLen() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.queue)
}

// StepLog returns the named step's log, creating it on first use.
func (in *Instance) StepLog(step string) *StepLog {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.stepLogLocked(step)
}

func (in *Instance) stepLogLocked(step string) *StepLog {
	l, ok := in.logs[step]
	if !ok {
		l = NewStepLog(in.opts.logRing())
		in.logs[step] = l
	}
	return l
}

// Node resolves a path under the instance's root in the reactive tree.
func (in *Instance) Node(path string) *rnode.Node {
	return in.root.At(path)
}

// stepNode returns a step's backing node.
func (in *Instance) stepNode(step string) *rnode.Node {
	return in.root.At("steps/" + step)
}

// TriggerOn watches a node path under the instance root and enqueues the
// given step with the node's new value whenever it changes, then pumps.
// Because node writes are equality-gated, rewriting an unchanged value
// triggers nothing. Returns an unsubscribe function.
func (in *Instance) TriggerOn(path string, step string) (off func()) {
	return in.Node(path).Watch(func(_, next interface{}) {
		in.Enqueue(step, next)
		in.Pump()
	})
}

// definition looks a step up at dequeue time (last-definition-wins).
func (in *Instance) definition(name string) *StepDefinition {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.steps[name]
}

// emit publishes an instance event on the engine's bus.
func (in *Instance) emit(name, stepID, traceID, msg string, meta map[string]interface{}) {
	in.mu.Lock()
	seq := in.stats.Steps
	in.mu.Unlock()

	in.eng.bus.Emit(emit.Event{
		Name:    name,
		RunID:   in.id,
		Seq:     seq,
		StepID:  stepID,
		TraceID: traceID,
		Msg:     msg,
		Meta:    meta,
	})
}
