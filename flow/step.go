package flow

import (
	"context"
	"time"

	"github.com/stepflow-go/stepflow/flow/rnode"
)

// ExecutionDomain names where a step's effect actually runs.
type ExecutionDomain string

const (
	// DomainLocal runs the effect synchronously in-process.
	DomainLocal ExecutionDomain = "local"

	// DomainRemote runs the effect through the cross-domain bridge,
	// unless this process is itself the remote domain.
	DomainRemote ExecutionDomain = "remote"

	// DomainBoth runs the effect in both domains, ordered per
	// BothOrder.
	DomainBoth ExecutionDomain = "both"
)

// BothOrder sequences the two executions of a DomainBoth step.
type BothOrder string

const (
	// RemoteFirst runs the remote execution, then the local one.
	RemoteFirst BothOrder = "remote-first"

	// LocalFirst runs the local execution, then the remote one.
	LocalFirst BothOrder = "local-first"

	// Parallel fires both without sequencing between them; failures in
	// either are independent of the other.
	Parallel BothOrder = "parallel"
)

// Effect is the operation a step performs. It receives the execution's
// context and returns the step's output value, which is committed to the
// step's backing node and used as the payload for downstream enqueues.
//
// Effects must be safe to re-run: a retried execution may race with state
// a failed prior attempt left behind in Shared or the node tree.
type Effect func(sc *StepContext) (interface{}, error)

// Guard is a veto predicate evaluated before a step runs. Returning false
// skips the execution entirely: no effect, no branch, no events beyond a
// step-log line.
type Guard func(sc *StepContext) bool

// MergeFunc reconciles the local and remote outputs of a DomainBoth step.
// When nil, the later completion's value wins.
type MergeFunc func(local, remote interface{}) interface{}

// BranchSpec selects downstream steps after a successful effect (or
// immediately, for steps with no effect). Exactly one of the two forms is
// used: predicate (When/Then/Else) or multiway (Switch/Cases/Default).
//
// Branch enqueues carry the step's own output as payload. A multiway key
// matching no case falls to Default when present; otherwise no downstream
// enqueue occurs, which is not an error.
type BranchSpec struct {
	// When is the predicate form's condition.
	When func(sc *StepContext) bool

	// Then is enqueued when the predicate holds.
	Then string

	// Else, when non-empty, is enqueued when the predicate does not hold.
	Else string

	// Switch resolves the multiway form's case key.
	Switch func(sc *StepContext) string

	// Cases maps case keys to step names.
	Cases map[string]string

	// Default, when non-empty, catches unmatched keys.
	Default string
}

// StepDefinition describes one named unit of work in a workflow graph.
//
// Re-defining a name replaces the definition, but queue items already in
// flight execute under whatever definition is current at dequeue time.
type StepDefinition struct {
	// Name is the step's unique key within the instance. Filled in by
	// DefineStep.
	Name string

	// Domain selects where the effect runs. Empty means DomainLocal.
	Domain ExecutionDomain

	// Effect is the operation to run. May be nil for a pure
	// branch/guard node.
	Effect Effect

	// Branch optionally selects downstream steps.
	Branch *BranchSpec

	// Guard optionally vetoes execution.
	Guard Guard

	// Retry configures failure retries. Nil disables them.
	Retry *RetrySpec

	// BothOrder sequences DomainBoth executions. Empty means
	// RemoteFirst.
	BothOrder BothOrder

	// Merge reconciles the two outputs of a Parallel DomainBoth step.
	// Nil means last writer wins.
	Merge MergeFunc

	// StaticNext is the fallback downstream list, used when the effect
	// performs no explicit enqueue and no branch is configured. When
	// empty, the instance's Connect adjacency is the fallback instead.
	StaticNext []string

	// Timeout bounds this step's effect. 0 falls back to
	// Options.DefaultStepTimeout.
	Timeout time.Duration
}

func (d *StepDefinition) domain() ExecutionDomain {
	if d.Domain == "" {
		return DomainLocal
	}
	return d.Domain
}

func (d *StepDefinition) bothOrder() BothOrder {
	if d.BothOrder == "" {
		return RemoteFirst
	}
	return d.BothOrder
}

// StepContext is the per-execution view handed to guards, branches, and
// effects. It is constructed fresh for every execution and never
// persisted.
type StepContext struct {
	// Context carries the effect's deadline.
	Context context.Context

	// Payload is the input this execution was enqueued with.
	Payload interface{}

	// TraceID correlates this execution's logs and bridge calls.
	TraceID string

	// Shared is the instance-wide key/value store. It is the same map
	// for every step in the instance and is not locked: steps in one
	// instance never run concurrently with each other, but a retried
	// execution may observe state its failed predecessor left behind.
	Shared map[string]interface{}

	// Domain is the domain this particular execution actually ran in,
	// which matters for DomainBoth steps.
	Domain ExecutionDomain

	in        *Instance
	def       *StepDefinition
	log       *StepLog
	next      []enqueueReq
	wroteSelf bool
}

type enqueueReq struct {
	step    string
	payload interface{}
}

// Node returns the step's backing node in the reactive tree.
func (sc *StepContext) Node() *rnode.Node {
	return sc.in.stepNode(sc.def.Name)
}

// WriteSelf writes a value to the step's own backing node. The node's
// equality rule suppresses watcher notification when the value is
// unchanged, so a step observing its own identical output does not
// re-trigger itself. Returns whether the value actually changed.
//
// An effect that writes through WriteSelf and then returns nil keeps the
// written value; the nil return is not committed over it.
func (sc *StepContext) WriteSelf(v interface{}) bool {
	sc.wroteSelf = true
	return sc.Node().Set(v)
}

// EnqueueNext schedules a downstream step with an explicit payload. The
// enqueue becomes visible to the scheduler when the current execution
// completes successfully; a failed execution enqueues nothing.
func (sc *StepContext) EnqueueNext(step string, payload interface{}) {
	sc.next = append(sc.next, enqueueReq{step: step, payload: payload})
}

// SpawnSubWorkflow opens a child instance on the same engine, sharing its
// bus, bridge, and store. The child's id is namespaced under this
// instance's id.
func (sc *StepContext) SpawnSubWorkflow(id string) *Instance {
	return sc.in.eng.Open(sc.in.id + "/" + id)
}

// Log appends an info-level entry to the step's log.
func (sc *StepContext) Log(args ...interface{}) {
	sc.log.Append(LevelInfo, args...)
}

// Warn appends a warn-level entry to the step's log.
func (sc *StepContext) Warn(args ...interface{}) {
	sc.log.Append(LevelWarn, args...)
}

// Error appends an error-level entry to the step's log.
func (sc *StepContext) Error(args ...interface{}) {
	sc.log.Append(LevelError, args...)
}
