package flow

import (
	"time"

	"github.com/stepflow-go/stepflow/flow/bridge"
	"github.com/stepflow-go/stepflow/flow/emit"
	"github.com/stepflow-go/stepflow/flow/store"
)

// QueueOrder selects how an instance's queue drains.
type QueueOrder string

const (
	// FIFO drains breadth-first: oldest enqueue runs next. The default.
	FIFO QueueOrder = "fifo"

	// LIFO drains depth-first: newest enqueue runs next.
	LIFO QueueOrder = "lifo"
)

// Options configures engine and instance execution behavior.
//
// Zero values are valid; the engine uses documented defaults. An instance
// opened with Engine.Open inherits the engine's Options; Engine.OpenWith
// overrides them per instance.
type Options struct {
	// MaxSteps caps step executions per pump call. When the cap is hit
	// the pump returns with remaining items still queued; the instance
	// may be pumped again later. 0 means no step budget.
	MaxSteps int

	// MaxWall caps wall-clock time per pump call, measured from pump
	// entry. Like MaxSteps, hitting it stops the pump, not the
	// instance. 0 means no time budget.
	MaxWall time.Duration

	// Order selects FIFO (default) or LIFO queue draining.
	Order QueueOrder

	// DefaultStepTimeout bounds each effect invocation unless the step
	// definition overrides it. 0 means unlimited.
	DefaultStepTimeout time.Duration

	// LogRing is the bounded ring size for per-step logs. 0 means the
	// default of 128.
	LogRing int

	// Emitter mirrors every bus event to an observability backend.
	// Optional; nil disables mirroring.
	Emitter emit.Emitter

	// Metrics records Prometheus metrics when non-nil.
	Metrics *Metrics

	// Bridge executes remotely-designated steps. When nil, such steps
	// fall back to in-process execution with a log line.
	Bridge *bridge.Bridge

	// Store archives instance snapshots for Persist/Restore. Optional.
	Store store.Store

	// Codec encodes and decodes instance snapshots. Serialize and
	// Deserialize return ErrSerializationUnsupported when nil.
	Codec SnapshotCodec

	// RemoteDomain marks this process as the remote execution domain.
	// Steps designated Remote then run in-process instead of being
	// bridged back out.
	RemoteDomain bool
}

func (o Options) logRing() int {
	if o.LogRing <= 0 {
		return DefaultLogRing
	}
	return o.LogRing
}

func (o Options) order() QueueOrder {
	if o.Order == "" {
		return FIFO
	}
	return o.Order
}
