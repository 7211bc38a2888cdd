package flow

import (
	"time"

	"github.com/google/uuid"
	"github.com/stepflow-go/stepflow/flow/emit"
)

// Enqueue appends a queue item for the named step and returns its
// assigned trace id. Enqueue never pumps; pair with Pump, or use Start.
func (in *Instance) Enqueue(step string, payload interface{}) string {
	traceID := uuid.NewString()
	in.EnqueueTraced(step, payload, traceID)
	return traceID
}

// EnqueueTraced appends a queue item carrying a caller-chosen trace id.
// Useful when correlating with an external system, and used internally to
// resume parked executions under their original trace.
func (in *Instance) EnqueueTraced(step string, payload interface{}, traceID string) {
	in.enqueueItem(QueueItem{
		StepName:     step,
		Payload:      payload,
		EnqueuedAtMs: time.Now().UnixMilli(),
		TraceID:      traceID,
	})
}

func (in *Instance) enqueueItem(item QueueItem) {
	in.mu.Lock()
	in.queue = append(in.queue, item)
	depth := len(in.queue)
	in.mu.Unlock()

	if m := in.opts.Metrics; m != nil {
		m.setQueueDepth(in.id, depth)
	}
}

// Start enqueues the named step and pumps until idle or budget
// exhaustion. Returns the enqueue's trace id.
func (in *Instance) Start(step string, payload interface{}) string {
	traceID := in.Enqueue(step, payload)
	in.Pump()
	return traceID
}

// Pump drains the instance's queue by executing items in configured
// order until the queue is empty or a budget (MaxSteps, MaxWall) is
// exhausted.
//
// Pump is a no-op while the instance is already pumping: the running
// guard serializes execution, so re-entrant calls (from event handlers,
// watchers, or other goroutines) return immediately and leave their
// items queued for the active pump to drain.
//
// On entry Pump emits workflow:start. When it drains to empty it emits
// workflow:idle, plus workflow:finish when no retries or suspensions are
// outstanding either. A budget cutoff emits neither: it is not an error
// and the instance may be pumped again later.
//
// The pump loop itself never panics or returns an error; all step
// failures are contained by the executor and surfaced as events.
func (in *Instance) Pump() {
	in.mu.Lock()
	if in.running {
		in.mu.Unlock()
		return
	}
	in.running = true
	in.mu.Unlock()

	if m := in.opts.Metrics; m != nil {
		m.pumps.Inc()
	}
	in.emit(emit.WorkflowStart, "", "", "", nil)

	start := time.Now()
	executed := 0
	drained := false

	for {
		if in.opts.MaxSteps > 0 && executed >= in.opts.MaxSteps {
			break
		}
		if in.opts.MaxWall > 0 && time.Since(start) >= in.opts.MaxWall {
			break
		}

		item, ok := in.pop()
		if !ok {
			drained = true
			break
		}

		executed++
		in.execute(item)

		in.mu.Lock()
		in.stats.Steps++
		in.mu.Unlock()
	}

	in.mu.Lock()
	in.running = false
	finished := drained && in.pending == 0 && len(in.queue) == 0
	in.mu.Unlock()

	if drained {
		in.emit(emit.WorkflowIdle, "", "", "", nil)
		if finished {
			in.emit(emit.WorkflowFinish, "", "", "", nil)
		}
	}
}

// pop removes the next item per the configured queue order: FIFO takes
// the front, LIFO the back.
func (in *Instance) pop() (QueueItem, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(in.queue) == 0 {
		return QueueItem{}, false
	}

	var item QueueItem
	if in.opts.order() == LIFO {
		item = in.queue[len(in.queue)-1]
		in.queue = in.queue[:len(in.queue)-1]
	} else {
		item = in.queue[0]
		in.queue = in.queue[1:]
	}

	if m := in.opts.Metrics; m != nil {
		m.setQueueDepth(in.id, len(in.queue))
	}
	return item, true
}
