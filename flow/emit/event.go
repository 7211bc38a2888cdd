package emit

// Event represents an observability event emitted during workflow execution.
//
// Events carry both workflow-level lifecycle transitions (start, idle,
// error, finish) and per-step transitions (before, after, error). Each
// event names the workflow instance it belongs to and, when applicable,
// the step and trace lineage that produced it.
//
// Events flow through the Bus to synchronous subscribers and are mirrored
// to the configured Emitter for logging, tracing, or buffering.
type Event struct {
	// Name is the full event name, e.g. "workflow:start" or "step:after:B".
	Name string

	// RunID identifies the workflow instance that emitted this event.
	RunID string

	// Seq is the instance's executed-step counter at the time of emission.
	// Zero for events emitted before any step has run.
	Seq int

	// StepID identifies which step emitted this event.
	// Empty string for workflow-level events.
	StepID string

	// TraceID correlates this event with one enqueue/execution lineage.
	// Empty for workflow-level events.
	TraceID string

	// Msg is a human-readable description of the event.
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "duration_ms": Execution duration in milliseconds
	//   - "error": Error details
	//   - "attempt": Retry attempt number
	//   - "domain": Execution domain the step ran in
	Meta map[string]interface{}
}

// Workflow-level event names.
const (
	WorkflowStart  = "workflow:start"
	WorkflowIdle   = "workflow:idle"
	WorkflowError  = "workflow:error"
	WorkflowFinish = "workflow:finish"
)

// StepBefore returns the "step:before:<name>" event name for a step.
func StepBefore(step string) string { return "step:before:" + step }

// StepAfter returns the "step:after:<name>" event name for a step.
func StepAfter(step string) string { return "step:after:" + step }

// StepError returns the "step:error:<name>" event name for a step.
func StepError(step string) string { return "step:error:" + step }
