// Package flow provides the reactive task-graph scheduler: workflow
// instances built from named steps wired into a graph, a budget-bounded
// queue pump, and a step executor with guard, branch, and retry semantics.
package flow

import "errors"

// ErrSerializationUnsupported is returned by Serialize and Deserialize
// when the engine was built without a snapshot codec.
var ErrSerializationUnsupported = errors.New("serialization codec not configured")

// FlowError represents an error from engine or instance operations.
type FlowError struct {
	Message string
	Code    string
}

func (e *FlowError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}
