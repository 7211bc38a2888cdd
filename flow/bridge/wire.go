package bridge

import (
	"encoding/json"
	"fmt"
)

// Request is the wire message asking the remote domain to execute a step.
type Request struct {
	// Kind discriminates the message type; step requests use "step".
	Kind string `json:"kind"`

	// InstanceID names the workflow instance the step belongs to.
	InstanceID string `json:"instanceId"`

	// StepName names the step whose effect should run remotely.
	StepName string `json:"stepName"`

	// Payload is the step input. Must be JSON-serializable.
	Payload interface{} `json:"payload"`

	// TraceID correlates the request with one enqueue/execution lineage
	// and keys the bridge's idempotency cache together with the payload.
	TraceID string `json:"traceId"`
}

// Response is the wire message carrying the remote execution result.
// Exactly one of the two kinds is produced: "ok" with a value and optional
// remote log lines, or "err" with an error string.
type Response struct {
	Kind  string        `json:"kind"`
	Value interface{}   `json:"value,omitempty"`
	Logs  []interface{} `json:"logs,omitempty"`
	Error string        `json:"error,omitempty"`
}

// OK reports whether the response carries a successful result.
func (r Response) OK() bool { return r.Kind == "ok" }

// Err converts an error response into a Go error, or nil for ok responses.
func (r Response) Err() error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("remote step failed: %s", r.Error)
}

// EncodeRequest serializes a request for transport.
func EncodeRequest(req Request) ([]byte, error) {
	if req.Kind == "" {
		req.Kind = "step"
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode bridge request: %w", err)
	}
	return data, nil
}

// DecodeRequest parses a request off the wire.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("decode bridge request: %w", err)
	}
	return req, nil
}

// EncodeResponse serializes a response for transport.
func EncodeResponse(resp Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode bridge response: %w", err)
	}
	return data, nil
}

// DecodeResponse parses a response off the wire.
func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("decode bridge response: %w", err)
	}
	return resp, nil
}

// OKResponse builds a successful response.
func OKResponse(value interface{}, logs []interface{}) Response {
	return Response{Kind: "ok", Value: value, Logs: logs}
}

// ErrResponse builds a failure response.
func ErrResponse(err error) Response {
	return Response{Kind: "err", Error: err.Error()}
}
