// Package bridge provides the synchronous-call façade the flow engine uses
// to run step effects in a remote execution domain.
//
// A Bridge encodes a step request, delivers it through a Transport, and
// presents the reply as an ordinary return value even though the far side
// is asynchronous and runs on another goroutine or another process. Two
// call strategies exist: a blocking one for callers that may stall, and a
// suspending one for callers that must never stall (the suspending path
// returns a *Suspension the scheduler parks on).
package bridge

import "errors"

// ErrTimeout indicates a bridge call exceeded its deadline. Callers treat
// it like any other effect failure, so retry policies apply.
var ErrTimeout = errors.New("bridge call timed out")

// ErrProtocol indicates the shared channel signaled an id that does not
// match the outstanding request. Retrying the same request would fail
// identically, so callers fall back to in-process execution instead.
var ErrProtocol = errors.New("bridge protocol error: signaled id mismatch")

// ErrBufferTooSmall indicates the encoded response exceeded the shared
// channel's fixed capacity. The remote side signals failure rather than
// truncating, so the caller never observes corrupted data.
var ErrBufferTooSmall = errors.New("bridge response exceeds channel capacity")

// ErrSuspended indicates a call could not complete synchronously and a
// *Suspension carrying the pending operation was returned instead. Unwrap
// with errors.As to obtain the Suspension.
var ErrSuspended = errors.New("bridge call suspended")

// ErrClosed indicates the bridge or its worker has been shut down.
var ErrClosed = errors.New("bridge closed")
