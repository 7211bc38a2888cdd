package bridge

import (
	"context"
	"time"
)

// Transport delivers encoded request bytes to the remote domain and
// returns the encoded response bytes.
//
// The bridge treats delivery as opaque: "send bytes, get bytes back".
// Implementations in this package:
//   - ChannelTransport: in-process worker behind a SharedChannel
//   - HTTPTransport: POST to a remote endpoint
type Transport interface {
	// Key identifies the far side for idempotency caching. Two
	// transports with the same key are assumed to answer identical
	// requests identically.
	Key() string

	// RoundTrip delivers the encoded request under the given request id
	// and returns the encoded response. The context carries the call
	// deadline.
	RoundTrip(ctx context.Context, id int32, req []byte) ([]byte, error)
}

// ChannelTransport is the caller-side half of the shared-channel protocol.
//
// One call proceeds as:
//  1. Reset the lock word to zero.
//  2. Hand the request frame to the worker (the wake signal).
//  3. Block on Wait(lock, 0) until the worker stores a reply id.
//  4. Validate the signaled id: the request id means a framed response
//     is in the buffer; the negated id means the response could not be
//     delivered (buffer too small); any other value is a protocol error.
//
// The Bridge serializes calls, so the single slot is never shared by two
// outstanding requests.
type ChannelTransport struct {
	ch     *SharedChannel
	worker *Worker
	name   string
}

// NewChannelTransport binds a transport to a channel and its worker.
// name distinguishes multiple in-process remotes in cache keys; it may
// be empty when only one exists.
func NewChannelTransport(ch *SharedChannel, worker *Worker, name string) *ChannelTransport {
	return &ChannelTransport{ch: ch, worker: worker, name: name}
}

// Key implements Transport.
func (t *ChannelTransport) Key() string {
	return "channel:" + t.name
}

// RoundTrip implements Transport.
func (t *ChannelTransport) RoundTrip(ctx context.Context, id int32, req []byte) ([]byte, error) {
	t.ch.Store(WordLock, 0)

	if err := t.worker.submit(id, req); err != nil {
		return nil, err
	}

	var timeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, ErrTimeout
		}
	}

	got, err := t.ch.Wait(WordLock, 0, timeout)
	if err != nil {
		return nil, err
	}

	switch {
	case got == id:
		return t.ch.ReadBytes(), nil
	case got == -id:
		return nil, ErrBufferTooSmall
	default:
		return nil, ErrProtocol
	}
}
