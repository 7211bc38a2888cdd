package bridge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTimeout is the deadline applied to a call when Config.Timeout is
// zero. Expiry is a hard failure.
const DefaultTimeout = 15 * time.Second

// Config configures a Bridge.
type Config struct {
	// Transport delivers encoded messages to the remote domain.
	// Required.
	Transport Transport

	// Timeout bounds each call. Zero means DefaultTimeout.
	Timeout time.Duration

	// MayBlock selects the call strategy. True means the calling
	// goroutine is permitted to block until the reply arrives (worker
	// domain). False means the call site must never stall (cooperative
	// domain): Call returns a *Suspension immediately and the pending
	// operation completes out of band.
	MayBlock bool
}

// Bridge turns an outgoing step request into bytes, delivers them through
// its transport, and presents the reply synchronously to the caller.
//
// Responses are cached by a key derived from the transport identity and
// the encoded request, so retried or re-pumped duplicates of an identical
// request return the cached response without re-issuing the call.
//
// The bridge is a single-slot resource: calls are serialized internally,
// so instances sharing one bridge queue behind each other rather than
// interleaving frames on the channel.
type Bridge struct {
	transport Transport
	timeout   time.Duration
	strategy  CallStrategy

	// slot serializes transport occupancy across callers.
	slot sync.Mutex

	mu         sync.Mutex
	cache      map[string]Response
	pending    map[string]*Suspension
	onCacheHit func()

	nextID atomic.Int32
}

// CallStrategy is how a call waits for its reply. Exactly two
// implementations exist; which one a bridge uses is fixed at construction
// by the MayBlock capability flag.
type CallStrategy interface {
	call(ctx context.Context, b *Bridge, req Request) (Response, error)
}

// New creates a Bridge. Returns an error when no transport is configured;
// callers are expected to fall back to in-process execution in that case.
func New(cfg Config) (*Bridge, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("bridge requires a transport")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	b := &Bridge{
		transport: cfg.Transport,
		timeout:   timeout,
		cache:     make(map[string]Response),
		pending:   make(map[string]*Suspension),
	}
	if cfg.MayBlock {
		b.strategy = blockingStrategy{}
	} else {
		b.strategy = suspendingStrategy{}
	}
	return b, nil
}

// Call executes one remote step request under the configured strategy.
//
// Blocking bridges return the response or an error. Suspending bridges
// may instead return a *Suspension (errors.As-able, unwrapping to
// ErrSuspended); the caller parks the step and re-invokes it once the
// suspension completes, at which point the identical call is answered
// from the cache.
func (b *Bridge) Call(ctx context.Context, req Request) (Response, error) {
	return b.strategy.call(ctx, b, req)
}

// Reset drops all cached responses. Pending suspensions are unaffected.
func (b *Bridge) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache = make(map[string]Response)
}

// SetCacheHitHook installs a callback invoked once per call answered from
// the idempotency cache. Used for instrumentation; nil clears it.
func (b *Bridge) SetCacheHitHook(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onCacheHit = fn
}

// CacheLen returns the number of cached responses.
func (b *Bridge) CacheLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cache)
}

// cacheKey derives the idempotency key for a request: a hash over the
// transport identity (target plus headers) and the encoded request bytes.
func (b *Bridge) cacheKey(data []byte) string {
	h := sha256.New()
	h.Write([]byte(b.transport.Key()))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func (b *Bridge) cached(key string) (Response, bool) {
	b.mu.Lock()
	resp, ok := b.cache[key]
	hook := b.onCacheHit
	b.mu.Unlock()

	if ok && hook != nil {
		hook()
	}
	return resp, ok
}

// roundTrip performs the transport exchange for one encoded request and
// caches successful responses. Error responses are not cached: a retry of
// a failed effect should re-issue the call, not replay the failure.
func (b *Bridge) roundTrip(ctx context.Context, key string, data []byte) (Response, error) {
	b.slot.Lock()
	defer b.slot.Unlock()

	// A caller that queued behind an identical request can be answered
	// from the cache without occupying the transport again.
	if resp, ok := b.cached(key); ok {
		return resp, nil
	}

	id := b.nextID.Add(1)

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	respBytes, err := b.transport.RoundTrip(callCtx, id, data)
	if err != nil {
		return Response{}, err
	}

	resp, err := DecodeResponse(respBytes)
	if err != nil {
		return Response{}, err
	}

	if resp.OK() {
		b.mu.Lock()
		b.cache[key] = resp
		b.mu.Unlock()
	}
	return resp, nil
}

// blockingStrategy waits on the transport inline. For the worker domain,
// where stalling the calling goroutine is acceptable.
type blockingStrategy struct{}

func (blockingStrategy) call(ctx context.Context, b *Bridge, req Request) (Response, error) {
	data, err := EncodeRequest(req)
	if err != nil {
		return Response{}, err
	}
	key := b.cacheKey(data)
	if resp, ok := b.cached(key); ok {
		return resp, nil
	}
	return b.roundTrip(ctx, key, data)
}

// suspendingStrategy never stalls the caller. A cache miss starts the
// exchange on a fresh goroutine and immediately returns a *Suspension;
// identical calls made while the exchange is in flight share the same
// suspension instead of issuing duplicates.
type suspendingStrategy struct{}

func (suspendingStrategy) call(ctx context.Context, b *Bridge, req Request) (Response, error) {
	data, err := EncodeRequest(req)
	if err != nil {
		return Response{}, err
	}
	key := b.cacheKey(data)
	if resp, ok := b.cached(key); ok {
		return resp, nil
	}

	b.mu.Lock()
	if s, ok := b.pending[key]; ok {
		b.mu.Unlock()
		return Response{}, s
	}
	s := newSuspension(req.TraceID)
	b.pending[key] = s
	b.mu.Unlock()

	go func() {
		// Deliberately detached from the caller's context: the step
		// has unwound, but the pending operation runs to completion
		// or times out on its own.
		resp, err := b.roundTrip(context.Background(), key, data)

		b.mu.Lock()
		delete(b.pending, key)
		b.mu.Unlock()

		s.complete(resp, err)
	}()

	return Response{}, s
}

// Suspension is the pending-operation handle returned by a suspending
// bridge on a cache miss. It implements error so effect code can surface
// it up the call stack without dedicated plumbing; the scheduler
// recognizes it with errors.As, parks the step, and re-invokes it when
// Done fires.
type Suspension struct {
	// TraceID identifies the step execution that was suspended.
	TraceID string

	done chan struct{}
	once sync.Once
	resp Response
	err  error
}

func newSuspension(traceID string) *Suspension {
	return &Suspension{TraceID: traceID, done: make(chan struct{})}
}

// Error implements error.
func (s *Suspension) Error() string {
	return fmt.Sprintf("bridge call suspended (trace %s)", s.TraceID)
}

// Unwrap makes the suspension match ErrSuspended under errors.Is.
func (s *Suspension) Unwrap() error { return ErrSuspended }

// Done is closed once the pending operation has completed, successfully
// or not.
func (s *Suspension) Done() <-chan struct{} { return s.done }

// Result returns the completed operation's outcome. Valid only after
// Done is closed.
func (s *Suspension) Result() (Response, error) {
	return s.resp, s.err
}

func (s *Suspension) complete(resp Response, err error) {
	s.once.Do(func() {
		s.resp = resp
		s.err = err
		close(s.done)
	})
}
