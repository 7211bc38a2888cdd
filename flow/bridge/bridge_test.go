package bridge_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stepflow-go/stepflow/flow/bridge"
)

// countingHandler records how many requests actually reached the worker.
type countingHandler struct {
	mu    sync.Mutex
	calls int
	fn    bridge.Handler
}

func (h *countingHandler) handle(ctx context.Context, req bridge.Request) bridge.Response {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	if h.fn != nil {
		return h.fn(ctx, req)
	}
	return bridge.OKResponse(req.Payload, nil)
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func newChannelBridge(t *testing.T, h *countingHandler, mayBlock bool, capacity int) *bridge.Bridge {
	t.Helper()
	ch := bridge.NewSharedChannel(capacity)
	w := bridge.NewWorker(ch, h.handle)
	t.Cleanup(w.Close)

	b, err := bridge.New(bridge.Config{
		Transport: bridge.NewChannelTransport(ch, w, "t"),
		Timeout:   2 * time.Second,
		MayBlock:  mayBlock,
	})
	if err != nil {
		t.Fatalf("bridge.New failed: %v", err)
	}
	return b
}

func TestBridgeRequiresTransport(t *testing.T) {
	if _, err := bridge.New(bridge.Config{}); err == nil {
		t.Error("expected an error for a missing transport")
	}
}

func TestBlockingCall(t *testing.T) {
	h := &countingHandler{fn: func(ctx context.Context, req bridge.Request) bridge.Response {
		return bridge.OKResponse(req.Payload.(float64)*10, nil)
	}}
	b := newChannelBridge(t, h, true, 0)

	resp, err := b.Call(context.Background(), bridge.Request{
		InstanceID: "i1", StepName: "s1", Payload: 4, TraceID: "t1",
	})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if !resp.OK() || resp.Value != float64(40) {
		t.Errorf("expected ok(40), got %+v", resp)
	}
}

func TestIdempotencyCache(t *testing.T) {
	h := &countingHandler{}
	b := newChannelBridge(t, h, true, 0)

	req := bridge.Request{InstanceID: "i1", StepName: "s1", Payload: "x", TraceID: "t1"}

	if _, err := b.Call(context.Background(), req); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	if _, err := b.Call(context.Background(), req); err != nil {
		t.Fatalf("second call failed: %v", err)
	}

	if got := h.count(); got != 1 {
		t.Errorf("expected 1 transport round trip for identical calls, got %d", got)
	}
	if got := b.CacheLen(); got != 1 {
		t.Errorf("expected 1 cached response, got %d", got)
	}

	// A different trace id is a different request.
	other := req
	other.TraceID = "t2"
	if _, err := b.Call(context.Background(), other); err != nil {
		t.Fatalf("third call failed: %v", err)
	}
	if got := h.count(); got != 2 {
		t.Errorf("expected distinct trace to reach the worker, got %d calls", got)
	}

	b.Reset()
	if got := b.CacheLen(); got != 0 {
		t.Errorf("Reset left %d cached responses", got)
	}
}

func TestErrorResponsesNotCached(t *testing.T) {
	h := &countingHandler{fn: func(ctx context.Context, req bridge.Request) bridge.Response {
		return bridge.ErrResponse(errors.New("nope"))
	}}
	b := newChannelBridge(t, h, true, 0)

	req := bridge.Request{InstanceID: "i1", StepName: "s1", TraceID: "t1"}

	resp, err := b.Call(context.Background(), req)
	if err != nil {
		t.Fatalf("call failed at the transport level: %v", err)
	}
	if resp.OK() {
		t.Fatal("expected an err response")
	}
	if resp.Err() == nil {
		t.Error("expected Err() to surface the failure")
	}

	if _, err := b.Call(context.Background(), req); err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if got := h.count(); got != 2 {
		t.Errorf("error response was cached: %d worker calls", got)
	}
	if got := b.CacheLen(); got != 0 {
		t.Errorf("error response entered the cache: %d entries", got)
	}
}

func TestOversizedResponse(t *testing.T) {
	big := make([]byte, 256)
	for i := range big {
		big[i] = 'a'
	}
	h := &countingHandler{fn: func(ctx context.Context, req bridge.Request) bridge.Response {
		return bridge.OKResponse(string(big), nil)
	}}
	// Capacity far below the response size.
	b := newChannelBridge(t, h, true, 64)

	_, err := b.Call(context.Background(), bridge.Request{StepName: "s", TraceID: "t"})
	if !errors.Is(err, bridge.ErrBufferTooSmall) {
		t.Errorf("expected ErrBufferTooSmall, got %v", err)
	}
}

func TestWorkerPanicBecomesErrResponse(t *testing.T) {
	h := &countingHandler{fn: func(ctx context.Context, req bridge.Request) bridge.Response {
		panic("worker bug")
	}}
	b := newChannelBridge(t, h, true, 0)

	resp, err := b.Call(context.Background(), bridge.Request{StepName: "s", TraceID: "t"})
	if err != nil {
		t.Fatalf("expected an err response, got transport error %v", err)
	}
	if resp.OK() {
		t.Error("panicking handler produced an ok response")
	}
}

func TestSuspendingCall(t *testing.T) {
	release := make(chan struct{})
	h := &countingHandler{fn: func(ctx context.Context, req bridge.Request) bridge.Response {
		<-release
		return bridge.OKResponse("late", nil)
	}}
	b := newChannelBridge(t, h, false, 0)

	req := bridge.Request{InstanceID: "i1", StepName: "slow", TraceID: "t1"}

	_, err := b.Call(context.Background(), req)
	var susp *bridge.Suspension
	if !errors.As(err, &susp) {
		t.Fatalf("expected a *Suspension, got %v", err)
	}
	if !errors.Is(err, bridge.ErrSuspended) {
		t.Error("suspension does not unwrap to ErrSuspended")
	}
	if susp.TraceID != "t1" {
		t.Errorf("suspension lost the trace id: %q", susp.TraceID)
	}

	// An identical call while pending shares the same suspension.
	_, err2 := b.Call(context.Background(), req)
	var susp2 *bridge.Suspension
	if !errors.As(err2, &susp2) || susp2 != susp {
		t.Error("duplicate pending call did not share the suspension")
	}

	close(release)
	select {
	case <-susp.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("suspension never completed")
	}

	resp, rerr := susp.Result()
	if rerr != nil {
		t.Fatalf("suspension completed with error: %v", rerr)
	}
	if resp.Value != "late" {
		t.Errorf("expected late, got %v", resp.Value)
	}

	// The replayed call is now answered from the cache.
	replay, err := b.Call(context.Background(), req)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if replay.Value != "late" {
		t.Errorf("replay expected late, got %v", replay.Value)
	}
	if got := h.count(); got != 1 {
		t.Errorf("expected a single worker call across suspension and replay, got %d", got)
	}
}

func TestCallTimeout(t *testing.T) {
	h := &countingHandler{fn: func(ctx context.Context, req bridge.Request) bridge.Response {
		time.Sleep(200 * time.Millisecond)
		return bridge.OKResponse(nil, nil)
	}}

	ch := bridge.NewSharedChannel(0)
	w := bridge.NewWorker(ch, h.handle)
	t.Cleanup(w.Close)

	b, err := bridge.New(bridge.Config{
		Transport: bridge.NewChannelTransport(ch, w, "t"),
		Timeout:   10 * time.Millisecond,
		MayBlock:  true,
	})
	if err != nil {
		t.Fatalf("bridge.New failed: %v", err)
	}

	_, err = b.Call(context.Background(), bridge.Request{StepName: "slow", TraceID: "t"})
	if !errors.Is(err, bridge.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestCacheHitHook(t *testing.T) {
	h := &countingHandler{}
	b := newChannelBridge(t, h, true, 0)

	var mu sync.Mutex
	hits := 0
	b.SetCacheHitHook(func() {
		mu.Lock()
		hits++
		mu.Unlock()
	})

	req := bridge.Request{StepName: "s", TraceID: "t"}
	if _, err := b.Call(context.Background(), req); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	if _, err := b.Call(context.Background(), req); err != nil {
		t.Fatalf("second call failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if hits != 1 {
		t.Errorf("expected exactly 1 cache hit, got %d", hits)
	}
}

func TestWorkerCloseIdempotent(t *testing.T) {
	ch := bridge.NewSharedChannel(0)
	w := bridge.NewWorker(ch, func(ctx context.Context, req bridge.Request) bridge.Response {
		return bridge.OKResponse(nil, nil)
	})

	w.Close()
	w.Close() // second close is a no-op, not a panic
}
