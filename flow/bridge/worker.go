package bridge

import (
	"context"
	"fmt"
	"sync"
)

// Handler executes one step request on the remote side and produces its
// response. Implementations typically look the step's effect up in a
// registry keyed by instance and step name.
type Handler func(ctx context.Context, req Request) Response

// Worker is the remote counterpart servicing shared-channel requests.
//
// A Worker owns one goroutine that drains submitted request frames,
// invokes the handler, and writes the encoded response back into the
// shared channel before signaling the lock word: the request id on
// success, the negated id when the response cannot be delivered (encode
// failure or a response larger than the channel's capacity).
//
// Handler panics are converted into err responses, never crashes.
type Worker struct {
	ch        *SharedChannel
	handler   Handler
	reqs      chan frame
	quit      chan struct{}
	closeOnce sync.Once
}

type frame struct {
	id   int32
	data []byte
}

// NewWorker creates a worker bound to the channel and starts its service
// goroutine. Close must be called to release it.
func NewWorker(ch *SharedChannel, handler Handler) *Worker {
	w := &Worker{
		ch:      ch,
		handler: handler,
		reqs:    make(chan frame),
		quit:    make(chan struct{}),
	}
	go w.serve()
	return w
}

// submit hands a request frame to the service goroutine. Used by
// ChannelTransport; blocks until the worker accepts the frame.
func (w *Worker) submit(id int32, data []byte) error {
	select {
	case w.reqs <- frame{id: id, data: data}:
		return nil
	case <-w.quit:
		return ErrClosed
	}
}

// Close stops the service goroutine. In-flight handlers complete first.
// Safe to call more than once.
func (w *Worker) Close() {
	w.closeOnce.Do(func() { close(w.quit) })
}

func (w *Worker) serve() {
	for {
		select {
		case <-w.quit:
			return
		case f := <-w.reqs:
			w.handle(f)
		}
	}
}

func (w *Worker) handle(f frame) {
	resp := w.invoke(f)

	data, err := EncodeResponse(resp)
	if err != nil {
		// Cannot represent the response at all; signal failure.
		w.ch.StoreNotify(WordLock, -f.id)
		return
	}
	if err := w.ch.WriteBytes(data); err != nil {
		// Response exceeds the channel's fixed capacity. Signal the
		// negated id rather than truncating.
		w.ch.StoreNotify(WordLock, -f.id)
		return
	}
	w.ch.StoreNotify(WordLock, f.id)
}

func (w *Worker) invoke(f frame) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = ErrResponse(fmt.Errorf("handler panic: %v", r))
		}
	}()

	req, err := DecodeRequest(f.data)
	if err != nil {
		return ErrResponse(err)
	}
	return w.handler(context.Background(), req)
}
