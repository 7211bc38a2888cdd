package emit

import (
	"fmt"
	"os"
	"sync"
)

// Handler processes a single bus event.
type Handler func(event Event)

// Bus is an in-process publish/subscribe dispatcher for workflow and step
// lifecycle events.
//
// Subscribers register per event name via On and are invoked synchronously,
// in registration order, when a matching event is emitted. A panicking
// subscriber is isolated: it neither prevents the remaining subscribers
// from running nor propagates to the emitting code.
//
// A Bus is scoped to the engine that created it, not process-wide. Every
// emitted event is also mirrored to the forward Emitter when one is set,
// so a single LogEmitter or OTelEmitter observes all bus traffic without
// subscribing to each name individually.
//
// The zero value is not usable; construct with NewBus.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]map[int]Handler
	order   map[string][]int
	nextID  int
	forward Emitter
}

// NewBus creates a Bus that mirrors every event into forward.
// forward may be nil, in which case events are only dispatched to
// subscribers.
func NewBus(forward Emitter) *Bus {
	return &Bus{
		subs:    make(map[string]map[int]Handler),
		order:   make(map[string][]int),
		forward: forward,
	}
}

// On subscribes handler to events with the given name and returns an
// unsubscribe function. Calling the returned function more than once is
// safe.
//
// The special name "*" subscribes to every event.
func (b *Bus) On(name string, handler Handler) (off func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	if b.subs[name] == nil {
		b.subs[name] = make(map[int]Handler)
	}
	b.subs[name][id] = handler
	b.order[name] = append(b.order[name], id)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[name], id)
			b.order[name] = removeID(b.order[name], id)
		})
	}
}

// removeID compacts an id out of a registration-order slice so churned
// subscriptions do not grow it without bound.
func removeID(ids []int, id int) []int {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// Emit dispatches the event to all current subscribers of event.Name and
// of "*", then mirrors it to the forward Emitter.
//
// Dispatch is synchronous. Subscriber panics are recovered per-subscriber
// and logged to stderr; they never reach the emitter.
func (b *Bus) Emit(event Event) {
	b.mu.RLock()
	handlers := b.snapshot(event.Name)
	handlers = append(handlers, b.snapshot("*")...)
	forward := b.forward
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, event)
	}
	if forward != nil {
		forward.Emit(event)
	}
}

// SubscriberCount returns the number of live subscribers for a name.
func (b *Bus) SubscriberCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}

// snapshot copies the live handlers for a name in registration order.
// Caller must hold at least a read lock.
func (b *Bus) snapshot(name string) []Handler {
	ids := b.order[name]
	live := b.subs[name]
	if len(live) == 0 {
		return nil
	}
	out := make([]Handler, 0, len(live))
	for _, id := range ids {
		if h, ok := live[id]; ok {
			out = append(out, h)
		}
	}
	return out
}

// dispatch invokes one handler with panic isolation.
func (b *Bus) dispatch(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "stepflow: event subscriber panic on %s: %v\n", event.Name, r)
		}
	}()
	h(event)
}
