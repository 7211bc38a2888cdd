package emit_test

import (
	"testing"

	"github.com/stepflow-go/stepflow/flow/emit"
)

func TestBusDispatch(t *testing.T) {
	t.Run("handlers run in registration order", func(t *testing.T) {
		bus := emit.NewBus(nil)
		var order []int

		bus.On("a", func(ev emit.Event) { order = append(order, 1) })
		bus.On("a", func(ev emit.Event) { order = append(order, 2) })
		bus.On("b", func(ev emit.Event) { order = append(order, 99) })

		bus.Emit(emit.Event{Name: "a"})

		if len(order) != 2 || order[0] != 1 || order[1] != 2 {
			t.Errorf("expected [1 2], got %v", order)
		}
	})

	t.Run("wildcard sees every event", func(t *testing.T) {
		bus := emit.NewBus(nil)
		var names []string

		bus.On("*", func(ev emit.Event) { names = append(names, ev.Name) })

		bus.Emit(emit.Event{Name: "one"})
		bus.Emit(emit.Event{Name: "two"})

		if len(names) != 2 || names[0] != "one" || names[1] != "two" {
			t.Errorf("expected [one two], got %v", names)
		}
	})

	t.Run("no subscribers is a no-op", func(t *testing.T) {
		bus := emit.NewBus(nil)
		bus.Emit(emit.Event{Name: "ignored"})
	})
}

func TestBusUnsubscribe(t *testing.T) {
	bus := emit.NewBus(nil)
	calls := 0

	off := bus.On("x", func(ev emit.Event) { calls++ })
	bus.Emit(emit.Event{Name: "x"})

	off()
	// Double unsubscribe must be safe.
	off()
	bus.Emit(emit.Event{Name: "x"})

	if calls != 1 {
		t.Errorf("expected 1 call after unsubscribe, got %d", calls)
	}
	if got := bus.SubscriberCount("x"); got != 0 {
		t.Errorf("expected 0 live subscribers, got %d", got)
	}
}

func TestBusPanicIsolation(t *testing.T) {
	bus := emit.NewBus(nil)
	reached := false

	bus.On("x", func(ev emit.Event) { panic("bad subscriber") })
	bus.On("x", func(ev emit.Event) { reached = true })

	// Must not panic through Emit.
	bus.Emit(emit.Event{Name: "x"})

	if !reached {
		t.Error("panicking subscriber blocked later subscribers")
	}
}

func TestBusForwardsToEmitter(t *testing.T) {
	buf := emit.NewBufferedEmitter()
	bus := emit.NewBus(buf)

	handled := false
	bus.On("step:after:a", func(ev emit.Event) { handled = true })

	bus.Emit(emit.Event{Name: "step:after:a", RunID: "r1", Seq: 3})

	if !handled {
		t.Error("subscriber did not run")
	}
	history := buf.History("r1")
	if len(history) != 1 || history[0].Seq != 3 {
		t.Errorf("forward emitter missed the event: %v", history)
	}
}
