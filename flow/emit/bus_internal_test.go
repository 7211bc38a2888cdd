package emit

import "testing"

func TestUnsubscribeCompactsOrder(t *testing.T) {
	bus := NewBus(nil)

	fires := 0
	bus.On("evt", func(Event) { fires++ })

	for i := 0; i < 100; i++ {
		off := bus.On("evt", func(Event) {})
		off()
	}

	bus.mu.RLock()
	got := len(bus.order["evt"])
	bus.mu.RUnlock()
	if got != 1 {
		t.Errorf("expected order slice compacted to 1 entry after churn, got %d", got)
	}

	bus.Emit(Event{Name: "evt"})
	if fires != 1 {
		t.Errorf("surviving subscriber should still run, fires = %d", fires)
	}
}
