package rnode

import "testing"

func TestUnwatchCompactsOrder(t *testing.T) {
	n := NewTree().At("a")

	fires := 0
	n.Watch(func(old, next interface{}) { fires++ })

	for i := 0; i < 100; i++ {
		off := n.Watch(func(old, next interface{}) {})
		off()
	}

	n.tree.mu.RLock()
	got := len(n.order)
	n.tree.mu.RUnlock()
	if got != 1 {
		t.Errorf("expected watcher order compacted to 1 entry after churn, got %d", got)
	}

	n.Set(1)
	if fires != 1 {
		t.Errorf("surviving watcher should still fire, fires = %d", fires)
	}
}
