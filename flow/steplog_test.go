package flow_test

import (
	"testing"

	"github.com/stepflow-go/stepflow/flow"
)

func TestStepLogRingBound(t *testing.T) {
	l := flow.NewStepLog(3)

	for i := 0; i < 5; i++ {
		l.Append(flow.LevelInfo, i)
	}

	ring := l.Ring()
	if len(ring) != 3 {
		t.Fatalf("expected ring capped at 3, got %d", len(ring))
	}
	// Oldest entries dropped, newest kept.
	for i, entry := range ring {
		if entry.Args[0] != i+2 {
			t.Errorf("ring[%d]: expected arg %d, got %v", i, i+2, entry.Args[0])
		}
	}

	archive := l.Archive()
	if len(archive) != 5 {
		t.Fatalf("expected archive to keep all 5 entries, got %d", len(archive))
	}
	for i, entry := range archive {
		if entry.Args[0] != i {
			t.Errorf("archive[%d]: expected arg %d, got %v", i, i, entry.Args[0])
		}
	}
}

func TestStepLogDefaultRing(t *testing.T) {
	l := flow.NewStepLog(0)

	for i := 0; i < flow.DefaultLogRing+10; i++ {
		l.Append(flow.LevelInfo, i)
	}

	if got := len(l.Ring()); got != flow.DefaultLogRing {
		t.Errorf("expected default ring size %d, got %d", flow.DefaultLogRing, got)
	}
	if got := l.Len(); got != flow.DefaultLogRing+10 {
		t.Errorf("expected full archive, got %d", got)
	}
}

func TestStepLogLevels(t *testing.T) {
	l := flow.NewStepLog(8)
	l.Append(flow.LevelWarn, "careful")
	l.Append(flow.LevelError, "broken", 42)

	ring := l.Ring()
	if ring[0].Level != flow.LevelWarn || ring[1].Level != flow.LevelError {
		t.Errorf("levels not preserved: %+v", ring)
	}
	if ring[0].TS == 0 {
		t.Error("expected a nonzero timestamp")
	}
	if ring[1].Args[1] != 42 {
		t.Errorf("expected second arg 42, got %v", ring[1].Args)
	}
}
