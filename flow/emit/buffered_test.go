package emit_test

import (
	"strings"
	"testing"

	"github.com/stepflow-go/stepflow/flow/emit"
)

func seedBuffered() *emit.BufferedEmitter {
	b := emit.NewBufferedEmitter()
	b.Emit(emit.Event{Name: "workflow:start", RunID: "r1", Seq: 0})
	b.Emit(emit.Event{Name: "step:after:a", RunID: "r1", Seq: 1, StepID: "a"})
	b.Emit(emit.Event{Name: "step:error:b", RunID: "r1", Seq: 2, StepID: "b"})
	b.Emit(emit.Event{Name: "workflow:start", RunID: "r2", Seq: 0})
	return b
}

func TestBufferedHistory(t *testing.T) {
	b := seedBuffered()

	if got := len(b.History("r1")); got != 3 {
		t.Errorf("expected 3 events for r1, got %d", got)
	}
	if got := len(b.History("r2")); got != 1 {
		t.Errorf("expected 1 event for r2, got %d", got)
	}
	if got := len(b.History("missing")); got != 0 {
		t.Errorf("expected empty history for unknown run, got %d", got)
	}
}

func TestBufferedFilter(t *testing.T) {
	b := seedBuffered()

	t.Run("by step", func(t *testing.T) {
		got := b.HistoryWithFilter("r1", emit.HistoryFilter{StepID: "b"})
		if len(got) != 1 || got[0].Name != "step:error:b" {
			t.Errorf("unexpected filter result: %v", got)
		}
	})

	t.Run("by name", func(t *testing.T) {
		got := b.HistoryWithFilter("r1", emit.HistoryFilter{Name: "workflow:start"})
		if len(got) != 1 || got[0].Seq != 0 {
			t.Errorf("unexpected filter result: %v", got)
		}
	})

	t.Run("by sequence range", func(t *testing.T) {
		lo, hi := 1, 2
		got := b.HistoryWithFilter("r1", emit.HistoryFilter{MinSeq: &lo, MaxSeq: &hi})
		if len(got) != 2 {
			t.Errorf("expected 2 events in [1,2], got %d", len(got))
		}
	})

	t.Run("combined criteria", func(t *testing.T) {
		lo := 2
		got := b.HistoryWithFilter("r1", emit.HistoryFilter{StepID: "a", MinSeq: &lo})
		if len(got) != 0 {
			t.Errorf("expected no matches, got %v", got)
		}
	})
}

func TestBufferedClear(t *testing.T) {
	b := seedBuffered()

	b.Clear("r1")
	if got := len(b.History("r1")); got != 0 {
		t.Errorf("expected r1 cleared, got %d events", got)
	}
	if got := len(b.History("r2")); got != 1 {
		t.Errorf("clearing r1 touched r2: %d events", got)
	}

	b.Clear("")
	if got := len(b.History("r2")); got != 0 {
		t.Errorf("expected all runs cleared, got %d events", got)
	}
}

func TestLogEmitterText(t *testing.T) {
	var sb strings.Builder
	l := emit.NewLogEmitter(&sb, false)

	l.Emit(emit.Event{
		Name: "step:after:a", RunID: "r1", Seq: 1, StepID: "a", TraceID: "t9",
		Meta: map[string]interface{}{"duration_ms": 12},
	})

	out := sb.String()
	for _, want := range []string{"[step:after:a]", "runID=r1", "seq=1", "stepID=a", "trace=t9", "duration_ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q: %s", want, out)
		}
	}
}

func TestLogEmitterJSON(t *testing.T) {
	var sb strings.Builder
	l := emit.NewLogEmitter(&sb, true)

	l.Emit(emit.Event{Name: "workflow:finish", RunID: "r1"})

	out := sb.String()
	if !strings.HasPrefix(out, "{") || !strings.HasSuffix(out, "}\n") {
		t.Errorf("expected one JSON line, got %q", out)
	}
	if !strings.Contains(out, `"name":"workflow:finish"`) {
		t.Errorf("JSON output missing event name: %s", out)
	}
}
