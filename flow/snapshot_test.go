package flow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stepflow-go/stepflow/flow"
	"github.com/stepflow-go/stepflow/flow/store"
)

func buildSnapshotFixture(t *testing.T, eng *flow.Engine, id string) *flow.Instance {
	t.Helper()
	in := eng.Open(id)

	err := in.DefineStep("fetch", flow.StepDefinition{
		Effect: func(sc *flow.StepContext) (interface{}, error) {
			sc.Shared["fetched"] = sc.Payload
			return sc.Payload, nil
		},
		Retry:   &flow.RetrySpec{MaxAttempts: 5, Backoff: time.Second, NoJitter: true},
		Timeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("DefineStep(fetch) failed: %v", err)
	}
	err = in.DefineStep("process", flow.StepDefinition{
		Domain: flow.DomainRemote,
		Guard:  func(sc *flow.StepContext) bool { return true },
	})
	if err != nil {
		t.Fatalf("DefineStep(process) failed: %v", err)
	}
	if err := in.Connect("fetch", "process"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return in
}

func TestSnapshotRoundTrip(t *testing.T) {
	eng := flow.NewEngine(flow.Options{Codec: flow.JSONCodec{}})
	in := buildSnapshotFixture(t, eng, "snap-src")

	in.Start("fetch", "payload-1")
	in.Enqueue("fetch", "payload-2")
	in.StepLog("fetch").Append(flow.LevelWarn, "manual line")

	data, err := in.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	// Restore into a fresh instance on a fresh engine.
	eng2 := flow.NewEngine(flow.Options{Codec: flow.JSONCodec{}})
	restored := eng2.Open("snap-src")
	if err := restored.Deserialize(data); err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}

	if got := restored.QueueLen(); got != 1 {
		t.Errorf("expected 1 queued item restored, got %d", got)
	}
	if got := restored.Stats().Steps; got != 2 {
		t.Errorf("expected stats.Steps == 2, got %d", got)
	}
	if got := restored.Shared()["fetched"]; got != "payload-1" {
		t.Errorf("expected shared state restored, got %v", got)
	}
	if got := restored.Node("steps/fetch").Get(); got != "payload-1" {
		t.Errorf("expected node value restored, got %v", got)
	}

	found := false
	for _, entry := range restored.StepLog("fetch").Archive() {
		for _, arg := range entry.Args {
			if arg == "manual line" {
				found = true
			}
		}
	}
	if !found {
		t.Error("step log did not survive the round trip")
	}

	// Definitions come back metadata-only; behavior must be re-attached.
	if err := restored.AttachEffect("fetch", func(sc *flow.StepContext) (interface{}, error) {
		sc.Shared["fetched"] = sc.Payload
		return sc.Payload, nil
	}, nil, nil); err != nil {
		t.Fatalf("AttachEffect failed: %v", err)
	}
	restored.Pump()
	if got := restored.Shared()["fetched"]; got != "payload-2" {
		t.Errorf("restored queue did not resume: shared=%v", got)
	}
}

func TestSnapshotExcludesCode(t *testing.T) {
	eng := flow.NewEngine(flow.Options{Codec: flow.JSONCodec{}})
	in := buildSnapshotFixture(t, eng, "snap-meta")

	snap := in.Snapshot()

	fetch, ok := snap.Steps["fetch"]
	if !ok {
		t.Fatal("snapshot lost the fetch definition")
	}
	if !fetch.HasEffect {
		t.Error("expected HasEffect marker")
	}
	if fetch.Retry == nil || fetch.Retry.MaxAttempts != 5 {
		t.Errorf("retry spec not captured: %+v", fetch.Retry)
	}
	if fetch.TimeoutMs != 30000 {
		t.Errorf("expected TimeoutMs 30000, got %d", fetch.TimeoutMs)
	}

	process := snap.Steps["process"]
	if process.HasEffect {
		t.Error("process has no effect, marker should be false")
	}
	if !process.HasGuard {
		t.Error("expected HasGuard marker")
	}
	if process.Domain != flow.DomainRemote {
		t.Errorf("domain not captured: %s", process.Domain)
	}
}

func TestSerializeWithoutCodec(t *testing.T) {
	eng := flow.NewEngine(flow.Options{})
	in := eng.Open("no-codec")

	if _, err := in.Serialize(); !errors.Is(err, flow.ErrSerializationUnsupported) {
		t.Errorf("expected ErrSerializationUnsupported, got %v", err)
	}
	if err := in.Deserialize([]byte("{}")); !errors.Is(err, flow.ErrSerializationUnsupported) {
		t.Errorf("expected ErrSerializationUnsupported on decode, got %v", err)
	}
}

func TestPersistAndRestore(t *testing.T) {
	st := store.NewMemStore()
	eng := flow.NewEngine(flow.Options{Codec: flow.JSONCodec{}, Store: st})
	in := buildSnapshotFixture(t, eng, "persisted")

	in.Start("fetch", "v1")

	ctx := context.Background()
	seq, err := in.Persist(ctx)
	if err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if seq != 1 {
		t.Errorf("expected first snapshot seq 1, got %d", seq)
	}

	in.Start("fetch", "v2")
	if seq, err = in.Persist(ctx); err != nil || seq != 2 {
		t.Fatalf("second Persist: seq=%d err=%v", seq, err)
	}

	eng2 := flow.NewEngine(flow.Options{Codec: flow.JSONCodec{}, Store: st})
	restored, err := eng2.Restore(ctx, "persisted")
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if got := restored.Shared()["fetched"]; got != "v2" {
		t.Errorf("expected latest snapshot restored, got %v", got)
	}
}

func TestRestoreUnknownRun(t *testing.T) {
	eng := flow.NewEngine(flow.Options{Codec: flow.JSONCodec{}, Store: store.NewMemStore()})

	if _, err := eng.Restore(context.Background(), "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
