package flow

import (
	"context"
	"encoding/json"
	"time"
)

// StepMeta is the serializable portion of a step definition. Executable
// slots (effect, guard, branch functions) are represented only as
// presence markers: code never enters a snapshot, and a restored instance
// must re-attach behavior with AttachEffect before those steps can run.
type StepMeta struct {
	Name       string          `json:"name"`
	Domain     ExecutionDomain `json:"domain,omitempty"`
	BothOrder  BothOrder       `json:"bothOrder,omitempty"`
	Retry      *RetrySpec      `json:"retry,omitempty"`
	StaticNext []string        `json:"staticNext,omitempty"`
	TimeoutMs  int64           `json:"timeoutMs,omitempty"`

	HasEffect bool `json:"hasEffect,omitempty"`
	HasGuard  bool `json:"hasGuard,omitempty"`
	HasBranch bool `json:"hasBranch,omitempty"`
}

// Snapshot is the portable, JSON-serializable state of an instance:
// definitions (metadata only), adjacency, the pending queue, counters,
// shared state, the instance's reactive subtree, and every step log.
type Snapshot struct {
	ID        string                     `json:"id"`
	TakenAtMs int64                      `json:"takenAtMs"`
	Steps     map[string]StepMeta        `json:"steps"`
	Edges     map[string][]string        `json:"edges,omitempty"`
	Queue     []QueueItem                `json:"queue,omitempty"`
	Stats     Stats                      `json:"stats"`
	Shared    map[string]interface{}     `json:"shared,omitempty"`
	Nodes     map[string]interface{}     `json:"nodes,omitempty"`
	Logs      map[string]StepLogSnapshot `json:"logs,omitempty"`
}

// SnapshotCodec encodes snapshots to and from bytes.
type SnapshotCodec interface {
	Encode(snap *Snapshot) ([]byte, error)
	Decode(data []byte, snap *Snapshot) error
}

// JSONCodec is the default SnapshotCodec, using encoding/json.
type JSONCodec struct {
	// Indent, when true, produces human-readable output.
	Indent bool
}

func (c JSONCodec) Encode(snap *Snapshot) ([]byte, error) {
	if c.Indent {
		return json.MarshalIndent(snap, "", "  ")
	}
	return json.Marshal(snap)
}

func (c JSONCodec) Decode(data []byte, snap *Snapshot) error {
	return json.Unmarshal(data, snap)
}

// Snapshot captures the instance's current state. Payloads, shared values,
// and node values must be JSON-serializable for the snapshot to round-trip
// through a codec.
func (in *Instance) Snapshot() *Snapshot {
	in.mu.Lock()

	snap := &Snapshot{
		ID:        in.id,
		TakenAtMs: time.Now().UnixMilli(),
		Steps:     make(map[string]StepMeta, len(in.steps)),
		Edges:     make(map[string][]string, len(in.edges)),
		Queue:     append([]QueueItem(nil), in.queue...),
		Stats:     in.stats,
		Shared:    make(map[string]interface{}, len(in.shared)),
		Logs:      make(map[string]StepLogSnapshot, len(in.logs)),
	}
	for name, def := range in.steps {
		snap.Steps[name] = stepMeta(def)
	}
	for from, to := range in.edges {
		snap.Edges[from] = append([]string(nil), to...)
	}
	for k, v := range in.shared {
		snap.Shared[k] = v
	}
	logs := make(map[string]*StepLog, len(in.logs))
	for name, l := range in.logs {
		logs[name] = l
	}
	in.mu.Unlock()

	// Step logs and the node subtree carry their own locks.
	for name, l := range logs {
		snap.Logs[name] = l.snapshot()
	}
	snap.Nodes = in.root.Export()
	return snap
}

func stepMeta(def *StepDefinition) StepMeta {
	return StepMeta{
		Name:       def.Name,
		Domain:     def.Domain,
		BothOrder:  def.BothOrder,
		Retry:      def.Retry,
		StaticNext: append([]string(nil), def.StaticNext...),
		TimeoutMs:  def.Timeout.Milliseconds(),
		HasEffect:  def.Effect != nil,
		HasGuard:   def.Guard != nil,
		HasBranch:  def.Branch != nil,
	}
}

// Serialize encodes the instance's snapshot with the configured codec.
// Returns ErrSerializationUnsupported when no codec is configured.
func (in *Instance) Serialize() ([]byte, error) {
	codec := in.opts.Codec
	if codec == nil {
		return nil, ErrSerializationUnsupported
	}
	return codec.Encode(in.Snapshot())
}

// Deserialize replaces the instance's state from encoded snapshot bytes.
// Step definitions come back metadata-only; call AttachEffect to restore
// executable behavior before pumping.
func (in *Instance) Deserialize(data []byte) error {
	codec := in.opts.Codec
	if codec == nil {
		return ErrSerializationUnsupported
	}
	var snap Snapshot
	if err := codec.Decode(data, &snap); err != nil {
		return &FlowError{Message: "snapshot decode failed: " + err.Error(), Code: "SNAPSHOT_DECODE"}
	}
	in.applySnapshot(&snap)
	return nil
}

func (in *Instance) applySnapshot(snap *Snapshot) {
	in.mu.Lock()

	in.steps = make(map[string]*StepDefinition, len(snap.Steps))
	for name, meta := range snap.Steps {
		def := &StepDefinition{
			Name:       name,
			Domain:     meta.Domain,
			BothOrder:  meta.BothOrder,
			Retry:      meta.Retry,
			StaticNext: append([]string(nil), meta.StaticNext...),
			Timeout:    time.Duration(meta.TimeoutMs) * time.Millisecond,
		}
		in.steps[name] = def
	}

	in.edges = make(map[string][]string, len(snap.Edges))
	for from, to := range snap.Edges {
		in.edges[from] = append([]string(nil), to...)
	}

	in.queue = append([]QueueItem(nil), snap.Queue...)
	in.stats = snap.Stats

	in.shared = make(map[string]interface{}, len(snap.Shared))
	for k, v := range snap.Shared {
		in.shared[k] = v
	}

	in.logs = make(map[string]*StepLog, len(snap.Logs))
	for name, ls := range snap.Logs {
		l := NewStepLog(in.opts.logRing())
		l.restore(ls)
		in.logs[name] = l
	}
	in.mu.Unlock()

	in.root.Import(snap.Nodes)
}

// Persist serializes the instance and saves the blob to the configured
// snapshot store, returning the assigned sequence number.
func (in *Instance) Persist(ctx context.Context) (int, error) {
	st := in.opts.Store
	if st == nil {
		return 0, &FlowError{Message: "no snapshot store configured", Code: "NO_STORE"}
	}
	data, err := in.Serialize()
	if err != nil {
		if m := in.opts.Metrics; m != nil {
			m.snapshotSaves.WithLabelValues("error").Inc()
		}
		return 0, err
	}
	seq, err := st.Save(ctx, in.id, data)
	if m := in.opts.Metrics; m != nil {
		if err != nil {
			m.snapshotSaves.WithLabelValues("error").Inc()
		} else {
			m.snapshotSaves.WithLabelValues("ok").Inc()
		}
	}
	return seq, err
}
