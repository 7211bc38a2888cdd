package emit

// NullEmitter implements Emitter by discarding all events.
//
// Use it when bus subscribers are the only observers you need and the
// mirror stream should be disabled without changing wiring code.
type NullEmitter struct{}

// NewNullEmitter creates a new NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event without any processing.
func (n *NullEmitter) Emit(event Event) {
	// No-op: discard the event
}
