package emit

import "context"

// NullEmitter discards every event. It is the default sink when no
// observability backend is configured, and has zero overhead.
type NullEmitter struct{}

// NewNullEmitter returns an Emitter that drops all events.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(event Event) {}

// EmitBatch discards the events.
func (n *NullEmitter) EmitBatch(_ context.Context, _ []Event) error { return nil }

// Flush is a no-op; nothing is ever buffered.
func (n *NullEmitter) Flush(_ context.Context) error { return nil }
