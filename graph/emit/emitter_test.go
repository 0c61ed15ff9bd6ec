package emit

import (
	"context"
	"testing"
)

// captureEmitter is a minimal Emitter used to exercise the interface
// contract in tests.
type captureEmitter struct {
	events []Event
}

func (m *captureEmitter) Emit(event Event) {
	m.events = append(m.events, event)
}

func (m *captureEmitter) EmitBatch(_ context.Context, events []Event) error {
	m.events = append(m.events, events...)
	return nil
}

func (m *captureEmitter) Flush(_ context.Context) error { return nil }

func TestEmitterInterfaceContract(t *testing.T) {
	var _ Emitter = (*captureEmitter)(nil)
	var _ Emitter = NewNullEmitter()
	var _ Emitter = NewLogEmitter(nil, false)
	var _ Emitter = NewBufferedEmitter()
}

func TestEmitPreservesFields(t *testing.T) {
	m := &captureEmitter{}

	m.Emit(Event{
		RunID:  "sess-1",
		Step:   3,
		NodeID: "Custom:worker",
		Scope:  "node",
		Msg:    "node_start",
		Meta:   map[string]interface{}{"attempt": 1},
	})

	if len(m.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(m.events))
	}
	got := m.events[0]
	if got.RunID != "sess-1" || got.Step != 3 || got.NodeID != "Custom:worker" {
		t.Errorf("event fields not preserved: %+v", got)
	}
	if got.Scope != "node" || got.Msg != "node_start" {
		t.Errorf("scope/msg not preserved: %+v", got)
	}
}

func TestEmitBatchPreservesOrder(t *testing.T) {
	m := &captureEmitter{}

	batch := []Event{
		{RunID: "sess-1", Step: 1, Msg: "superstep_start"},
		{RunID: "sess-1", Step: 1, Msg: "superstep_end"},
		{RunID: "sess-1", Step: 2, Msg: "superstep_start"},
	}
	if err := m.EmitBatch(context.Background(), batch); err != nil {
		t.Fatalf("EmitBatch: %v", err)
	}

	for i, want := range batch {
		if m.events[i].Msg != want.Msg || m.events[i].Step != want.Step {
			t.Errorf("event %d out of order: got %+v want %+v", i, m.events[i], want)
		}
	}
}
