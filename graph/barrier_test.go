package graph

import (
	"encoding/json"
	"testing"
	"time"
)

func TestApplyBarrierMessagesBumpOnlyOnChange(t *testing.T) {
	state := NewVersionedState()
	v0 := state.MessagesVersion()

	out := ApplyBarrier(state, []NodeKind{Custom("A")}, []NodePartial{
		WithMessage(UserMessage("hi")),
	})
	if state.MessagesVersion() != v0+1 {
		t.Fatalf("expected messages version bump, got %d", state.MessagesVersion())
	}
	if len(out.UpdatedChannels) != 1 || out.UpdatedChannels[0] != "messages" {
		t.Fatalf("expected UpdatedChannels=[messages], got %v", out.UpdatedChannels)
	}

	v1 := state.MessagesVersion()
	out2 := ApplyBarrier(state, []NodeKind{Custom("A")}, []NodePartial{{}})
	if state.MessagesVersion() != v1 {
		t.Fatalf("empty partial must not bump version, got %d", state.MessagesVersion())
	}
	if len(out2.UpdatedChannels) != 0 {
		t.Fatalf("expected no updated channels, got %v", out2.UpdatedChannels)
	}
}

func TestApplyBarrierErrorsVersionNotInUpdatedChannels(t *testing.T) {
	state := NewVersionedState()
	ev0 := state.ErrorsVersion()

	out := ApplyBarrier(state, []NodeKind{Custom("A")}, []NodePartial{
		WithError(ErrorEvent{When: time.Unix(0, 0), Scope: NodeScope(Custom("A"), 1), Error: NodeFailure{Message: "boom"}}),
	})
	if state.ErrorsVersion() != ev0+1 {
		t.Fatalf("expected errors version bump, got %d", state.ErrorsVersion())
	}
	for _, c := range out.UpdatedChannels {
		if c == "errors" {
			t.Fatalf("errors must never appear in UpdatedChannels, got %v", out.UpdatedChannels)
		}
	}
	if len(out.Errors) != 1 {
		t.Fatalf("expected 1 aggregated error, got %d", len(out.Errors))
	}
}

func TestApplyBarrierExtraLastWriterWins(t *testing.T) {
	state := NewVersionedState()

	out := ApplyBarrier(state, []NodeKind{Custom("A"), Custom("B")}, []NodePartial{
		{Extra: ExtraMap{"k": json.RawMessage(`"a"`)}},
		{Extra: ExtraMap{"k": json.RawMessage(`"b"`)}},
	})
	if len(out.UpdatedChannels) != 1 || out.UpdatedChannels[0] != "extra" {
		t.Fatalf("expected UpdatedChannels=[extra], got %v", out.UpdatedChannels)
	}
	if string(state.Extra()["k"]) != `"b"` {
		t.Fatalf("expected later writer (B) to win, got %s", state.Extra()["k"])
	}
}

func TestApplyBarrierCountsExtraConflicts(t *testing.T) {
	state := NewVersionedState()

	// Two partials writing the same key is one cross-partial collision.
	out := ApplyBarrier(state, []NodeKind{Custom("A"), Custom("B")}, []NodePartial{
		{Extra: ExtraMap{"k": json.RawMessage(`1`), "only_a": json.RawMessage(`1`)}},
		{Extra: ExtraMap{"k": json.RawMessage(`2`)}},
	})
	if out.ExtraConflicts != 1 {
		t.Fatalf("cross-partial conflicts = %d, want 1", out.ExtraConflicts)
	}

	// A later superstep overwriting an existing state key counts too.
	out = ApplyBarrier(state, []NodeKind{Custom("A")}, []NodePartial{
		{Extra: ExtraMap{"k": json.RawMessage(`3`)}},
	})
	if out.ExtraConflicts != 1 {
		t.Fatalf("state-overwrite conflicts = %d, want 1", out.ExtraConflicts)
	}

	// Fresh keys are conflict-free.
	out = ApplyBarrier(state, []NodeKind{Custom("A")}, []NodePartial{
		{Extra: ExtraMap{"brand_new": json.RawMessage(`1`)}},
	})
	if out.ExtraConflicts != 0 {
		t.Fatalf("fresh-key conflicts = %d, want 0", out.ExtraConflicts)
	}
}

func TestApplyBarrierErrorOrdering(t *testing.T) {
	state := NewVersionedState()
	t1 := time.Unix(100, 0)
	t2 := time.Unix(50, 0)

	out := ApplyBarrier(state, []NodeKind{Custom("A")}, []NodePartial{
		{Errors: []ErrorEvent{
			{When: t1, Scope: RunnerScope("s1", 1), Error: NodeFailure{Message: "runner-err"}},
			{When: t2, Scope: NodeScope(Custom("A"), 1), Error: NodeFailure{Message: "node-err"}},
		}},
	})
	if len(out.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(out.Errors))
	}
	if out.Errors[0].Error.Message != "node-err" {
		t.Fatalf("expected Node-scoped error first (lower rank), got %q", out.Errors[0].Error.Message)
	}
}

func TestApplyBarrierDeterministic(t *testing.T) {
	ranIDs := []NodeKind{Custom("A"), Custom("B")}
	partials := []NodePartial{
		WithMessage(AssistantMessage("one")),
		WithMessage(AssistantMessage("two")),
	}

	s1 := NewVersionedState()
	out1 := ApplyBarrier(s1, ranIDs, partials)
	s2 := NewVersionedState()
	out2 := ApplyBarrier(s2, ranIDs, partials)

	if s1.MessagesVersion() != s2.MessagesVersion() {
		t.Fatalf("non-deterministic version bump")
	}
	if len(out1.UpdatedChannels) != len(out2.UpdatedChannels) {
		t.Fatalf("non-deterministic UpdatedChannels")
	}
	msgs1, msgs2 := s1.Messages(), s2.Messages()
	if len(msgs1) != len(msgs2) || msgs1[0].Content != msgs2[0].Content || msgs1[1].Content != msgs2[1].Content {
		t.Fatalf("non-deterministic message order: %v vs %v", msgs1, msgs2)
	}
}
