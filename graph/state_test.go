package graph

import (
	"encoding/json"
	"testing"
)

func TestNewStateWithUserMessage(t *testing.T) {
	s := NewStateWithUserMessage("hello")

	if got := s.MessagesVersion(); got != 1 {
		t.Fatalf("expected messages.version = 1, got %d", got)
	}
	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Role != RoleUser || msgs[0].Content != "hello" {
		t.Fatalf("unexpected seeded messages: %+v", msgs)
	}
	if got := s.ExtraVersion(); got != 0 {
		t.Fatalf("expected extra.version = 0 for a fresh state, got %d", got)
	}
}

func TestStateBuilder(t *testing.T) {
	s := NewStateBuilder().
		WithUserMessage("hi").
		WithAssistantMessage("hello back").
		WithExtra("count", json.RawMessage(`1`)).
		Build()

	if got := s.MessagesVersion(); got != 1 {
		t.Fatalf("expected messages.version = 1, got %d", got)
	}
	if got := s.ExtraVersion(); got != 1 {
		t.Fatalf("expected extra.version = 1, got %d", got)
	}
	if len(s.Messages()) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(s.Messages()))
	}
}

func TestAddMessageDoesNotBumpVersion(t *testing.T) {
	s := NewVersionedState()
	s.AddMessage(RoleUser, "first")

	if got := s.MessagesVersion(); got != 0 {
		t.Fatalf("AddMessage must not bump version, got %d", got)
	}
	if len(s.Messages()) != 1 {
		t.Fatalf("expected message to be recorded")
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := NewStateWithUserMessage("hi")
	snap := s.Snapshot()

	s.AddMessage(RoleAssistant, "mutated after snapshot")

	if len(snap.Messages) != 1 {
		t.Fatalf("snapshot must not observe later mutation, got %d messages", len(snap.Messages))
	}
	if len(s.Messages()) != 2 {
		t.Fatalf("expected underlying state to have grown to 2 messages")
	}
}

func TestExtraEqual(t *testing.T) {
	a := ExtraMap{"x": json.RawMessage(`1`)}
	b := ExtraMap{"x": json.RawMessage(`1`)}
	c := ExtraMap{"x": json.RawMessage(`2`)}

	if !extraEqual(a, b) {
		t.Fatalf("expected equal maps to compare equal")
	}
	if extraEqual(a, c) {
		t.Fatalf("expected differing maps to compare unequal")
	}
}
