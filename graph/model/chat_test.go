package model

import (
	"context"
	"errors"
	"testing"
)

func TestMockChatModelScriptedResponses(t *testing.T) {
	mock := &MockChatModel{
		Responses: []ChatOut{
			{Text: "first"},
			{Text: "second"},
		},
	}

	for i, want := range []string{"first", "second", "second"} { // last repeats
		out, err := mock.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if out.Text != want {
			t.Errorf("call %d: text = %q, want %q", i, out.Text, want)
		}
	}
	if mock.CallCount() != 3 {
		t.Errorf("CallCount = %d", mock.CallCount())
	}
}

func TestMockChatModelRecordsConversationAndTools(t *testing.T) {
	mock := &MockChatModel{}
	tools := []ToolSpec{{Name: "search", Description: "web search"}}
	conv := []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	}

	if _, err := mock.Chat(context.Background(), conv, tools); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	call := mock.Calls[0]
	if len(call.Messages) != 2 || call.Messages[0].Role != RoleSystem {
		t.Errorf("messages = %+v", call.Messages)
	}
	if len(call.Tools) != 1 || call.Tools[0].Name != "search" {
		t.Errorf("tools = %+v", call.Tools)
	}
}

func TestMockChatModelErrorInjection(t *testing.T) {
	boom := errors.New("quota exceeded")
	mock := &MockChatModel{Err: boom}

	_, err := mock.Chat(context.Background(), nil, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if mock.CallCount() != 1 {
		t.Error("failed call should still be recorded")
	}
}

func TestMockChatModelContextCancellation(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{{Text: "never"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mock.Chat(ctx, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if mock.CallCount() != 0 {
		t.Error("cancelled call should not be recorded")
	}
}

func TestMockChatModelReset(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{{Text: "a"}, {Text: "b"}}}
	_, _ = mock.Chat(context.Background(), nil, nil)
	_, _ = mock.Chat(context.Background(), nil, nil)
	mock.Reset()

	if mock.CallCount() != 0 {
		t.Errorf("history not cleared: %d", mock.CallCount())
	}
	out, _ := mock.Chat(context.Background(), nil, nil)
	if out.Text != "a" {
		t.Errorf("sequence not rewound: %q", out.Text)
	}
}

func TestChatModelInterfaceContract(t *testing.T) {
	var _ ChatModel = (*MockChatModel)(nil)
}

func TestToolCallShape(t *testing.T) {
	out := ChatOut{
		Text: "calling a tool",
		ToolCalls: []ToolCall{
			{Name: "calculate", Input: map[string]interface{}{"expression": "2+2"}},
		},
	}
	if out.ToolCalls[0].Name != "calculate" || out.ToolCalls[0].Input["expression"] != "2+2" {
		t.Errorf("tool call = %+v", out.ToolCalls[0])
	}
}
