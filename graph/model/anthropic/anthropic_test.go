package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/weavegraph-go/graph/model"
)

func TestDefaultModelName(t *testing.T) {
	m := NewChatModel("key", "")
	if m.modelName != DefaultModel {
		t.Errorf("modelName = %q, want %q", m.modelName, DefaultModel)
	}
	m = NewChatModel("key", "claude-3-haiku-20240307")
	if m.modelName != "claude-3-haiku-20240307" {
		t.Errorf("explicit model name not kept: %q", m.modelName)
	}
}

func TestChatRequiresAPIKey(t *testing.T) {
	m := NewChatModel("", "")
	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestChatRespectsCancelledContext(t *testing.T) {
	m := NewChatModel("key", "")
	m.invoke = func(context.Context, string, []model.Message, []model.ToolSpec) (model.ChatOut, error) {
		t.Fatal("invoke must not be reached with a cancelled context")
		return model.ChatOut{}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSplitSystem(t *testing.T) {
	system, conv := splitSystem([]model.Message{
		{Role: model.RoleSystem, Content: "be brief"},
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleSystem, Content: "be kind"},
		{Role: model.RoleAssistant, Content: "hello"},
	})

	if system != "be brief\n\nbe kind" {
		t.Errorf("system = %q", system)
	}
	if len(conv) != 2 || conv[0].Role != model.RoleUser || conv[1].Role != model.RoleAssistant {
		t.Errorf("conversation = %+v", conv)
	}
}

func TestChatPassesSplitConversation(t *testing.T) {
	m := NewChatModel("key", "")
	var gotSystem string
	var gotConv []model.Message
	m.invoke = func(_ context.Context, system string, conv []model.Message, _ []model.ToolSpec) (model.ChatOut, error) {
		gotSystem, gotConv = system, conv
		return model.ChatOut{Text: "ok"}, nil
	}

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "sys"},
		{Role: model.RoleUser, Content: "question"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out.Text != "ok" {
		t.Errorf("out = %+v", out)
	}
	if gotSystem != "sys" || len(gotConv) != 1 || gotConv[0].Content != "question" {
		t.Errorf("system=%q conv=%+v", gotSystem, gotConv)
	}
}

func TestBuildParams(t *testing.T) {
	m := NewChatModel("key", "claude-x")
	params := m.buildParams("sys", []model.Message{{Role: model.RoleUser, Content: "hi"}}, []model.ToolSpec{{
		Name:        "get_weather",
		Description: "weather lookup",
		Schema: map[string]interface{}{
			"properties": map[string]interface{}{"location": map[string]interface{}{"type": "string"}},
			"required":   []interface{}{"location"},
		},
	}})

	if string(params.Model) != "claude-x" {
		t.Errorf("model = %q", params.Model)
	}
	if params.MaxTokens != defaultMaxTokens {
		t.Errorf("max tokens = %d", params.MaxTokens)
	}
	if len(params.System) != 1 || params.System[0].Text != "sys" {
		t.Errorf("system = %+v", params.System)
	}
	if len(params.Messages) != 1 {
		t.Errorf("messages = %+v", params.Messages)
	}
	if len(params.Tools) != 1 || params.Tools[0].OfTool.Name != "get_weather" {
		t.Fatalf("tools = %+v", params.Tools)
	}
	if req := params.Tools[0].OfTool.InputSchema.Required; len(req) != 1 || req[0] != "location" {
		t.Errorf("required = %v", req)
	}
}

func TestSchemaRequiredVariants(t *testing.T) {
	if got := schemaRequired(map[string]interface{}{"required": []string{"a", "b"}}); len(got) != 2 {
		t.Errorf("[]string form: %v", got)
	}
	if got := schemaRequired(map[string]interface{}{"required": []interface{}{"a", 3, "b"}}); len(got) != 2 {
		t.Errorf("[]interface{} form drops non-strings: %v", got)
	}
	if got := schemaRequired(map[string]interface{}{}); got != nil {
		t.Errorf("absent form: %v", got)
	}
}

func TestToolInputMap(t *testing.T) {
	if got := toolInputMap(nil); got != nil {
		t.Errorf("nil input: %v", got)
	}
	direct := map[string]interface{}{"k": "v"}
	if got := toolInputMap(direct); got["k"] != "v" {
		t.Errorf("map passthrough: %v", got)
	}
	if got := toolInputMap("opaque"); got["_raw"] != "opaque" {
		t.Errorf("non-map wrapped: %v", got)
	}
}

func TestChatModelSatisfiesInterface(t *testing.T) {
	var _ model.ChatModel = NewChatModel("key", "")
}
