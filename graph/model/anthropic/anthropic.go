// Package anthropic adapts the Claude Messages API to model.ChatModel.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/weavegraph-go/graph/model"
)

// DefaultModel is used when no model name is given.
const DefaultModel = "claude-sonnet-4-5-20250929"

// defaultMaxTokens caps the response length; the Messages API requires
// an explicit value.
const defaultMaxTokens = 4096

// ChatModel calls Claude through the official SDK. System messages are
// lifted out of the conversation into the API's dedicated system
// parameter, which is how the Messages API wants them.
type ChatModel struct {
	modelName string

	// invoke is the API seam; tests replace it to avoid network calls.
	invoke func(ctx context.Context, system string, conv []model.Message, tools []model.ToolSpec) (model.ChatOut, error)
}

// NewChatModel returns a ChatModel for the given API key and model name
// (DefaultModel when empty).
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	m := &ChatModel{modelName: modelName}
	m.invoke = func(ctx context.Context, system string, conv []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
		if apiKey == "" {
			return model.ChatOut{}, errors.New("anthropic API key is required")
		}
		client := sdk.NewClient(option.WithAPIKey(apiKey))
		resp, err := client.Messages.New(ctx, m.buildParams(system, conv, tools))
		if err != nil {
			return model.ChatOut{}, fmt.Errorf("anthropic API error: %w", err)
		}
		return collectBlocks(resp), nil
	}
	return m
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}
	system, conv := splitSystem(messages)
	return m.invoke(ctx, system, conv, tools)
}

// splitSystem extracts system messages (concatenated with blank lines)
// from the conversation, since the API takes them out-of-band.
func splitSystem(messages []model.Message) (string, []model.Message) {
	var system string
	conv := make([]model.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		conv = append(conv, msg)
	}
	return system, conv
}

func (m *ChatModel) buildParams(system string, conv []model.Message, tools []model.ToolSpec) sdk.MessageNewParams {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(m.modelName),
		MaxTokens: defaultMaxTokens,
		Messages:  toMessageParams(conv),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = toToolParams(tools)
	}
	return params
}

func toMessageParams(conv []model.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, len(conv))
	for i, msg := range conv {
		block := sdk.NewTextBlock(msg.Content)
		if msg.Role == model.RoleAssistant {
			out[i] = sdk.NewAssistantMessage(block)
		} else {
			// User and any unrecognized role; system was split off.
			out[i] = sdk.NewUserMessage(block)
		}
	}
	return out
}

func toToolParams(tools []model.ToolSpec) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, len(tools))
	for i, spec := range tools {
		var properties any
		var required []string
		if spec.Schema != nil {
			properties = spec.Schema["properties"]
			required = schemaRequired(spec.Schema)
		}
		out[i] = sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        spec.Name,
				Description: sdk.String(spec.Description),
				InputSchema: sdk.ToolInputSchemaParam{
					Properties: properties,
					Required:   required,
				},
			},
		}
	}
	return out
}

// schemaRequired tolerates both []string and the []interface{} that a
// JSON-decoded schema produces.
func schemaRequired(schema map[string]interface{}) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// collectBlocks folds a response's content blocks into a ChatOut: text
// blocks joined with newlines, tool_use blocks as ToolCalls.
func collectBlocks(resp *sdk.Message) model.ChatOut {
	var out model.ChatOut
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case sdk.TextBlock:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += b.Text
		case sdk.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				Name:  b.Name,
				Input: toolInputMap(b.Input),
			})
		}
	}
	return out
}

func toolInputMap(input interface{}) map[string]interface{} {
	if input == nil {
		return nil
	}
	if m, ok := input.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"_raw": input}
}
