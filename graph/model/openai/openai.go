// Package openai adapts the OpenAI chat completions API to
// model.ChatModel.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/weavegraph-go/graph/model"
)

// DefaultModel is used when no model name is given.
const DefaultModel = "gpt-4o"

// ChatModel calls the chat completions endpoint through the official
// SDK, retrying transient failures (network errors, 5xx, rate limits)
// with a linearly growing backoff for rate limits.
type ChatModel struct {
	modelName  string
	maxRetries int
	retryDelay time.Duration

	// invoke is the API seam; tests replace it to avoid network calls.
	invoke func(ctx context.Context, conv []model.Message, tools []model.ToolSpec) (model.ChatOut, error)
}

// NewChatModel returns a ChatModel for the given API key and model name
// (DefaultModel when empty), with 3 retries spaced one second apart.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	m := &ChatModel{
		modelName:  modelName,
		maxRetries: 3,
		retryDelay: time.Second,
	}
	m.invoke = func(ctx context.Context, conv []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
		if apiKey == "" {
			return model.ChatOut{}, errors.New("openai API key is required")
		}
		client := sdk.NewClient(option.WithAPIKey(apiKey))
		resp, err := client.Chat.Completions.New(ctx, m.buildParams(conv, tools))
		if err != nil {
			return model.ChatOut{}, fmt.Errorf("openai API error: %w", err)
		}
		return firstChoice(resp), nil
	}
	return m
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		out, err := m.invoke(ctx, messages, tools)
		if err == nil {
			return out, nil
		}
		if !transient(err) {
			return model.ChatOut{}, err
		}
		lastErr = err
		if attempt >= m.maxRetries {
			break
		}

		delay := m.retryDelay
		if rateLimited(err) {
			delay *= time.Duration(attempt + 1)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return model.ChatOut{}, ctx.Err()
		}
	}
	return model.ChatOut{}, fmt.Errorf("openai API failed after %d retries: %w", m.maxRetries, lastErr)
}

// transient reports whether err is worth retrying: rate limits,
// timeouts, connection failures, and 5xx responses.
func transient(err error) bool {
	if err == nil {
		return false
	}
	if rateLimited(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "network", "connection", "temporary", "500", "502", "503"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func rateLimited(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// RateLimitError marks a 429 from the API; Chat backs off harder on it.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string { return e.Message }

func (m *ChatModel) buildParams(conv []model.Message, tools []model.ToolSpec) sdk.ChatCompletionNewParams {
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(m.modelName),
		Messages: toMessageUnion(conv),
	}
	if len(tools) > 0 {
		params.Tools = toToolParams(tools)
	}
	return params
}

func toMessageUnion(conv []model.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, len(conv))
	for i, msg := range conv {
		switch msg.Role {
		case model.RoleSystem:
			out[i] = sdk.SystemMessage(msg.Content)
		case model.RoleAssistant:
			out[i] = sdk.AssistantMessage(msg.Content)
		default:
			out[i] = sdk.UserMessage(msg.Content)
		}
	}
	return out
}

func toToolParams(tools []model.ToolSpec) []sdk.ChatCompletionToolParam {
	out := make([]sdk.ChatCompletionToolParam, len(tools))
	for i, spec := range tools {
		out[i] = sdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: sdk.String(spec.Description),
				Parameters:  shared.FunctionParameters(spec.Schema),
			},
		}
	}
	return out
}

// firstChoice converts the completion's first choice; additional
// choices are never requested.
func firstChoice(resp *sdk.ChatCompletion) model.ChatOut {
	var out model.ChatOut
	if len(resp.Choices) == 0 {
		return out
	}
	msg := resp.Choices[0].Message
	out.Text = msg.Content
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			Name:  tc.Function.Name,
			Input: decodeArguments(tc.Function.Arguments),
		})
	}
	return out
}

// decodeArguments parses the function-call arguments JSON. Payloads
// that fail to parse are preserved under "_raw" rather than dropped.
func decodeArguments(arguments string) map[string]interface{} {
	if arguments == "" {
		return nil
	}
	var input map[string]interface{}
	if err := json.Unmarshal([]byte(arguments), &input); err != nil {
		return map[string]interface{}{"_raw": arguments}
	}
	return input
}
