// Package google adapts the Gemini API to model.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/weavegraph-go/graph/model"
)

// DefaultModel is used when no model name is given.
const DefaultModel = "gemini-2.5-flash"

// ChatModel calls Gemini through the official SDK. SDK failures are
// returned wrapped with a "google API error" prefix; ChatModel does not
// turn safety-filter blocks into a *SafetyFilterError.
type ChatModel struct {
	modelName string

	// invoke is the API seam; tests replace it to avoid network calls.
	invoke func(ctx context.Context, conv []model.Message, tools []model.ToolSpec) (model.ChatOut, error)
}

// NewChatModel returns a ChatModel for the given API key and model name
// (DefaultModel when empty).
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	m := &ChatModel{modelName: modelName}
	m.invoke = func(ctx context.Context, conv []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
		if apiKey == "" {
			return model.ChatOut{}, errors.New("google API key is required")
		}
		client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
		if err != nil {
			return model.ChatOut{}, fmt.Errorf("create google client: %w", err)
		}
		defer func() { _ = client.Close() }()

		gm := client.GenerativeModel(m.modelName)
		if len(tools) > 0 {
			gm.Tools = toGenaiTools(tools)
		}
		resp, err := gm.GenerateContent(ctx, toParts(conv)...)
		if err != nil {
			return model.ChatOut{}, fmt.Errorf("google API error: %w", err)
		}
		return firstCandidate(resp), nil
	}
	return m
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}
	return m.invoke(ctx, messages, tools)
}

// toParts flattens the conversation into text parts. Gemini carries no
// per-message role on this call path; role separation lives in the text
// itself for multi-turn prompts.
func toParts(conv []model.Message) []genai.Part {
	parts := make([]genai.Part, 0, len(conv))
	for _, msg := range conv {
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
	}
	return parts
}

func toGenaiTools(tools []model.ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, spec := range tools {
		decls[i] = &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  toGenaiSchema(spec.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// toGenaiSchema converts one level of JSON Schema (object with typed
// properties and a required list) into the SDK's schema type, which is
// what tool declarations need in practice.
func toGenaiSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}
	out := &genai.Schema{Type: genai.TypeObject}

	if props, ok := schema["properties"].(map[string]interface{}); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			prop, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			ps := &genai.Schema{}
			if typeName, ok := prop["type"].(string); ok {
				ps.Type = schemaType(typeName)
			}
			if desc, ok := prop["description"].(string); ok {
				ps.Description = desc
			}
			out.Properties[name] = ps
		}
	}

	switch req := schema["required"].(type) {
	case []string:
		out.Required = req
	case []interface{}:
		for _, v := range req {
			if s, ok := v.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	return out
}

func schemaType(name string) genai.Type {
	switch name {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

// firstCandidate folds the first candidate's parts into a ChatOut: text
// parts joined with newlines, function calls as ToolCalls.
func firstCandidate(resp *genai.GenerateContentResponse) model.ChatOut {
	var out model.ChatOut
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				Name:  p.Name,
				Input: p.Args,
			})
		}
	}
	return out
}

// SafetyFilterError reports content blocked by Gemini's safety filters.
// Check for it with errors.As and route to a different provider or
// rephrase rather than retrying verbatim.
type SafetyFilterError struct {
	BlockReason  string
	HarmCategory string
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.HarmCategory
}
