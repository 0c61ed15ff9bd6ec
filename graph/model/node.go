package model

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dshills/weavegraph-go/graph"
)

// ChatNode adapts a ChatModel into a graph.Node: it converts the
// session's message history into a conversation, calls the model, and
// returns the reply as an assistant message. Tool calls requested by
// the model are written into the extra channel under ToolCallsKey for a
// downstream tool-executing node to pick up.
//
// Provider failures surface as a *graph.NodeError with code "PROVIDER",
// which is fatal to the superstep; wrap the node yourself if you want
// fallback behavior instead.
type ChatNode struct {
	Model ChatModel

	// Provider labels error events and LLM stream ids ("anthropic",
	// "openai", "google").
	Provider string

	// SystemPrompt, when non-empty, is prepended as a system message.
	SystemPrompt string

	// Tools advertised to the model on every call.
	Tools []ToolSpec
}

// ToolCallsKey is the extra-channel key ChatNode writes requested tool
// calls under, and ToolNode (package tool) reads them from.
const ToolCallsKey = "tool_calls"

// NewChatNode returns a ChatNode over m.
func NewChatNode(m ChatModel, provider string) *ChatNode {
	return &ChatNode{Model: m, Provider: provider}
}

// Run implements graph.Node.
func (n *ChatNode) Run(ctx context.Context, snapshot graph.StateSnapshot, nctx graph.NodeContext) (graph.NodePartial, error) {
	if n.Model == nil {
		return graph.NodePartial{}, &graph.NodeError{
			Message: "no chat model configured",
			Code:    "VALIDATION",
			NodeID:  nctx.NodeID,
		}
	}

	conversation := make([]Message, 0, len(snapshot.Messages)+1)
	if n.SystemPrompt != "" {
		conversation = append(conversation, Message{Role: RoleSystem, Content: n.SystemPrompt})
	}
	for _, m := range snapshot.Messages {
		conversation = append(conversation, Message{Role: m.Role, Content: m.Content})
	}

	out, err := n.Model.Chat(ctx, conversation, n.Tools)
	if err != nil {
		return graph.NodePartial{}, &graph.NodeError{
			Message: fmt.Sprintf("%s chat failed: %v", n.Provider, err),
			Code:    "PROVIDER",
			NodeID:  nctx.NodeID,
			Cause:   err,
		}
	}

	// One terminal LLM event per call; token-level streaming is the
	// provider adapter's concern when its SDK supports it.
	if nctx.EventSender != nil {
		_ = nctx.EventSender.Send(graph.LLMEvent{
			StreamID: fmt.Sprintf("%s-%s-%d", n.Provider, nctx.NodeID, nctx.Step),
			Chunk:    out.Text,
			Final:    true,
		})
	}

	partial := graph.NodePartial{}
	if out.Text != "" {
		partial.Messages = []graph.Message{graph.AssistantMessage(out.Text)}
	}
	if len(out.ToolCalls) > 0 {
		calls, err := json.Marshal(out.ToolCalls)
		if err != nil {
			return graph.NodePartial{}, &graph.NodeError{
				Message: "encode tool calls: " + err.Error(),
				Code:    "SERDE",
				NodeID:  nctx.NodeID,
				Cause:   err,
			}
		}
		partial.Extra = graph.ExtraMap{ToolCallsKey: calls}
	}
	return partial, nil
}
