package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dshills/weavegraph-go/graph"
	"github.com/dshills/weavegraph-go/graph/model"
)

// ToolResultsKey is the extra-channel key ToolNode writes execution
// results under, for the next ChatNode (or the caller) to read.
const ToolResultsKey = "tool_results"

// ToolResult pairs a tool call with its outcome. Exactly one of Output
// and Error is meaningful.
type ToolResult struct {
	Name   string                 `json:"name"`
	Output map[string]interface{} `json:"output,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// ToolNode executes the tool calls a ChatNode left in the extra channel
// (model.ToolCallsKey) against a set of registered tools, writing the
// results back under ToolResultsKey.
//
// Individual tool failures are recoverable: each failing call produces
// a ToolResult with Error set plus an error event on the errors
// channel, and execution continues. Only a malformed tool_calls payload
// is fatal to the superstep.
type ToolNode struct {
	tools map[string]Tool
}

// NewToolNode returns a ToolNode dispatching to tools by Name.
func NewToolNode(tools ...Tool) *ToolNode {
	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
	}
	return &ToolNode{tools: byName}
}

// Run implements graph.Node.
func (n *ToolNode) Run(ctx context.Context, snapshot graph.StateSnapshot, nctx graph.NodeContext) (graph.NodePartial, error) {
	raw, ok := snapshot.Extra[model.ToolCallsKey]
	if !ok {
		return graph.NodePartial{}, nil
	}

	var calls []model.ToolCall
	if err := json.Unmarshal(raw, &calls); err != nil {
		return graph.NodePartial{}, &graph.NodeError{
			Message: "decode tool calls: " + err.Error(),
			Code:    "SERDE",
			NodeID:  nctx.NodeID,
			Cause:   err,
		}
	}

	results := make([]ToolResult, 0, len(calls))
	var errEvents []graph.ErrorEvent
	for _, call := range calls {
		impl, ok := n.tools[call.Name]
		if !ok {
			results = append(results, ToolResult{Name: call.Name, Error: "unknown tool"})
			_ = nctx.Emit("tool", fmt.Sprintf("unknown tool %q requested", call.Name))
			continue
		}
		output, err := impl.Call(ctx, call.Input)
		if err != nil {
			results = append(results, ToolResult{Name: call.Name, Error: err.Error()})
			errEvents = append(errEvents, graph.ErrorEvent{
				Scope: graph.NodeScope(graph.Custom(nctx.NodeID), nctx.Step),
				Error: graph.NodeFailure{Message: fmt.Sprintf("tool %s: %v", call.Name, err)},
				Tags:  []string{"tool"},
			})
			continue
		}
		results = append(results, ToolResult{Name: call.Name, Output: output})
	}

	encoded, err := json.Marshal(results)
	if err != nil {
		return graph.NodePartial{}, &graph.NodeError{
			Message: "encode tool results: " + err.Error(),
			Code:    "SERDE",
			NodeID:  nctx.NodeID,
			Cause:   err,
		}
	}

	return graph.NodePartial{
		Extra:  graph.ExtraMap{ToolResultsKey: encoded},
		Errors: errEvents,
	}, nil
}
