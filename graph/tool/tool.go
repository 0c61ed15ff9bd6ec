// Package tool defines the executable-tool contract LLM nodes dispatch
// to, plus a ToolNode that wires tool execution into a graph.
package tool

import "context"

// Tool is one executable capability an LLM can request: a web search, a
// database query, an API call. Input and output are string-keyed maps
// so the LLM-facing schema and the execution side stay decoupled.
//
// Implementations validate their input, respect ctx cancellation, and
// return descriptive errors; ToolNode treats a failing tool as
// recoverable, so an error here never kills the session.
type Tool interface {
	// Name is the unique identifier the LLM calls the tool by. Matches
	// the corresponding model.ToolSpec.Name; lowercase with
	// underscores by convention ("search_web", "get_weather").
	Name() string

	// Call executes the tool. input follows the tool's advertised JSON
	// schema and may be nil for parameterless tools.
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}
