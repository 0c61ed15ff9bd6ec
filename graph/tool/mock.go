package tool

import (
	"context"
	"sync"
)

// MockTool is a scripted Tool for tests: it returns its configured
// responses in sequence (repeating the last), or Err when set, and
// records every call. Safe for concurrent use.
type MockTool struct {
	// ToolName is returned by Name.
	ToolName string

	// Responses is the output sequence; exhausted means the last entry
	// repeats. Empty yields an empty map.
	Responses []map[string]interface{}

	// Err, when set, fails every call.
	Err error

	// Calls is the recorded invocation history.
	Calls []MockToolCall

	mu   sync.Mutex
	next int
}

// MockToolCall records one Call invocation.
type MockToolCall struct {
	Input map[string]interface{}
}

// Name implements Tool.
func (m *MockTool) Name() string { return m.ToolName }

// Call implements Tool.
func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockToolCall{Input: input})

	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return map[string]interface{}{}, nil
	}

	idx := m.next
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.next++
	}
	return m.Responses[idx], nil
}

// Reset clears the history and rewinds the response sequence.
func (m *MockTool) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.next = 0
}

// CallCount reports how many times Call ran.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
