package emit

import (
	"context"
	"sync"
)

// BufferedEmitter stores every event in memory, organized by session,
// and exposes query methods over the captured history. It is the
// emitter of choice in tests and during development.
//
// All events are retained until Clear is called; long-running sessions
// or high event volumes belong on a persistent backend instead.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // RunID -> events in emission order
}

// HistoryFilter selects a subset of a session's captured events. All
// set fields must match (AND logic); zero-valued fields do not filter.
type HistoryFilter struct {
	NodeID  string  // canonical node id, e.g. "Custom:worker"
	Scope   string  // event scope label
	Msg     string  // exact message match
	MinStep *uint64 // inclusive lower bound on Step
	MaxStep *uint64 // inclusive upper bound on Step
}

// NewBufferedEmitter returns an empty in-memory emitter. Safe for
// concurrent use.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit appends the event to its session's history.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// EmitBatch appends all events under one lock acquisition, preserving
// their order.
func (b *BufferedEmitter) EmitBatch(_ context.Context, events []Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, event := range events {
		b.events[event.RunID] = append(b.events[event.RunID], event)
	}
	return nil
}

// Flush is a no-op; captured events live in memory already.
func (b *BufferedEmitter) Flush(_ context.Context) error { return nil }

// GetHistory returns all captured events for a session, in emission
// order. The returned slice is a copy; never nil.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// GetHistoryWithFilter returns the session's events matching filter, in
// emission order. Never nil.
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[runID] {
		if matchesFilter(event, filter) {
			result = append(result, event)
		}
	}
	return result
}

func matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.NodeID != "" && event.NodeID != filter.NodeID {
		return false
	}
	if filter.Scope != "" && event.Scope != filter.Scope {
		return false
	}
	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}
	if filter.MinStep != nil && event.Step < *filter.MinStep {
		return false
	}
	if filter.MaxStep != nil && event.Step > *filter.MaxStep {
		return false
	}
	return true
}

// Clear drops captured events for runID, or for every session when
// runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = make(map[string][]Event)
	} else {
		delete(b.events, runID)
	}
}
