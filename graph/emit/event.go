package emit

// Event is a single observability record produced while a session
// executes: node start/end, superstep boundaries, barrier results,
// checkpoint saves, errors, and warnings all flow through this shape.
//
// Events are handed to an Emitter, which decides what to do with them:
// write a log line, open a tracing span, buffer them for a test to
// inspect, or drop them entirely.
type Event struct {
	// RunID identifies the session that emitted this event.
	RunID string

	// Step is the superstep the event belongs to. Zero for
	// session-level events (session start, complete, failure).
	Step uint64

	// NodeID names the node that emitted this event, in its canonical
	// string form ("Custom:summarize"). Empty for scheduler-, runner-,
	// and checkpoint-level events.
	NodeID string

	// Scope classifies the event source: "node", "scheduler", "runner",
	// "barrier", "checkpoint", or a caller-defined label. The
	// distinguished label "stream_end" marks the final event of a
	// streaming invocation.
	Scope string

	// Msg is a human-readable description of the event.
	Msg string

	// Meta carries additional structured data. Common keys:
	//   - "duration_ms": superstep or node wall-clock duration
	//   - "error": error details
	//   - "updated_channels": channels bumped by a barrier
	//   - "frontier": the next frontier after a superstep
	Meta map[string]interface{}
}
