// Package emit provides pluggable observability sinks for graph execution.
package emit

import "context"

// Emitter receives observability events from a running session.
//
// Implementations must be thread-safe (nodes in one superstep emit
// concurrently), must never block the scheduler loop, and must never
// panic — a failing backend is logged or dropped, not propagated into
// workflow execution.
type Emitter interface {
	// Emit delivers a single event to the backend. Emit must not block;
	// a slow or unavailable backend buffers, drops, or defers instead.
	Emit(event Event)

	// EmitBatch delivers multiple events in one operation, preserving
	// their order. Backends use it to amortize syscalls, network
	// round-trips, or span-processor overhead.
	//
	// Returns an error only for catastrophic failures (misconfiguration);
	// individual event failures are handled internally.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until buffered events are delivered or ctx expires.
	// Call before shutdown to avoid losing trailing events. Safe to call
	// repeatedly.
	Flush(ctx context.Context) error
}
