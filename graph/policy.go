// Package graph provides the core graph execution engine for WeaveGraph-Go.
package graph

import "time"

// NodePolicy configures the execution behavior for a specific node.
// Node errors are fatal to the current superstep rather than retried by
// the engine, so there is no retry policy here; a retrying or
// idempotency-aware node expresses that itself inside Node.Run.
type NodePolicy struct {
	// Timeout is the maximum execution time allowed for this node. If
	// zero, the RuntimeConfig's DefaultNodeTimeout is used; see
	// getNodeTimeout in timeout.go for the precedence rule.
	Timeout time.Duration
}
