package graph

import (
	"context"
	"fmt"
	"time"
)

// getNodeTimeout determines the timeout duration for a node based on
// precedence: NodePolicy.Timeout (per-node override), then defaultTimeout
// (runtime-wide default), then 0 (no timeout, unlimited execution).
func getNodeTimeout(policy *NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// executeNodeWithTimeout wraps a node's Run call with timeout enforcement.
// The scheduler calls this in place of a bare node.Run so that every node
// invocation respects the same precedence rule regardless of call site.
func executeNodeWithTimeout(
	ctx context.Context,
	node Node,
	nodeID string,
	snapshot StateSnapshot,
	nctx NodeContext,
	policy *NodePolicy,
	defaultTimeout time.Duration,
) (NodePartial, error) {
	timeout := getNodeTimeout(policy, defaultTimeout)

	if timeout == 0 {
		return node.Run(ctx, snapshot, nctx)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	partial, err := node.Run(timeoutCtx, snapshot, nctx)
	if err == nil && timeoutCtx.Err() == context.DeadlineExceeded {
		return partial, &NodeError{
			Message: fmt.Sprintf("node %s exceeded timeout of %v", nodeID, timeout),
			Code:    "NODE_TIMEOUT",
			NodeID:  nodeID,
		}
	}
	return partial, err
}
