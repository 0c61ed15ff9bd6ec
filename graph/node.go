package graph

import "context"

// Node is the implementer-facing interface for a unit of work in the
// graph. Implementations receive an immutable StateSnapshot and a
// NodeContext, and return the partial state updates they want merged at
// the next barrier.
//
// Nodes are expected to be cancel-safe at their own await points: the
// Scheduler cancels in-flight Run calls by cancelling ctx when a
// superstep is abandoned.
type Node interface {
	// Run executes the node's logic. A returned *NodeError is fatal to
	// the current superstep; all other state changes, including
	// recoverable errors, MUST flow through the returned NodePartial.
	Run(ctx context.Context, snapshot StateSnapshot, nctx NodeContext) (NodePartial, error)
}

// NodeFunc is a function adapter that implements Node, for nodes that
// don't need their own named type.
type NodeFunc func(ctx context.Context, snapshot StateSnapshot, nctx NodeContext) (NodePartial, error)

// Run implements Node for NodeFunc.
func (f NodeFunc) Run(ctx context.Context, snapshot StateSnapshot, nctx NodeContext) (NodePartial, error) {
	return f(ctx, snapshot, nctx)
}

// NodeContext is the execution context the Scheduler passes to each node
// it runs, giving it access to its own identity, the current step, and
// the sole supported side channel (event emission).
type NodeContext struct {
	NodeID      string
	Step        uint64
	EventSender EventSender
}

// Emit sends a node-scoped event enriched with this context's node id and
// step, returning ErrEventBusUnavailable if the bus is disconnected or
// saturated. Emit MUST NOT block the caller.
func (c NodeContext) Emit(scope, message string) error {
	if c.EventSender == nil {
		return nil
	}
	return c.EventSender.Send(NodeEvent{
		NodeID:  c.NodeID,
		Step:    c.Step,
		Scope:   scope,
		Message: message,
	})
}

// NodePartial is the output shape a Node returns: optional delta
// contributions to each channel, plus an optional frontier command. All
// fields nil is a legal no-op node.
type NodePartial struct {
	Messages []Message
	Extra    ExtraMap
	Errors   []ErrorEvent
	Frontier *FrontierCommand
}

// WithMessage returns a NodePartial containing a single message.
func WithMessage(m Message) NodePartial {
	return NodePartial{Messages: []Message{m}}
}

// WithError returns a NodePartial containing a single recoverable error
// event.
func WithError(e ErrorEvent) NodePartial {
	return NodePartial{Errors: []ErrorEvent{e}}
}

// FrontierCommandKind distinguishes Append from Replace.
type FrontierCommandKind int

const (
	// FrontierAppend adds targets after the emitting node's static
	// successors.
	FrontierAppend FrontierCommandKind = iota
	// FrontierReplace discards the emitting node's static successors and
	// uses only the given targets.
	FrontierReplace
)

// FrontierCommand is a routing instruction a node attaches to its
// NodePartial. A NodeRoute resolves to a NodeKind the same way a
// conditional-edge predicate's string target does (see ResolveRoute).
type FrontierCommand struct {
	Kind    FrontierCommandKind
	Targets []NodeRoute
}

// AppendFrontier returns a FrontierCommand that adds targets after the
// emitting node's static successors.
func AppendFrontier(targets ...NodeRoute) *FrontierCommand {
	return &FrontierCommand{Kind: FrontierAppend, Targets: targets}
}

// ReplaceFrontier returns a FrontierCommand that discards the emitting
// node's static successors and uses only targets.
func ReplaceFrontier(targets ...NodeRoute) *FrontierCommand {
	return &FrontierCommand{Kind: FrontierReplace, Targets: targets}
}

// NodeRoute names a frontier target. It is a thin string wrapper so call
// sites read naturally (graph.AppendFrontier(graph.Route("worker"))) while
// still going through the same resolution as conditional-edge predicate
// targets.
type NodeRoute string

// Route is shorthand for NodeRoute(name).
func Route(name string) NodeRoute { return NodeRoute(name) }

// ResolveRoute resolves a route string to a NodeKind: the literal strings
// "Start" and "End" map to their virtual kinds, everything else names a
// Custom node.
func ResolveRoute(r NodeRoute) NodeKind {
	switch string(r) {
	case "Start":
		return Start
	case "End":
		return End
	default:
		return Custom(string(r))
	}
}
