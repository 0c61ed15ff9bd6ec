// Package graph provides the core graph execution engine for WeaveGraph-Go.
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// NodeKind is the tagged identifier of a graph node: Start, End, or a
// named Custom node. Start and End are virtual — never registered in the
// node registry, never executed by the Scheduler.
type NodeKind struct {
	kind nodeKindTag
	name string
}

type nodeKindTag uint8

const (
	nodeKindStart nodeKindTag = iota
	nodeKindEnd
	nodeKindCustom
)

// Start is the virtual entry node. Every graph's initial frontier is the
// static successors of Start.
var Start = NodeKind{kind: nodeKindStart}

// End is the virtual exit node. A session completes when its frontier is
// empty or contains only End.
var End = NodeKind{kind: nodeKindEnd}

// Custom returns the NodeKind for a user-defined node named name.
func Custom(name string) NodeKind { return NodeKind{kind: nodeKindCustom, name: name} }

// IsStart reports whether k is the virtual Start node.
func (k NodeKind) IsStart() bool { return k.kind == nodeKindStart }

// IsEnd reports whether k is the virtual End node.
func (k NodeKind) IsEnd() bool { return k.kind == nodeKindEnd }

// IsVirtual reports whether k is Start or End.
func (k NodeKind) IsVirtual() bool { return k.kind == nodeKindStart || k.kind == nodeKindEnd }

// Name returns the custom node's name, or "" for Start/End.
func (k NodeKind) Name() string { return k.name }

// String encodes k for persistence and logging: "Start", "End", or
// "Custom:<name>", per the fixed encoding in the data model.
func (k NodeKind) String() string {
	switch k.kind {
	case nodeKindStart:
		return "Start"
	case nodeKindEnd:
		return "End"
	default:
		return "Custom:" + k.name
	}
}

// ParseNodeKind decodes the canonical string encoding produced by String.
// Unrecognized strings are treated as Custom node names, matching how
// conditional-edge predicate targets are resolved (any string other than
// the literal "Start"/"End" names a Custom node).
func ParseNodeKind(s string) NodeKind {
	switch s {
	case "Start":
		return Start
	case "End":
		return End
	default:
		if len(s) > len("Custom:") && s[:len("Custom:")] == "Custom:" {
			return Custom(s[len("Custom:"):])
		}
		return Custom(s)
	}
}

// MarshalJSON implements json.Marshaler using the canonical string form.
func (k NodeKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON implements json.Unmarshaler using the canonical string form.
func (k *NodeKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*k = ParseNodeKind(s)
	return nil
}

// NodeFailure is the recursive error payload carried by an ErrorEvent.
type NodeFailure struct {
	Message string          `json:"message"`
	Cause   *NodeFailure    `json:"cause,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (f *NodeFailure) Error() string { return f.Message }

// ErrorScope is the tagged union identifying where an ErrorEvent
// originated: Node, Scheduler, Runner, or App (process-wide).
type ErrorScope struct {
	kind    errorScopeTag
	ident   string
	step    uint64
	session string
}

type errorScopeTag uint8

const (
	errorScopeNode errorScopeTag = iota
	errorScopeScheduler
	errorScopeRunner
	errorScopeApp
)

// NodeScope builds an ErrorScope attributing an error to a specific node
// kind at a given step.
func NodeScope(kind NodeKind, step uint64) ErrorScope {
	return ErrorScope{kind: errorScopeNode, ident: kind.String(), step: step}
}

// SchedulerScope builds an ErrorScope attributing an error to the
// Scheduler itself at a given step.
func SchedulerScope(step uint64) ErrorScope {
	return ErrorScope{kind: errorScopeScheduler, step: step}
}

// RunnerScope builds an ErrorScope attributing an error to the Runner for
// a given session at a given step.
func RunnerScope(session string, step uint64) ErrorScope {
	return ErrorScope{kind: errorScopeRunner, session: session, step: step}
}

// AppScope is the process-wide ErrorScope.
var AppScope = ErrorScope{kind: errorScopeApp}

// rank returns the scope-kind ordering used by the Barrier's total error
// order: Node < Scheduler < Runner < App.
func (s ErrorScope) rank() int { return int(s.kind) }

// identifier returns the scope-identifier string used as the second key
// in the Barrier's total error order: the node kind for Node scope, the
// session id for Runner scope, empty otherwise.
func (s ErrorScope) identifier() string {
	switch s.kind {
	case errorScopeNode:
		return s.ident
	case errorScopeRunner:
		return s.session
	default:
		return ""
	}
}

// Step returns the scope's step number (0 for App scope).
func (s ErrorScope) Step() uint64 { return s.step }

// errorScopeJSON is the persisted wire form of an ErrorScope.
type errorScopeJSON struct {
	Kind    string `json:"kind"`
	Node    string `json:"node,omitempty"`
	Session string `json:"session,omitempty"`
	Step    uint64 `json:"step,omitempty"`
}

// MarshalJSON implements json.Marshaler so ErrorEvents survive checkpoint
// round trips with their scope intact.
func (s ErrorScope) MarshalJSON() ([]byte, error) {
	out := errorScopeJSON{Step: s.step}
	switch s.kind {
	case errorScopeNode:
		out.Kind = "Node"
		out.Node = s.ident
	case errorScopeScheduler:
		out.Kind = "Scheduler"
	case errorScopeRunner:
		out.Kind = "Runner"
		out.Session = s.session
	default:
		out.Kind = "App"
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler for the wire form above.
func (s *ErrorScope) UnmarshalJSON(data []byte) error {
	var in errorScopeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Kind {
	case "Node":
		*s = ErrorScope{kind: errorScopeNode, ident: in.Node, step: in.Step}
	case "Scheduler":
		*s = ErrorScope{kind: errorScopeScheduler, step: in.Step}
	case "Runner":
		*s = ErrorScope{kind: errorScopeRunner, session: in.Session, step: in.Step}
	case "App":
		*s = AppScope
	default:
		return fmt.Errorf("unknown error scope kind %q", in.Kind)
	}
	return nil
}

// ErrorEvent is a single entry in the errors channel.
type ErrorEvent struct {
	When    time.Time       `json:"when"`
	Scope   ErrorScope      `json:"scope"`
	Error   NodeFailure     `json:"error"`
	Tags    []string        `json:"tags,omitempty"`
	Context json.RawMessage `json:"context,omitempty"`
}

// Sentinel errors for the engine's failure taxonomy. Each is wrapped by
// a typed error where additional fields are needed; all support
// errors.Is/errors.As.
var (
	// ErrNoStartNodes is returned by CreateSession when the static edge
	// map has no successors of Start.
	ErrNoStartNodes = errors.New("graph has no successors of Start")

	// ErrUnexpectedPause is returned by RunUntilComplete when a RunStep
	// call pauses under default (no-interrupt) StepOptions.
	ErrUnexpectedPause = errors.New("run_step paused unexpectedly under default options")

	// ErrSessionNotFound is returned when an operation references an
	// unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrEventBusUnavailable is returned by NodeContext.Emit when the
	// event bus is disconnected or saturated.
	ErrEventBusUnavailable = errors.New("event bus unavailable")

	// ErrConcurrencyConflict is returned by SaveWithConcurrencyCheck when
	// the session's last_step no longer matches the caller's expectation.
	ErrConcurrencyConflict = errors.New("concurrency conflict: last_step does not match expected value")

	// ErrCheckpointNotFound is returned by LoadLatest when no checkpoint
	// exists for a session.
	ErrCheckpointNotFound = errors.New("no checkpoint found for session")
)

// EngineError is a structured error with a stable, machine-readable
// Code, used throughout the package for configuration and validation
// failures.
type EngineError struct {
	Message string
	Code    string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

func (e *EngineError) Unwrap() error { return e.Cause }

// NodeError is the error a Node.Run implementation returns to signal a
// fatal failure for the current superstep. It is distinct from errors a
// node reports via NodePartial.Errors, which are recoverable.
type NodeError struct {
	Message string
	Code    string
	NodeID  string
	Cause   error
}

func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

func (e *NodeError) Unwrap() error { return e.Cause }

// toNodeFailure converts a NodeError (or any error) into the recursive
// NodeFailure payload an ErrorEvent carries.
func toNodeFailure(err error) NodeFailure {
	if err == nil {
		return NodeFailure{}
	}
	f := NodeFailure{Message: err.Error()}
	var ne *NodeError
	if errors.As(err, &ne) && ne.Cause != nil {
		cause := toNodeFailure(ne.Cause)
		f.Cause = &cause
	}
	return f
}

// SchedulerError wraps a failure encountered while running a superstep:
// either a node run failure (NodeRun) or an internal scheduling failure
// (Join — goroutine panic recovered, or cancellation).
type SchedulerError struct {
	Kind   SchedulerErrorKind
	NodeID string
	Step   uint64
	Cause  error
}

// SchedulerErrorKind distinguishes the two SchedulerError cases.
type SchedulerErrorKind int

const (
	// SchedulerNodeRun indicates a node's Run method returned a NodeError.
	SchedulerNodeRun SchedulerErrorKind = iota
	// SchedulerJoin indicates an internal goroutine failure (recovered
	// panic) or cancellation while awaiting node tasks.
	SchedulerJoin
)

func (e *SchedulerError) Error() string {
	switch e.Kind {
	case SchedulerNodeRun:
		return fmt.Sprintf("scheduler: node %s failed at step %d: %v", e.NodeID, e.Step, e.Cause)
	default:
		return fmt.Sprintf("scheduler: join failure at step %d: %v", e.Step, e.Cause)
	}
}

func (e *SchedulerError) Unwrap() error { return e.Cause }

// RunnerError wraps a failure surfaced by the Runner, which may itself
// wrap a SchedulerError or a checkpointer error.
type RunnerError struct {
	Message string
	Cause   error
}

func (e *RunnerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("runner: %s: %v", e.Message, e.Cause)
	}
	return "runner: " + e.Message
}

func (e *RunnerError) Unwrap() error { return e.Cause }
