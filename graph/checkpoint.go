// Package graph provides the core graph execution engine for WeaveGraph-Go.
package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Checkpoint is a durable snapshot of a session's execution state,
// sufficient to resume RunStep from exactly where it left off. The
// persisted payload is self-describing JSON: VersionedState's own
// channels, not an opaque user state type.
type Checkpoint struct {
	SessionID string `json:"session_id"`
	Step      uint64 `json:"step"`

	State StateSnapshot `json:"state"`

	Frontier []NodeKind `json:"frontier"`

	// VersionsSeen records, per node kind, the channel versions that node
	// had last observed — restored verbatim on resume so skip-eligibility
	// is unaffected by the save/load round trip.
	VersionsSeen map[string]ChannelVersions `json:"versions_seen"`

	ConcurrencyLimit int `json:"concurrency_limit"`

	// RanNodes and SkippedNodes record the superstep that produced this
	// checkpoint, for audit and QuerySteps filtering. Both are empty on
	// the initial step-0 checkpoint.
	RanNodes     []NodeKind `json:"ran_nodes"`
	SkippedNodes []NodeKind `json:"skipped_nodes"`

	// UpdatedChannels is the BarrierOutcome.UpdatedChannels of the
	// superstep that produced this checkpoint.
	UpdatedChannels []string `json:"updated_channels"`

	// IdempotencyKey lets SaveWithConcurrencyCheck implementations upsert
	// the same (session_id, step) row safely on replayed writes.
	IdempotencyKey string `json:"idempotency_key"`

	Timestamp time.Time `json:"timestamp"`

	// Label optionally names a user-initiated checkpoint (e.g.
	// "before_summary"); empty for autosave checkpoints.
	Label string `json:"label,omitempty"`
}

// computeIdempotencyKey hashes the fields that identify a checkpoint
// write uniquely, so replayed saves of the same (session, step, state)
// can be recognized by the backend.
func computeIdempotencyKey(sessionID string, step uint64, snapshot StateSnapshot) (string, error) {
	h := sha256.New()
	h.Write([]byte(sessionID))

	stepBytes := make([]byte, 8)
	for i := 0; i < 8; i++ {
		stepBytes[7-i] = byte(step >> (8 * i))
	}
	h.Write(stepBytes)

	stateJSON, err := json.Marshal(snapshot)
	if err != nil {
		return "", err
	}
	h.Write(stateJSON)

	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// StepQuery filters a QuerySteps call.
type StepQuery struct {
	MinStep   *uint64
	MaxStep   *uint64
	RanNode   *NodeKind
	SkippedNode *NodeKind
	Limit     int
	Offset    int
}

// StoredStep is one row returned by QuerySteps: the durable record of a
// single superstep's execution.
type StoredStep struct {
	SessionID    string     `json:"session_id"`
	Step         uint64     `json:"step"`
	RanNodes     []NodeKind `json:"ran_nodes"`
	SkippedNodes []NodeKind `json:"skipped_nodes"`
	Timestamp    time.Time  `json:"timestamp"`
}

// StepQueryResult is the paginated result of QuerySteps.
type StepQueryResult struct {
	Steps      []StoredStep
	TotalCount int
}

// Checkpointer is the pluggable persistence contract for session state.
// The core Runner depends only on Save/LoadLatest/ListSessions;
// SaveWithConcurrencyCheck and QuerySteps are optional SQL-backend
// extensions detected via interface assertion (see store package).
type Checkpointer interface {
	Save(ctx context.Context, cp Checkpoint) error
	LoadLatest(ctx context.Context, sessionID string) (*Checkpoint, error)
	ListSessions(ctx context.Context) ([]string, error)
}

// ConcurrencyCheckedCheckpointer is an optional extension a SQL-backed
// Checkpointer may implement for optimistic-concurrency-safe writes and
// historical step queries (see store/sqlite.go, store/mysql.go).
type ConcurrencyCheckedCheckpointer interface {
	Checkpointer
	SaveWithConcurrencyCheck(ctx context.Context, cp Checkpoint, expectedLastStep *uint64) error
	QuerySteps(ctx context.Context, sessionID string, q StepQuery) (StepQueryResult, error)
}

// CheckpointerFactory builds a Checkpointer from a backend DSN. Backends
// register themselves at init time, the same way database/sql drivers
// do, so that this package never imports its own store implementations.
type CheckpointerFactory func(dsn string) (Checkpointer, error)

var checkpointerFactories = map[CheckpointerType]CheckpointerFactory{}

// RegisterCheckpointer installs the factory for a backend kind. Called
// from the store package's init; last registration wins.
func RegisterCheckpointer(kind CheckpointerType, factory CheckpointerFactory) {
	checkpointerFactories[kind] = factory
}

// OpenCheckpointer resolves a RuntimeConfig's checkpointer selection to a
// live backend. Returns an EngineError with code CHECKPOINTER_UNAVAILABLE
// when no factory is registered for the kind — typically a missing
//
//	import _ "github.com/dshills/weavegraph-go/graph/store"
func OpenCheckpointer(kind CheckpointerType, dsn string) (Checkpointer, error) {
	factory, ok := checkpointerFactories[kind]
	if !ok {
		return nil, &EngineError{
			Code:    "CHECKPOINTER_UNAVAILABLE",
			Message: "no checkpointer registered for the requested backend; import the graph/store package",
		}
	}
	return factory(dsn)
}
