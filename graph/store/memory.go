package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/weavegraph-go/graph"
)

// MemoryCheckpointer keeps checkpoints in process memory. Nothing
// survives a restart; it exists for tests and ephemeral runs.
//
// It deliberately stores rows in their serialized form — the same
// stepColumns the SQL backends persist — so the save/load round trip
// exercises exactly the encoding a durable backend would, and a test
// passing against memory is a test of the wire format too.
type MemoryCheckpointer struct {
	mu       sync.Mutex
	sessions map[string]*memSession
}

type memSession struct {
	// latestDoc is the denormalized "latest" pointer, a JSON document
	// mirroring the SQL sessions row (last_step, concurrency_limit,
	// updated_at), maintained with sjson field patches.
	latestDoc string
	steps     map[uint64]stepColumns
}

// NewMemoryCheckpointer returns an empty in-memory checkpointer. Safe
// for concurrent Save calls from different sessions.
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{sessions: make(map[string]*memSession)}
}

var _ graph.ConcurrencyCheckedCheckpointer = (*MemoryCheckpointer)(nil)

// Save upserts the (session_id, step) row and advances the session's
// latest pointer when step is not behind it.
func (m *MemoryCheckpointer) Save(_ context.Context, cp graph.Checkpoint) error {
	return m.save(cp, nil)
}

// SaveWithConcurrencyCheck is Save guarded by an optimistic check on the
// session's last_step, mirroring the SQL backends' transactional form so
// runner tests can exercise conflict handling without a database.
func (m *MemoryCheckpointer) SaveWithConcurrencyCheck(_ context.Context, cp graph.Checkpoint, expectedLastStep *uint64) error {
	return m.save(cp, expectedLastStep)
}

func (m *MemoryCheckpointer) save(cp graph.Checkpoint, expectedLastStep *uint64) error {
	row, err := encodeCheckpoint(cp)
	if err != nil {
		return fmt.Errorf("memory checkpointer: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[cp.SessionID]
	if expectedLastStep != nil {
		if !ok {
			return fmt.Errorf("%w (session %s has no steps, expected last_step %d)",
				graph.ErrConcurrencyConflict, cp.SessionID, *expectedLastStep)
		}
		if last := gjson.Get(sess.latestDoc, "last_step").Uint(); last != *expectedLastStep {
			return fmt.Errorf("%w (session %s last_step %d, expected %d)",
				graph.ErrConcurrencyConflict, cp.SessionID, last, *expectedLastStep)
		}
	}
	if !ok {
		sess = &memSession{steps: make(map[uint64]stepColumns)}
		sess.latestDoc, _ = sjson.Set("{}", "created_at", row.CreatedAt)
		sess.latestDoc, _ = sjson.Set(sess.latestDoc, "last_step", cp.Step)
		m.sessions[cp.SessionID] = sess
	}

	sess.steps[cp.Step] = row

	// Monotonic advance: out-of-order re-saves land in the steps map but
	// never rewind the latest pointer.
	if cp.Step >= gjson.Get(sess.latestDoc, "last_step").Uint() {
		sess.latestDoc, _ = sjson.Set(sess.latestDoc, "last_step", cp.Step)
		sess.latestDoc, _ = sjson.Set(sess.latestDoc, "concurrency_limit", cp.ConcurrencyLimit)
		sess.latestDoc, _ = sjson.Set(sess.latestDoc, "updated_at", row.CreatedAt)
	}
	return nil
}

// LoadLatest returns the checkpoint the session's latest pointer names,
// or graph.ErrCheckpointNotFound.
func (m *MemoryCheckpointer) LoadLatest(_ context.Context, sessionID string) (*graph.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, graph.ErrCheckpointNotFound)
	}
	lastStep := gjson.Get(sess.latestDoc, "last_step").Uint()
	row, ok := sess.steps[lastStep]
	if !ok {
		return nil, fmt.Errorf("session %s step %d: %w", sessionID, lastStep, graph.ErrCheckpointNotFound)
	}
	limit := int(gjson.Get(sess.latestDoc, "concurrency_limit").Int())
	cp, err := decodeCheckpoint(row, limit)
	if err != nil {
		return nil, fmt.Errorf("memory checkpointer: %w", err)
	}
	return &cp, nil
}

// ListSessions returns every known session id, sorted.
func (m *MemoryCheckpointer) ListSessions(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// QuerySteps returns the session's step history matching q, ordered by
// step descending.
func (m *MemoryCheckpointer) QuerySteps(_ context.Context, sessionID string, q graph.StepQuery) (graph.StepQueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return graph.StepQueryResult{}, nil
	}

	var rows []stepColumns
	for step, row := range sess.steps {
		if q.MinStep != nil && step < *q.MinStep {
			continue
		}
		if q.MaxStep != nil && step > *q.MaxStep {
			continue
		}
		if !matchesNodeFilters(q, row) {
			continue
		}
		rows = append(rows, row)
	}
	sortStepsDesc(rows)

	page, total := paginate(rows, q)
	steps, err := storedStepsFromRows(page)
	if err != nil {
		return graph.StepQueryResult{}, fmt.Errorf("memory checkpointer: %w", err)
	}
	return graph.StepQueryResult{Steps: steps, TotalCount: total}, nil
}

// StepCount reports how many steps are stored for a session, for tests
// and retention tooling.
func (m *MemoryCheckpointer) StepCount(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return 0
	}
	return len(sess.steps)
}
