// Package graph_test exercises the WeaveGraph-Go checkpoint contract.
package graph_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dshills/weavegraph-go/graph"
)

// fakeCheckpointer is a minimal in-memory Checkpointer used to exercise
// the contract without depending on the store package.
type fakeCheckpointer struct {
	bySession map[string][]graph.Checkpoint
}

func newFakeCheckpointer() *fakeCheckpointer {
	return &fakeCheckpointer{bySession: make(map[string][]graph.Checkpoint)}
}

func (f *fakeCheckpointer) Save(_ context.Context, cp graph.Checkpoint) error {
	f.bySession[cp.SessionID] = append(f.bySession[cp.SessionID], cp)
	return nil
}

func (f *fakeCheckpointer) LoadLatest(_ context.Context, sessionID string) (*graph.Checkpoint, error) {
	cps := f.bySession[sessionID]
	if len(cps) == 0 {
		return nil, graph.ErrCheckpointNotFound
	}
	latest := cps[len(cps)-1]
	return &latest, nil
}

func (f *fakeCheckpointer) ListSessions(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(f.bySession))
	for id := range f.bySession {
		ids = append(ids, id)
	}
	return ids, nil
}

func TestCheckpointRoundTripsThroughJSON(t *testing.T) {
	state := graph.NewStateWithUserMessage("hello")
	cp := graph.Checkpoint{
		SessionID:        "sess-1",
		Step:             3,
		State:            state.Snapshot(),
		Frontier:         []graph.NodeKind{graph.Custom("worker"), graph.End},
		VersionsSeen:     map[string]graph.ChannelVersions{"Custom:worker": {Messages: 1, Extra: 0}},
		ConcurrencyLimit: 4,
		Timestamp:        time.Unix(0, 0).UTC(),
	}

	data, err := json.Marshal(cp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded graph.Checkpoint
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.SessionID != cp.SessionID || decoded.Step != cp.Step {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, cp)
	}
	if len(decoded.Frontier) != 2 || !decoded.Frontier[1].IsEnd() {
		t.Fatalf("frontier round trip mismatch: %+v", decoded.Frontier)
	}
	if decoded.VersionsSeen["Custom:worker"].Messages != 1 {
		t.Fatalf("versions_seen round trip mismatch: %+v", decoded.VersionsSeen)
	}
}

func TestFakeCheckpointerSaveAndLoadLatest(t *testing.T) {
	ctx := context.Background()
	cpr := newFakeCheckpointer()

	if _, err := cpr.LoadLatest(ctx, "missing"); err != graph.ErrCheckpointNotFound {
		t.Fatalf("expected ErrCheckpointNotFound, got %v", err)
	}

	state := graph.NewVersionedState()
	if err := cpr.Save(ctx, graph.Checkpoint{SessionID: "s1", Step: 1, State: state.Snapshot()}); err != nil {
		t.Fatalf("save step 1: %v", err)
	}
	if err := cpr.Save(ctx, graph.Checkpoint{SessionID: "s1", Step: 2, State: state.Snapshot()}); err != nil {
		t.Fatalf("save step 2: %v", err)
	}

	latest, err := cpr.LoadLatest(ctx, "s1")
	if err != nil {
		t.Fatalf("load latest: %v", err)
	}
	if latest.Step != 2 {
		t.Fatalf("expected latest step 2, got %d", latest.Step)
	}
}

func TestListSessions(t *testing.T) {
	ctx := context.Background()
	cpr := newFakeCheckpointer()
	_ = cpr.Save(ctx, graph.Checkpoint{SessionID: "a", Step: 1})
	_ = cpr.Save(ctx, graph.Checkpoint{SessionID: "b", Step: 1})

	ids, err := cpr.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 sessions, got %v", ids)
	}
}
