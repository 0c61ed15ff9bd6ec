package store

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/dshills/weavegraph-go/graph"
)

// testCheckpoint builds a representative checkpoint: messages, extra,
// one error event, a mixed frontier, and versions_seen for two nodes.
func testCheckpoint(sessionID string, step uint64) graph.Checkpoint {
	state := graph.NewStateBuilder().
		WithUserMessage("seed").
		WithAssistantMessage("reply").
		WithExtra("route", json.RawMessage(`"fast"`)).
		Build()
	snap := state.Snapshot()
	snap.Errors = []graph.ErrorEvent{{
		When:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Scope: graph.NodeScope(graph.Custom("worker"), step),
		Error: graph.NodeFailure{Message: "transient provider failure"},
		Tags:  []string{"provider"},
	}}
	snap.ErrorsVersion = 1

	return graph.Checkpoint{
		SessionID: sessionID,
		Step:      step,
		State:     snap,
		Frontier:  []graph.NodeKind{graph.Custom("worker"), graph.End},
		VersionsSeen: map[string]graph.ChannelVersions{
			"Custom:planner": {Messages: 1, Extra: 1},
			"Custom:worker":  {Messages: 1},
		},
		ConcurrencyLimit: 4,
		RanNodes:         []graph.NodeKind{graph.Custom("planner")},
		SkippedNodes:     []graph.NodeKind{graph.End},
		UpdatedChannels:  []string{"messages", "extra"},
		Timestamp:        time.Date(2025, 6, 1, 12, 0, 1, 0, time.UTC),
	}
}

func assertCheckpointEqual(t *testing.T, got, want graph.Checkpoint) {
	t.Helper()
	if got.SessionID != want.SessionID || got.Step != want.Step {
		t.Errorf("identity mismatch: got (%s,%d) want (%s,%d)", got.SessionID, got.Step, want.SessionID, want.Step)
	}
	if got.ConcurrencyLimit != want.ConcurrencyLimit {
		t.Errorf("concurrency_limit = %d, want %d", got.ConcurrencyLimit, want.ConcurrencyLimit)
	}
	if !reflect.DeepEqual(got.State.Messages, want.State.Messages) {
		t.Errorf("messages mismatch:\ngot  %+v\nwant %+v", got.State.Messages, want.State.Messages)
	}
	if got.State.MessagesVersion != want.State.MessagesVersion ||
		got.State.ExtraVersion != want.State.ExtraVersion ||
		got.State.ErrorsVersion != want.State.ErrorsVersion {
		t.Errorf("channel versions mismatch: got (%d,%d,%d) want (%d,%d,%d)",
			got.State.MessagesVersion, got.State.ExtraVersion, got.State.ErrorsVersion,
			want.State.MessagesVersion, want.State.ExtraVersion, want.State.ErrorsVersion)
	}
	for k, v := range want.State.Extra {
		if string(got.State.Extra[k]) != string(v) {
			t.Errorf("extra[%s] = %s, want %s", k, got.State.Extra[k], v)
		}
	}
	if len(got.State.Errors) != len(want.State.Errors) {
		t.Fatalf("errors length %d, want %d", len(got.State.Errors), len(want.State.Errors))
	}
	for i := range want.State.Errors {
		ge, we := got.State.Errors[i], want.State.Errors[i]
		if !ge.When.Equal(we.When) || ge.Scope != we.Scope || ge.Error.Message != we.Error.Message {
			t.Errorf("error %d mismatch:\ngot  %+v\nwant %+v", i, ge, we)
		}
	}
	if !reflect.DeepEqual(got.Frontier, want.Frontier) {
		t.Errorf("frontier = %v, want %v", got.Frontier, want.Frontier)
	}
	if !reflect.DeepEqual(got.VersionsSeen, want.VersionsSeen) {
		t.Errorf("versions_seen = %v, want %v", got.VersionsSeen, want.VersionsSeen)
	}
}

// runCheckpointerContract exercises the behavior every backend must
// share: round-trip fidelity, idempotent replay, monotonic latest
// pointer, concurrency conflicts, listing, and step queries.
func runCheckpointerContract(t *testing.T, open func(t *testing.T) graph.ConcurrencyCheckedCheckpointer) {
	ctx := context.Background()

	t.Run("load latest of unknown session", func(t *testing.T) {
		cp := open(t)
		_, err := cp.LoadLatest(ctx, "nope")
		if !errors.Is(err, graph.ErrCheckpointNotFound) {
			t.Errorf("expected ErrCheckpointNotFound, got %v", err)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		cp := open(t)
		want := testCheckpoint("sess-rt", 3)
		if err := cp.Save(ctx, want); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, err := cp.LoadLatest(ctx, "sess-rt")
		if err != nil {
			t.Fatalf("LoadLatest: %v", err)
		}
		assertCheckpointEqual(t, *got, want)
	})

	t.Run("idempotent replay does not regress", func(t *testing.T) {
		cp := open(t)
		step1 := testCheckpoint("sess-replay", 1)
		step2 := testCheckpoint("sess-replay", 2)
		for _, c := range []graph.Checkpoint{step1, step2, step1} { // re-save step 1 after step 2
			if err := cp.Save(ctx, c); err != nil {
				t.Fatalf("Save step %d: %v", c.Step, err)
			}
		}
		got, err := cp.LoadLatest(ctx, "sess-replay")
		if err != nil {
			t.Fatalf("LoadLatest: %v", err)
		}
		if got.Step != 2 {
			t.Errorf("latest pointer regressed to %d, want 2", got.Step)
		}

		result, err := cp.QuerySteps(ctx, "sess-replay", graph.StepQuery{})
		if err != nil {
			t.Fatalf("QuerySteps: %v", err)
		}
		if result.TotalCount != 2 {
			t.Errorf("replay duplicated rows: total %d, want 2", result.TotalCount)
		}
	})

	t.Run("concurrency check", func(t *testing.T) {
		cp := open(t)
		base := testCheckpoint("sess-cc", 1)
		if err := cp.Save(ctx, base); err != nil {
			t.Fatalf("Save: %v", err)
		}

		expected := uint64(1)
		next := testCheckpoint("sess-cc", 2)
		if err := cp.SaveWithConcurrencyCheck(ctx, next, &expected); err != nil {
			t.Fatalf("first concurrency-checked save: %v", err)
		}

		// A second writer with the same stale expectation must conflict.
		rival := testCheckpoint("sess-cc", 2)
		err := cp.SaveWithConcurrencyCheck(ctx, rival, &expected)
		if !errors.Is(err, graph.ErrConcurrencyConflict) {
			t.Errorf("expected ErrConcurrencyConflict, got %v", err)
		}
	})

	t.Run("concurrency check on fresh session", func(t *testing.T) {
		cp := open(t)
		expected := uint64(0)
		err := cp.SaveWithConcurrencyCheck(ctx, testCheckpoint("sess-fresh", 1), &expected)
		if !errors.Is(err, graph.ErrConcurrencyConflict) {
			t.Errorf("expected conflict for unknown session, got %v", err)
		}
		// nil expectation creates it.
		if err := cp.SaveWithConcurrencyCheck(ctx, testCheckpoint("sess-fresh", 1), nil); err != nil {
			t.Errorf("nil expectation should succeed: %v", err)
		}
	})

	t.Run("list sessions", func(t *testing.T) {
		cp := open(t)
		for _, id := range []string{"sess-b", "sess-a"} {
			if err := cp.Save(ctx, testCheckpoint(id, 1)); err != nil {
				t.Fatalf("Save %s: %v", id, err)
			}
		}
		ids, err := cp.ListSessions(ctx)
		if err != nil {
			t.Fatalf("ListSessions: %v", err)
		}
		if !reflect.DeepEqual(ids, []string{"sess-a", "sess-b"}) {
			t.Errorf("ListSessions = %v, want sorted [sess-a sess-b]", ids)
		}
	})

	t.Run("query steps", func(t *testing.T) {
		cp := open(t)
		for step := uint64(1); step <= 5; step++ {
			c := testCheckpoint("sess-q", step)
			if step%2 == 0 {
				c.RanNodes = []graph.NodeKind{graph.Custom("even")}
				c.SkippedNodes = []graph.NodeKind{graph.Custom("odd")}
			}
			if err := cp.Save(ctx, c); err != nil {
				t.Fatalf("Save step %d: %v", step, err)
			}
		}

		t.Run("descending order", func(t *testing.T) {
			result, err := cp.QuerySteps(ctx, "sess-q", graph.StepQuery{})
			if err != nil {
				t.Fatalf("QuerySteps: %v", err)
			}
			if result.TotalCount != 5 || len(result.Steps) != 5 {
				t.Fatalf("got %d/%d steps, want 5/5", len(result.Steps), result.TotalCount)
			}
			for i, s := range result.Steps {
				if s.Step != uint64(5-i) {
					t.Errorf("step[%d] = %d, want %d", i, s.Step, 5-i)
				}
			}
		})

		t.Run("step range", func(t *testing.T) {
			min, max := uint64(2), uint64(4)
			result, err := cp.QuerySteps(ctx, "sess-q", graph.StepQuery{MinStep: &min, MaxStep: &max})
			if err != nil {
				t.Fatalf("QuerySteps: %v", err)
			}
			if result.TotalCount != 3 {
				t.Errorf("range total = %d, want 3", result.TotalCount)
			}
		})

		t.Run("ran node filter", func(t *testing.T) {
			ran := graph.Custom("even")
			result, err := cp.QuerySteps(ctx, "sess-q", graph.StepQuery{RanNode: &ran})
			if err != nil {
				t.Fatalf("QuerySteps: %v", err)
			}
			if result.TotalCount != 2 {
				t.Errorf("ran filter total = %d, want 2 (steps 2 and 4)", result.TotalCount)
			}
		})

		t.Run("skipped node filter", func(t *testing.T) {
			skipped := graph.Custom("odd")
			result, err := cp.QuerySteps(ctx, "sess-q", graph.StepQuery{SkippedNode: &skipped})
			if err != nil {
				t.Fatalf("QuerySteps: %v", err)
			}
			if result.TotalCount != 2 {
				t.Errorf("skipped filter total = %d, want 2", result.TotalCount)
			}
		})

		t.Run("pagination", func(t *testing.T) {
			result, err := cp.QuerySteps(ctx, "sess-q", graph.StepQuery{Limit: 2, Offset: 1})
			if err != nil {
				t.Fatalf("QuerySteps: %v", err)
			}
			if result.TotalCount != 5 {
				t.Errorf("paginated total = %d, want 5", result.TotalCount)
			}
			if len(result.Steps) != 2 || result.Steps[0].Step != 4 || result.Steps[1].Step != 3 {
				t.Errorf("page = %+v, want steps [4 3]", result.Steps)
			}
		})

		t.Run("unknown session is empty", func(t *testing.T) {
			result, err := cp.QuerySteps(ctx, "sess-missing", graph.StepQuery{})
			if err != nil {
				t.Fatalf("QuerySteps: %v", err)
			}
			if result.TotalCount != 0 || len(result.Steps) != 0 {
				t.Errorf("expected empty result, got %+v", result)
			}
		})
	})
}
