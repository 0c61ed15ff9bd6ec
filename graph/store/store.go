// Package store provides Checkpointer implementations: in-memory for
// tests and ephemeral runs, SQLite for single-process persistence, and
// MySQL for shared deployments.
//
// Importing this package registers all three backends with the graph
// package's checkpointer registry, the way database/sql drivers register
// themselves:
//
//	import _ "github.com/dshills/weavegraph-go/graph/store"
package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dshills/weavegraph-go/graph"
)

func init() {
	graph.RegisterCheckpointer(graph.InMemory, func(string) (graph.Checkpointer, error) {
		return NewMemoryCheckpointer(), nil
	})
	graph.RegisterCheckpointer(graph.SQLite, func(dsn string) (graph.Checkpointer, error) {
		return NewSQLiteCheckpointer(dsn)
	})
	graph.RegisterCheckpointer(graph.MySQL, func(dsn string) (graph.Checkpointer, error) {
		return NewMySQLCheckpointer(dsn)
	})
}

// sqlTimeLayout is RFC 3339 with fixed-width nanoseconds. Fixed width
// keeps lexicographic comparison of stored timestamps chronological,
// which the retention DELETEs rely on.
const sqlTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// maxQueryLimit caps QuerySteps pagination.
const maxQueryLimit = 1000

// defaultQueryLimit applies when StepQuery.Limit is zero.
const defaultQueryLimit = 100

// stepColumns is the serialized form of one checkpoint, shared by every
// backend: the SQL stores persist these as their *_json columns, the
// memory store keeps them as an in-process row.
type stepColumns struct {
	SessionID           string
	Step                uint64
	StateJSON           string
	FrontierJSON        string
	VersionsSeenJSON    string
	RanNodesJSON        string
	SkippedNodesJSON    string
	UpdatedChannelsJSON string
	IdempotencyKey      string
	CreatedAt           string // RFC3339Nano
}

func encodeCheckpoint(cp graph.Checkpoint) (stepColumns, error) {
	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return stepColumns{}, fmt.Errorf("encode state: %w", err)
	}
	frontierJSON, err := json.Marshal(emptySliceIfNil(cp.Frontier))
	if err != nil {
		return stepColumns{}, fmt.Errorf("encode frontier: %w", err)
	}
	seen := cp.VersionsSeen
	if seen == nil {
		seen = map[string]graph.ChannelVersions{}
	}
	versionsJSON, err := json.Marshal(seen)
	if err != nil {
		return stepColumns{}, fmt.Errorf("encode versions_seen: %w", err)
	}
	ranJSON, err := json.Marshal(emptySliceIfNil(cp.RanNodes))
	if err != nil {
		return stepColumns{}, fmt.Errorf("encode ran_nodes: %w", err)
	}
	skippedJSON, err := json.Marshal(emptySliceIfNil(cp.SkippedNodes))
	if err != nil {
		return stepColumns{}, fmt.Errorf("encode skipped_nodes: %w", err)
	}
	channels := cp.UpdatedChannels
	if channels == nil {
		channels = []string{}
	}
	channelsJSON, err := json.Marshal(channels)
	if err != nil {
		return stepColumns{}, fmt.Errorf("encode updated_channels: %w", err)
	}

	createdAt := cp.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return stepColumns{
		SessionID:           cp.SessionID,
		Step:                cp.Step,
		StateJSON:           string(stateJSON),
		FrontierJSON:        string(frontierJSON),
		VersionsSeenJSON:    string(versionsJSON),
		RanNodesJSON:        string(ranJSON),
		SkippedNodesJSON:    string(skippedJSON),
		UpdatedChannelsJSON: string(channelsJSON),
		IdempotencyKey:      cp.IdempotencyKey,
		CreatedAt:           createdAt.UTC().Format(sqlTimeLayout),
	}, nil
}

func emptySliceIfNil(kinds []graph.NodeKind) []graph.NodeKind {
	if kinds == nil {
		return []graph.NodeKind{}
	}
	return kinds
}

// decodeCheckpoint rebuilds a Checkpoint from serialized columns plus
// the session row's concurrency limit.
func decodeCheckpoint(row stepColumns, concurrencyLimit int) (graph.Checkpoint, error) {
	cp := graph.Checkpoint{
		SessionID:        row.SessionID,
		Step:             row.Step,
		ConcurrencyLimit: concurrencyLimit,
		IdempotencyKey:   row.IdempotencyKey,
	}
	if err := json.Unmarshal([]byte(row.StateJSON), &cp.State); err != nil {
		return graph.Checkpoint{}, fmt.Errorf("decode state: %w", err)
	}
	if err := json.Unmarshal([]byte(row.FrontierJSON), &cp.Frontier); err != nil {
		return graph.Checkpoint{}, fmt.Errorf("decode frontier: %w", err)
	}
	if err := json.Unmarshal([]byte(row.VersionsSeenJSON), &cp.VersionsSeen); err != nil {
		return graph.Checkpoint{}, fmt.Errorf("decode versions_seen: %w", err)
	}
	if row.RanNodesJSON != "" {
		if err := json.Unmarshal([]byte(row.RanNodesJSON), &cp.RanNodes); err != nil {
			return graph.Checkpoint{}, fmt.Errorf("decode ran_nodes: %w", err)
		}
	}
	if row.SkippedNodesJSON != "" {
		if err := json.Unmarshal([]byte(row.SkippedNodesJSON), &cp.SkippedNodes); err != nil {
			return graph.Checkpoint{}, fmt.Errorf("decode skipped_nodes: %w", err)
		}
	}
	if row.UpdatedChannelsJSON != "" {
		if err := json.Unmarshal([]byte(row.UpdatedChannelsJSON), &cp.UpdatedChannels); err != nil {
			return graph.Checkpoint{}, fmt.Errorf("decode updated_channels: %w", err)
		}
	}
	if row.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, row.CreatedAt); err == nil {
			cp.Timestamp = ts
		}
	}
	return cp, nil
}

// matchesNodeFilters applies StepQuery's ran/skipped node filters to a
// row without unmarshalling the node arrays: the *_json columns are
// scanned with gjson, which is what keeps QuerySteps cheap on large
// histories where only a handful of rows match.
func matchesNodeFilters(q graph.StepQuery, row stepColumns) bool {
	if q.RanNode != nil && !jsonArrayContains(row.RanNodesJSON, q.RanNode.String()) {
		return false
	}
	if q.SkippedNode != nil && !jsonArrayContains(row.SkippedNodesJSON, q.SkippedNode.String()) {
		return false
	}
	return true
}

func jsonArrayContains(arrayJSON, want string) bool {
	found := false
	gjson.Parse(arrayJSON).ForEach(func(_, value gjson.Result) bool {
		if value.String() == want {
			found = true
			return false
		}
		return true
	})
	return found
}

// paginate applies StepQuery limit/offset to rows already ordered by
// step DESC, returning the page and the pre-pagination total.
func paginate(rows []stepColumns, q graph.StepQuery) ([]stepColumns, int) {
	total := len(rows)

	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return nil, total
	}
	rows = rows[offset:]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, total
}

func storedStepsFromRows(rows []stepColumns) ([]graph.StoredStep, error) {
	out := make([]graph.StoredStep, 0, len(rows))
	for _, row := range rows {
		step := graph.StoredStep{
			SessionID: row.SessionID,
			Step:      row.Step,
		}
		if err := json.Unmarshal([]byte(row.RanNodesJSON), &step.RanNodes); err != nil {
			return nil, fmt.Errorf("decode ran_nodes: %w", err)
		}
		if err := json.Unmarshal([]byte(row.SkippedNodesJSON), &step.SkippedNodes); err != nil {
			return nil, fmt.Errorf("decode skipped_nodes: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, row.CreatedAt); err == nil {
			step.Timestamp = ts
		}
		out = append(out, step)
	}
	return out, nil
}

func sortStepsDesc(rows []stepColumns) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Step > rows[j].Step })
}
