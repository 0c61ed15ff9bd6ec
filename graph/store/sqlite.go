package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/dshills/weavegraph-go/graph"
)

// SQLiteCheckpointer persists checkpoints to a SQLite database file
// using the canonical sessions/steps schema. WAL mode with a single
// write connection: SQLite supports one writer at a time, and funneling
// every write through one pooled connection avoids SQLITE_BUSY churn
// under concurrent sessions.
type SQLiteCheckpointer struct {
	db   *sql.DB
	path string
}

var _ graph.ConcurrencyCheckedCheckpointer = (*SQLiteCheckpointer)(nil)

// NewSQLiteCheckpointer opens (creating if needed) the database at path
// and ensures the schema. Use ":memory:" for an ephemeral database in
// tests.
func NewSQLiteCheckpointer(path string) (*SQLiteCheckpointer, error) {
	if path == "" {
		return nil, &graph.EngineError{Code: "SQLITE_DSN", Message: "sqlite checkpointer requires a database path"}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	db.SetMaxOpenConns(1) // single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}

	s := &SQLiteCheckpointer{db: db, path: path}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLiteCheckpointer) Close() error { return s.db.Close() }

// DB exposes the handle for retention tooling and tests.
func (s *SQLiteCheckpointer) DB() *sql.DB { return s.db }

func (s *SQLiteCheckpointer) ensureSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			concurrency_limit INTEGER NOT NULL DEFAULT 1,
			last_step INTEGER NOT NULL DEFAULT 0,
			last_state_json TEXT NOT NULL CHECK(json_valid(last_state_json)),
			last_frontier_json TEXT NOT NULL CHECK(json_valid(last_frontier_json)),
			last_versions_seen_json TEXT NOT NULL CHECK(json_valid(last_versions_seen_json)),
			updated_at TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS steps (
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			step INTEGER NOT NULL,
			state_json TEXT NOT NULL CHECK(json_valid(state_json)),
			frontier_json TEXT NOT NULL CHECK(json_valid(frontier_json)),
			versions_seen_json TEXT NOT NULL CHECK(json_valid(versions_seen_json)),
			ran_nodes_json TEXT NOT NULL CHECK(json_valid(ran_nodes_json)),
			skipped_nodes_json TEXT NOT NULL CHECK(json_valid(skipped_nodes_json)),
			updated_channels_json TEXT NOT NULL CHECK(json_valid(updated_channels_json)),
			idempotency_key TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			PRIMARY KEY (session_id, step)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_created_at ON steps(created_at)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite schema: %w", err)
		}
	}
	return nil
}

// Save upserts the (session_id, step) row and advances the session's
// denormalized latest pointer when step is not behind it.
func (s *SQLiteCheckpointer) Save(ctx context.Context, cp graph.Checkpoint) error {
	return s.save(ctx, cp, nil)
}

// SaveWithConcurrencyCheck performs Save inside one transaction with an
// optimistic check against the session's recorded last_step. SQLite's
// single-connection pool means the transaction is the row lock.
func (s *SQLiteCheckpointer) SaveWithConcurrencyCheck(ctx context.Context, cp graph.Checkpoint, expectedLastStep *uint64) error {
	return s.save(ctx, cp, expectedLastStep)
}

func (s *SQLiteCheckpointer) save(ctx context.Context, cp graph.Checkpoint, expectedLastStep *uint64) error {
	row, err := encodeCheckpoint(cp)
	if err != nil {
		return fmt.Errorf("sqlite checkpointer: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var lastStep sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT last_step FROM sessions WHERE id = ?`, cp.SessionID).Scan(&lastStep)
	sessionExists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite read session: %w", err)
	}

	if expectedLastStep != nil {
		if !sessionExists {
			return fmt.Errorf("%w (session %s has no steps, expected last_step %d)",
				graph.ErrConcurrencyConflict, cp.SessionID, *expectedLastStep)
		}
		if uint64(lastStep.Int64) != *expectedLastStep {
			return fmt.Errorf("%w (session %s last_step %d, expected %d)",
				graph.ErrConcurrencyConflict, cp.SessionID, lastStep.Int64, *expectedLastStep)
		}
	}

	if !sessionExists {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (id, concurrency_limit, last_step, last_state_json,
				last_frontier_json, last_versions_seen_json, updated_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			cp.SessionID, cp.ConcurrencyLimit, cp.Step, row.StateJSON,
			row.FrontierJSON, row.VersionsSeenJSON, row.CreatedAt, row.CreatedAt)
		if err != nil {
			return fmt.Errorf("sqlite insert session: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO steps (session_id, step, state_json, frontier_json, versions_seen_json,
			ran_nodes_json, skipped_nodes_json, updated_channels_json, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, step) DO UPDATE SET
			state_json = excluded.state_json,
			frontier_json = excluded.frontier_json,
			versions_seen_json = excluded.versions_seen_json,
			ran_nodes_json = excluded.ran_nodes_json,
			skipped_nodes_json = excluded.skipped_nodes_json,
			updated_channels_json = excluded.updated_channels_json,
			idempotency_key = excluded.idempotency_key,
			created_at = excluded.created_at`,
		cp.SessionID, cp.Step, row.StateJSON, row.FrontierJSON, row.VersionsSeenJSON,
		row.RanNodesJSON, row.SkippedNodesJSON, row.UpdatedChannelsJSON, row.IdempotencyKey, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite upsert step: %w", err)
	}

	// Monotonic advance of the latest pointer: out-of-order re-saves are
	// preserved in steps but never rewind the session head.
	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET
			last_step = ?,
			concurrency_limit = ?,
			last_state_json = ?,
			last_frontier_json = ?,
			last_versions_seen_json = ?,
			updated_at = ?
		WHERE id = ? AND last_step <= ?`,
		cp.Step, cp.ConcurrencyLimit, row.StateJSON, row.FrontierJSON,
		row.VersionsSeenJSON, row.CreatedAt, cp.SessionID, cp.Step)
	if err != nil {
		return fmt.Errorf("sqlite update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

// LoadLatest returns the checkpoint named by the session's latest
// pointer, or graph.ErrCheckpointNotFound.
func (s *SQLiteCheckpointer) LoadLatest(ctx context.Context, sessionID string) (*graph.Checkpoint, error) {
	var lastStep uint64
	var limit int
	err := s.db.QueryRowContext(ctx,
		`SELECT last_step, concurrency_limit FROM sessions WHERE id = ?`, sessionID).
		Scan(&lastStep, &limit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, graph.ErrCheckpointNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite read session: %w", err)
	}

	row := stepColumns{SessionID: sessionID, Step: lastStep}
	err = s.db.QueryRowContext(ctx, `
		SELECT state_json, frontier_json, versions_seen_json, ran_nodes_json,
			skipped_nodes_json, updated_channels_json, idempotency_key, created_at
		FROM steps WHERE session_id = ? AND step = ?`, sessionID, lastStep).
		Scan(&row.StateJSON, &row.FrontierJSON, &row.VersionsSeenJSON, &row.RanNodesJSON,
			&row.SkippedNodesJSON, &row.UpdatedChannelsJSON, &row.IdempotencyKey, &row.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s step %d: %w", sessionID, lastStep, graph.ErrCheckpointNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite read step: %w", err)
	}

	cp, err := decodeCheckpoint(row, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite checkpointer: %w", err)
	}
	return &cp, nil
}

// ListSessions returns every session id, sorted.
func (s *SQLiteCheckpointer) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// QuerySteps returns the session's step history matching q, ordered by
// step descending. Step-range bounds are pushed into SQL; the ran/
// skipped node filters are applied with gjson over the *_json columns,
// since portable JSON-array membership SQL differs per backend and this
// is an audit query, not a hot path.
func (s *SQLiteCheckpointer) QuerySteps(ctx context.Context, sessionID string, q graph.StepQuery) (graph.StepQueryResult, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT session_id, step, state_json, frontier_json, versions_seen_json,
			ran_nodes_json, skipped_nodes_json, updated_channels_json, idempotency_key, created_at
		FROM steps WHERE session_id = ?`)
	args := []interface{}{sessionID}
	if q.MinStep != nil {
		query.WriteString(" AND step >= ?")
		args = append(args, *q.MinStep)
	}
	if q.MaxStep != nil {
		query.WriteString(" AND step <= ?")
		args = append(args, *q.MaxStep)
	}
	query.WriteString(" ORDER BY step DESC")

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return graph.StepQueryResult{}, fmt.Errorf("sqlite query steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matched []stepColumns
	for rows.Next() {
		var row stepColumns
		if err := rows.Scan(&row.SessionID, &row.Step, &row.StateJSON, &row.FrontierJSON,
			&row.VersionsSeenJSON, &row.RanNodesJSON, &row.SkippedNodesJSON,
			&row.UpdatedChannelsJSON, &row.IdempotencyKey, &row.CreatedAt); err != nil {
			return graph.StepQueryResult{}, fmt.Errorf("sqlite scan step: %w", err)
		}
		if matchesNodeFilters(q, row) {
			matched = append(matched, row)
		}
	}
	if err := rows.Err(); err != nil {
		return graph.StepQueryResult{}, fmt.Errorf("sqlite query steps: %w", err)
	}

	page, total := paginate(matched, q)
	steps, err := storedStepsFromRows(page)
	if err != nil {
		return graph.StepQueryResult{}, fmt.Errorf("sqlite checkpointer: %w", err)
	}
	return graph.StepQueryResult{Steps: steps, TotalCount: total}, nil
}
