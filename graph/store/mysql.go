package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // mysql driver

	"github.com/dshills/weavegraph-go/graph"
)

// MySQLCheckpointer persists checkpoints to MySQL using the canonical
// sessions/steps schema with native JSON columns. The session row is the
// serialization point: SaveWithConcurrencyCheck takes a SELECT ... FOR
// UPDATE row lock, so concurrent writers to the same session queue on
// the database rather than racing in the application.
//
// DSN form (parseTime not required; timestamps are stored as RFC 3339
// strings alongside the JSON payloads):
//
//	user:password@tcp(127.0.0.1:3306)/weavegraph
type MySQLCheckpointer struct {
	db *sql.DB
}

var _ graph.ConcurrencyCheckedCheckpointer = (*MySQLCheckpointer)(nil)

// NewMySQLCheckpointer opens a connection pool against dsn and ensures
// the schema.
func NewMySQLCheckpointer(dsn string) (*MySQLCheckpointer, error) {
	if dsn == "" {
		return nil, &graph.EngineError{Code: "MYSQL_DSN", Message: "mysql checkpointer requires a DSN"}
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	m := &MySQLCheckpointer{db: db}
	if err := m.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

// Close releases the connection pool.
func (m *MySQLCheckpointer) Close() error { return m.db.Close() }

// DB exposes the pool for retention tooling and tests.
func (m *MySQLCheckpointer) DB() *sql.DB { return m.db }

// Ping verifies connectivity, for health checks and integration-test
// gating.
func (m *MySQLCheckpointer) Ping(ctx context.Context) error { return m.db.PingContext(ctx) }

func (m *MySQLCheckpointer) ensureSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id VARCHAR(255) PRIMARY KEY,
			concurrency_limit INT NOT NULL DEFAULT 1,
			last_step BIGINT UNSIGNED NOT NULL DEFAULT 0,
			last_state_json JSON NOT NULL,
			last_frontier_json JSON NOT NULL,
			last_versions_seen_json JSON NOT NULL,
			updated_at VARCHAR(40) NOT NULL,
			created_at VARCHAR(40) NOT NULL
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS steps (
			session_id VARCHAR(255) NOT NULL,
			step BIGINT UNSIGNED NOT NULL,
			state_json JSON NOT NULL,
			frontier_json JSON NOT NULL,
			versions_seen_json JSON NOT NULL,
			ran_nodes_json JSON NOT NULL,
			skipped_nodes_json JSON NOT NULL,
			updated_channels_json JSON NOT NULL,
			idempotency_key VARCHAR(80) NOT NULL DEFAULT '',
			created_at VARCHAR(40) NOT NULL,
			PRIMARY KEY (session_id, step),
			CONSTRAINT fk_steps_session FOREIGN KEY (session_id)
				REFERENCES sessions(id) ON DELETE CASCADE
		) ENGINE=InnoDB`,
	}
	for _, stmt := range schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mysql schema: %w", err)
		}
	}
	return nil
}

// Save upserts the (session_id, step) row and advances the session's
// denormalized latest pointer when step is not behind it.
func (m *MySQLCheckpointer) Save(ctx context.Context, cp graph.Checkpoint) error {
	return m.save(ctx, cp, nil)
}

// SaveWithConcurrencyCheck performs Save inside one transaction that
// locks the session row first. A non-nil expectedLastStep that does not
// match the locked row's last_step fails with ErrConcurrencyConflict and
// writes nothing.
func (m *MySQLCheckpointer) SaveWithConcurrencyCheck(ctx context.Context, cp graph.Checkpoint, expectedLastStep *uint64) error {
	return m.save(ctx, cp, expectedLastStep)
}

func (m *MySQLCheckpointer) save(ctx context.Context, cp graph.Checkpoint, expectedLastStep *uint64) error {
	row, err := encodeCheckpoint(cp)
	if err != nil {
		return fmt.Errorf("mysql checkpointer: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mysql begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var lastStep uint64
	err = tx.QueryRowContext(ctx,
		`SELECT last_step FROM sessions WHERE id = ? FOR UPDATE`, cp.SessionID).Scan(&lastStep)
	sessionExists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("mysql lock session: %w", err)
	}

	if expectedLastStep != nil {
		if !sessionExists {
			return fmt.Errorf("%w (session %s has no steps, expected last_step %d)",
				graph.ErrConcurrencyConflict, cp.SessionID, *expectedLastStep)
		}
		if lastStep != *expectedLastStep {
			return fmt.Errorf("%w (session %s last_step %d, expected %d)",
				graph.ErrConcurrencyConflict, cp.SessionID, lastStep, *expectedLastStep)
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
			return fmt.Errorf("mysql insert session: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO steps (session_id, step, state_json, frontier_json, versions_seen_json,
			ran_nodes_json, skipped_nodes_json, updated_channels_json, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			state_json = VALUES(state_json),
			frontier_json = VALUES(frontier_json),
			versions_seen_json = VALUES(versions_seen_json),
			ran_nodes_json = VALUES(ran_nodes_json),
			skipped_nodes_json = VALUES(skipped_nodes_json),
			updated_channels_json = VALUES(updated_channels_json),
			idempotency_key = VALUES(idempotency_key),
			created_at = VALUES(created_at)`,
		cp.SessionID, cp.Step, row.StateJSON, row.FrontierJSON, row.VersionsSeenJSON,
		row.RanNodesJSON, row.SkippedNodesJSON, row.UpdatedChannelsJSON, row.IdempotencyKey, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("mysql upsert step: %w", err)
	}

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
		return fmt.Errorf("mysql update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mysql commit: %w", err)
	}
	return nil
}

// LoadLatest returns the checkpoint named by the session's latest
// pointer, or graph.ErrCheckpointNotFound.
func (m *MySQLCheckpointer) LoadLatest(ctx context.Context, sessionID string) (*graph.Checkpoint, error) {
	var lastStep uint64
	var limit int
	err := m.db.QueryRowContext(ctx,
		`SELECT last_step, concurrency_limit FROM sessions WHERE id = ?`, sessionID).
		Scan(&lastStep, &limit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, graph.ErrCheckpointNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("mysql read session: %w", err)
	}

	row := stepColumns{SessionID: sessionID, Step: lastStep}
	err = m.db.QueryRowContext(ctx, `
		SELECT state_json, frontier_json, versions_seen_json, ran_nodes_json,
			skipped_nodes_json, updated_channels_json, idempotency_key, created_at
		FROM steps WHERE session_id = ? AND step = ?`, sessionID, lastStep).
		Scan(&row.StateJSON, &row.FrontierJSON, &row.VersionsSeenJSON, &row.RanNodesJSON,
			&row.SkippedNodesJSON, &row.UpdatedChannelsJSON, &row.IdempotencyKey, &row.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s step %d: %w", sessionID, lastStep, graph.ErrCheckpointNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("mysql read step: %w", err)
	}

	cp, err := decodeCheckpoint(row, limit)
	if err != nil {
		return nil, fmt.Errorf("mysql checkpointer: %w", err)
	}
	return &cp, nil
}

// ListSessions returns every session id, sorted.
func (m *MySQLCheckpointer) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id FROM sessions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("mysql list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("mysql scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// QuerySteps returns the session's step history matching q, ordered by
// step descending. Step-range bounds are pushed into SQL; ran/skipped
// node filters are applied with gjson, same as the SQLite backend.
func (m *MySQLCheckpointer) QuerySteps(ctx context.Context, sessionID string, q graph.StepQuery) (graph.StepQueryResult, error) {
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

	rows, err := m.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return graph.StepQueryResult{}, fmt.Errorf("mysql query steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matched []stepColumns
	for rows.Next() {
		var row stepColumns
		if err := rows.Scan(&row.SessionID, &row.Step, &row.StateJSON, &row.FrontierJSON,
			&row.VersionsSeenJSON, &row.RanNodesJSON, &row.SkippedNodesJSON,
			&row.UpdatedChannelsJSON, &row.IdempotencyKey, &row.CreatedAt); err != nil {
			return graph.StepQueryResult{}, fmt.Errorf("mysql scan step: %w", err)
		}
		if matchesNodeFilters(q, row) {
			matched = append(matched, row)
		}
	}
	if err := rows.Err(); err != nil {
		return graph.StepQueryResult{}, fmt.Errorf("mysql query steps: %w", err)
	}

	page, total := paginate(matched, q)
	steps, err := storedStepsFromRows(page)
	if err != nil {
		return graph.StepQueryResult{}, fmt.Errorf("mysql checkpointer: %w", err)
	}
	return graph.StepQueryResult{Steps: steps, TotalCount: total}, nil
}
