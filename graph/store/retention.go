package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Checkpoint storage grows without bound: every superstep of every
// session appends a row. Cleanup is an operator concern; the helpers
// here cover the two usual policies. The session's denormalized latest
// pointer is never touched — pruning only ever removes historical steps
// strictly below last_step, so resume is unaffected.
//
// Equivalent raw SQL, for operators running cleanup out-of-band:
//
// Time-based (drop history older than a cutoff, keeping each session's
// head row):
//
//	DELETE s FROM steps s
//	JOIN sessions ON sessions.id = s.session_id
//	WHERE s.created_at < ? AND s.step < sessions.last_step;
//
// Count-based (keep the most recent N steps per session; MySQL 8 /
// SQLite 3.25+ window form):
//
//	DELETE FROM steps WHERE (session_id, step) IN (
//	    SELECT session_id, step FROM (
//	        SELECT session_id, step,
//	               ROW_NUMBER() OVER (PARTITION BY session_id ORDER BY step DESC) AS rn
//	        FROM steps
//	    ) ranked WHERE rn > ?
//	);

// PruneStepsBefore deletes step rows created before cutoff, always
// retaining each session's latest step. Returns the number of rows
// deleted. Works against either SQL backend's DB() handle.
func PruneStepsBefore(ctx context.Context, db *sql.DB, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM steps
		WHERE created_at < ?
		  AND step < (SELECT last_step FROM sessions WHERE sessions.id = steps.session_id)`,
		cutoff.UTC().Format(sqlTimeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune steps before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return res.RowsAffected()
}

// PruneStepsKeepLast deletes all but the most recent keep steps of one
// session. Returns the number of rows deleted.
func PruneStepsKeepLast(ctx context.Context, db *sql.DB, sessionID string, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	res, err := db.ExecContext(ctx, `
		DELETE FROM steps
		WHERE session_id = ?
		  AND step NOT IN (
			SELECT step FROM (
				SELECT step FROM steps WHERE session_id = ?
				ORDER BY step DESC LIMIT ?
			) recent
		  )`,
		sessionID, sessionID, keep)
	if err != nil {
		return 0, fmt.Errorf("prune steps for %s: %w", sessionID, err)
	}
	return res.RowsAffected()
}
