package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/udhaar/credit-ledger/reconcile"
)

// =============================================================================
// SCAN RUN STORE (reconcile.RunStore interface)
// =============================================================================

var _ reconcile.RunStore = (*Store)(nil)

// SaveRun inserts a run or updates it in place when the ID exists.
func (s *Store) SaveRun(ctx context.Context, r reconcile.Run) error {
	mismatches := r.Result.Mismatches
	if mismatches == nil {
		mismatches = []reconcile.Mismatch{}
	}
	mismatchJSON, err := json.Marshal(mismatches)
	if err != nil {
		return fmt.Errorf("failed to encode mismatches: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scan_runs (id, trigger_kind, status, checked, linked, matched,
			mismatches_json, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			checked = excluded.checked,
			linked = excluded.linked,
			matched = excluded.matched,
			mismatches_json = excluded.mismatches_json,
			error = excluded.error,
			completed_at = excluded.completed_at
	`, r.ID, r.Trigger, r.Status, r.Result.Checked, r.Result.Linked, r.Result.Matched,
		string(mismatchJSON), r.Error, formatTime(r.StartedAt), formatTimePtr(r.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to save scan run: %w", err)
	}
	return nil
}

// ListRuns returns the newest runs first. A limit of zero or less returns
// every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]reconcile.Run, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trigger_kind, status, checked, linked, matched,
			mismatches_json, error, started_at, completed_at
		FROM scan_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan runs: %w", err)
	}
	defer rows.Close()

	var runs []reconcile.Run
	for rows.Next() {
		var (
			r            reconcile.Run
			mismatchJSON string
			startedAt    string
			completedAt  sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Trigger, &r.Status, &r.Result.Checked, &r.Result.Linked,
			&r.Result.Matched, &mismatchJSON, &r.Error, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(mismatchJSON), &r.Result.Mismatches); err != nil {
			return nil, fmt.Errorf("scan run %s mismatches: %w", r.ID, err)
		}
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("scan run %s started_at: %w", r.ID, err)
		}
		if r.CompletedAt, err = parseTimePtr(completedAt); err != nil {
			return nil, fmt.Errorf("scan run %s completed_at: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
