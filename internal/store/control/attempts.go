package control

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edubase/rostersync/internal/store"
	"github.com/edubase/rostersync/internal/types"
)

const attemptColumns = `id, school_id, kind, mode, started_at, ended_at, status,
	records_processed, records_updated, records_failed, error_message,
	event_cursor, cursor_timestamp, last_known_sync_point, summary`

// BeginAttempt inserts an InProgress attempt row and returns it. The row
// exists before any sync work so audits and warnings can reference its id.
// At most one InProgress attempt may exist per (school, kind); a second
// Begin for the same pair fails.
func (s *Store) BeginAttempt(ctx context.Context, schoolID string, kind types.EntityKind, mode types.SyncMode, startedAt time.Time) (*types.SyncAttempt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_attempts WHERE school_id = ? AND kind = ? AND status = ?`,
		schoolID, string(kind), string(types.StatusInProgress)).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("check in-progress attempts: %w", err)
	}
	if n > 0 {
		return nil, fmt.Errorf("school %s already has an in-progress %s attempt", schoolID, kind)
	}

	a := &types.SyncAttempt{
		ID:        uuid.NewString(),
		SchoolID:  schoolID,
		Kind:      kind,
		Mode:      mode,
		StartedAt: startedAt.UTC(),
		Status:    types.StatusInProgress,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sync_attempts (`+attemptColumns+`)
		 VALUES (?, ?, ?, ?, ?, NULL, ?, 0, 0, 0, '', '', NULL, NULL, '')`,
		a.ID, a.SchoolID, string(a.Kind), string(a.Mode),
		store.FormatTime(a.StartedAt), string(a.Status))
	if err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit attempt: %w", err)
	}
	return a, nil
}

// FinishAttempt writes the attempt's terminal state. It refuses to touch a
// row that is already terminal and returns ErrTerminalAttempt instead;
// terminal rows are immutable.
func (s *Store) FinishAttempt(ctx context.Context, a *types.SyncAttempt) error {
	if !a.Status.Terminal() {
		return fmt.Errorf("finish attempt %s: status %q is not terminal", a.ID, a.Status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_attempts SET ended_at = ?, status = ?,
			records_processed = ?, records_updated = ?, records_failed = ?,
			error_message = ?, event_cursor = ?, cursor_timestamp = ?,
			last_known_sync_point = ?, summary = ?
		 WHERE id = ? AND status = ?`,
		store.FormatTimePtr(a.EndedAt), string(a.Status),
		a.RecordsProcessed, a.RecordsUpdated, a.RecordsFailed,
		a.ErrorMessage, a.Cursor, store.FormatTimePtr(a.CursorTimestamp),
		store.FormatTimePtr(a.LastKnownSyncPoint), a.Summary,
		a.ID, string(types.StatusInProgress))
	if err != nil {
		return fmt.Errorf("finish attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish attempt rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetAttempt(ctx, a.ID); errors.Is(err, store.ErrNotFound) {
			return store.ErrNotFound
		}
		return store.ErrTerminalAttempt
	}
	return nil
}

// GetAttempt fetches an attempt by id.
func (s *Store) GetAttempt(ctx context.Context, id string) (*types.SyncAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM sync_attempts WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query attempt: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, store.ErrNotFound
	}
	return scanAttempt(rows)
}

// ListAttempts returns the most recent attempts for a school, newest first.
func (s *Store) ListAttempts(ctx context.Context, schoolID string, limit int) ([]*types.SyncAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM sync_attempts
		 WHERE school_id = ? ORDER BY started_at DESC LIMIT ?`, schoolID, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []*types.SyncAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// HasSuccessfulAttempt reports whether the school has ever completed an
// attempt with Success status. Used by the mode decider: a school with no
// success on record always gets a full sync.
func (s *Store) HasSuccessfulAttempt(ctx context.Context, schoolID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_attempts WHERE school_id = ? AND status = ?`,
		schoolID, string(types.StatusSuccess)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count successful attempts: %w", err)
	}
	return n > 0, nil
}

// LatestCursorAttempt returns the most recent Event or Baseline attempt that
// finished Success or Partial with a non-empty cursor. Partial attempts
// count: their cursor has been advanced past poison events and replay must
// not revisit them. Returns ErrNotFound when no cursor exists.
func (s *Store) LatestCursorAttempt(ctx context.Context, schoolID string) (*types.SyncAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM sync_attempts
		 WHERE school_id = ? AND kind IN (?, ?) AND status IN (?, ?) AND event_cursor <> ''
		 ORDER BY started_at DESC LIMIT 1`,
		schoolID, string(types.KindEvent), string(types.KindBaseline),
		string(types.StatusSuccess), string(types.StatusPartial))
	if err != nil {
		return nil, fmt.Errorf("query cursor attempt: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, store.ErrNotFound
	}
	return scanAttempt(rows)
}

// LatestSyncPoint returns the most recent non-null last_known_sync_point for
// the school, used by the cursorless fallback reconcile. Nil when none.
func (s *Store) LatestSyncPoint(ctx context.Context, schoolID string) (*time.Time, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT last_known_sync_point FROM sync_attempts
		 WHERE school_id = ? AND last_known_sync_point IS NOT NULL
		 ORDER BY started_at DESC LIMIT 1`, schoolID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sync point: %w", err)
	}
	return store.ParseTimePtr(raw)
}

// FailStaleAttempts marks InProgress attempts older than threshold as
// Failed. Crash recovery; invoked from the doctor command, not from the
// sync path.
func (s *Store) FailStaleAttempts(ctx context.Context, threshold time.Duration, now time.Time) (int, error) {
	cutoff := store.FormatTime(now.Add(-threshold))
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_attempts SET status = ?, ended_at = ?, error_message = ?
		 WHERE status = ? AND started_at < ?`,
		string(types.StatusFailed), store.FormatTime(now),
		"marked failed by stale-attempt recovery",
		string(types.StatusInProgress), cutoff)
	if err != nil {
		return 0, fmt.Errorf("fail stale attempts: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanAttempt(rows *sql.Rows) (*types.SyncAttempt, error) {
	var a types.SyncAttempt
	var kind, mode, status, startedAt string
	var endedAt, cursor, cursorTS, syncPoint, errMsg, summary sql.NullString
	err := rows.Scan(&a.ID, &a.SchoolID, &kind, &mode, &startedAt, &endedAt, &status,
		&a.RecordsProcessed, &a.RecordsUpdated, &a.RecordsFailed, &errMsg,
		&cursor, &cursorTS, &syncPoint, &summary)
	if err != nil {
		return nil, fmt.Errorf("scan attempt: %w", err)
	}
	a.Kind = types.EntityKind(kind)
	a.Mode = types.SyncMode(mode)
	a.Status = types.AttemptStatus(status)
	if a.StartedAt, err = store.ParseTime(startedAt); err != nil {
		return nil, err
	}
	if a.EndedAt, err = store.ParseTimePtr(endedAt); err != nil {
		return nil, err
	}
	a.ErrorMessage = errMsg.String
	a.Cursor = cursor.String
	if a.CursorTimestamp, err = store.ParseTimePtr(cursorTS); err != nil {
		return nil, err
	}
	if a.LastKnownSyncPoint, err = store.ParseTimePtr(syncPoint); err != nil {
		return nil, err
	}
	a.Summary = summary.String
	return &a, nil
}
