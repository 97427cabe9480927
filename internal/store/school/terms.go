package school

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edubase/rostersync/internal/store"
	"github.com/edubase/rostersync/internal/types"
)

const termColumns = `id, upstream_id, district_upstream_id, name, start_date, end_date,
	is_manual, created_at, updated_at, last_seen_at, deleted_at`

// GetTermByUpstreamID fetches a term regardless of soft-delete state.
func (s *Store) GetTermByUpstreamID(ctx context.Context, upstreamID string) (*types.Term, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+termColumns+` FROM terms WHERE upstream_id = ?`, upstreamID)
	if err != nil {
		return nil, fmt.Errorf("query term: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, store.ErrNotFound
	}
	return scanTerm(rows)
}

// InsertTerm writes a new term row, assigning an id if absent.
func (s *Store) InsertTerm(ctx context.Context, t *types.Term) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO terms (`+termColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UpstreamID, store.NullIfBlank(t.DistrictUpstreamID),
		store.NullIfBlank(t.Name), store.FormatDate(t.StartDate), store.FormatDate(t.EndDate),
		boolInt(t.IsManual),
		store.FormatTime(t.CreatedAt), store.FormatTime(t.UpdatedAt),
		store.FormatTime(t.LastSeenAt), store.FormatTimePtr(t.DeletedAt))
	if err != nil {
		return fmt.Errorf("insert term %s: %w", t.UpstreamID, err)
	}
	return nil
}

// UpdateTerm rewrites all mutable fields of an existing row.
func (s *Store) UpdateTerm(ctx context.Context, t *types.Term) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE terms SET district_upstream_id = ?, name = ?, start_date = ?, end_date = ?,
			is_manual = ?, updated_at = ?, last_seen_at = ?, deleted_at = ?
		 WHERE id = ?`,
		store.NullIfBlank(t.DistrictUpstreamID), store.NullIfBlank(t.Name),
		store.FormatDate(t.StartDate), store.FormatDate(t.EndDate),
		boolInt(t.IsManual),
		store.FormatTime(t.UpdatedAt), store.FormatTime(t.LastSeenAt),
		store.FormatTimePtr(t.DeletedAt), t.ID)
	if err != nil {
		return fmt.Errorf("update term %s: %w", t.UpstreamID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// TouchTermLastSeen bumps last_seen_at only.
func (s *Store) TouchTermLastSeen(ctx context.Context, upstreamID string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE terms SET last_seen_at = ? WHERE upstream_id = ?`,
		store.FormatTime(seenAt), upstreamID)
	if err != nil {
		return fmt.Errorf("touch term %s: %w", upstreamID, err)
	}
	return nil
}

// SoftDeleteTerm marks a live term deleted, returning the prior row.
func (s *Store) SoftDeleteTerm(ctx context.Context, upstreamID string, now time.Time) (*types.Term, error) {
	t, err := s.GetTermByUpstreamID(ctx, upstreamID)
	if err != nil {
		return nil, err
	}
	if t.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	ts := store.FormatTime(now)
	_, err = s.db.ExecContext(ctx,
		`UPDATE terms SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		ts, ts, t.ID)
	if err != nil {
		return nil, fmt.Errorf("soft delete term %s: %w", upstreamID, err)
	}
	return t, nil
}

// MarkTermOrphans soft-deletes live terms not seen since before. Manual
// terms are owned by school staff and never orphaned by sync.
func (s *Store) MarkTermOrphans(ctx context.Context, before, now time.Time) ([]*types.Term, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := store.FormatTime(before)
	rows, err := tx.QueryContext(ctx,
		`SELECT `+termColumns+` FROM terms
		 WHERE deleted_at IS NULL AND is_manual = 0 AND last_seen_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("scan term orphans: %w", err)
	}
	orphans, err := collectTerms(rows)
	if err != nil {
		return nil, err
	}
	if len(orphans) == 0 {
		return nil, tx.Commit()
	}

	ts := store.FormatTime(now)
	_, err = tx.ExecContext(ctx,
		`UPDATE terms SET deleted_at = ?, updated_at = ?
		 WHERE deleted_at IS NULL AND is_manual = 0 AND last_seen_at < ?`,
		ts, ts, cutoff)
	if err != nil {
		return nil, fmt.Errorf("mark term orphans: %w", err)
	}
	return orphans, tx.Commit()
}

// ListLiveTerms returns all non-deleted terms.
func (s *Store) ListLiveTerms(ctx context.Context) ([]*types.Term, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+termColumns+` FROM terms WHERE deleted_at IS NULL ORDER BY upstream_id`)
	if err != nil {
		return nil, fmt.Errorf("query live terms: %w", err)
	}
	return collectTerms(rows)
}

func collectTerms(rows *sql.Rows) ([]*types.Term, error) {
	defer rows.Close()
	var out []*types.Term
	for rows.Next() {
		t, err := scanTerm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTerm(rows *sql.Rows) (*types.Term, error) {
	var t types.Term
	var district, name, startDate, endDate, deletedAt sql.NullString
	var isManual int
	var createdAt, updatedAt, lastSeenAt string
	err := rows.Scan(&t.ID, &t.UpstreamID, &district, &name, &startDate, &endDate,
		&isManual, &createdAt, &updatedAt, &lastSeenAt, &deletedAt)
	if err != nil {
		return nil, fmt.Errorf("scan term: %w", err)
	}
	t.DistrictUpstreamID = district.String
	t.Name = name.String
	t.IsManual = isManual != 0
	if t.StartDate, err = store.ParseDate(startDate); err != nil {
		return nil, err
	}
	if t.EndDate, err = store.ParseDate(endDate); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = store.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = store.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	if t.LastSeenAt, err = store.ParseTime(lastSeenAt); err != nil {
		return nil, err
	}
	if t.DeletedAt, err = store.ParseTimePtr(deletedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
