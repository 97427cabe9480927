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

const sectionColumns = `id, upstream_id, name, period, subject, term_upstream_id,
	created_at, updated_at, last_seen_at, deleted_at`

// GetSectionByUpstreamID fetches a section regardless of soft-delete state.
func (s *Store) GetSectionByUpstreamID(ctx context.Context, upstreamID string) (*types.Section, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sectionColumns+` FROM sections WHERE upstream_id = ?`, upstreamID)
	if err != nil {
		return nil, fmt.Errorf("query section: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, store.ErrNotFound
	}
	return scanSection(rows)
}

// InsertSection writes a new section row, assigning an id if absent.
func (s *Store) InsertSection(ctx context.Context, sec *types.Section) error {
	if sec.ID == "" {
		sec.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sections (`+sectionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sec.ID, sec.UpstreamID, store.NullIfBlank(sec.Name), store.NullIfBlank(sec.Period),
		store.NullIfBlank(sec.Subject), store.NullIfBlank(sec.TermUpstreamID),
		store.FormatTime(sec.CreatedAt), store.FormatTime(sec.UpdatedAt),
		store.FormatTime(sec.LastSeenAt), store.FormatTimePtr(sec.DeletedAt))
	if err != nil {
		return fmt.Errorf("insert section %s: %w", sec.UpstreamID, err)
	}
	return nil
}

// UpdateSection rewrites all mutable fields of an existing row.
func (s *Store) UpdateSection(ctx context.Context, sec *types.Section) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sections SET name = ?, period = ?, subject = ?, term_upstream_id = ?,
			updated_at = ?, last_seen_at = ?, deleted_at = ?
		 WHERE id = ?`,
		store.NullIfBlank(sec.Name), store.NullIfBlank(sec.Period),
		store.NullIfBlank(sec.Subject), store.NullIfBlank(sec.TermUpstreamID),
		store.FormatTime(sec.UpdatedAt), store.FormatTime(sec.LastSeenAt),
		store.FormatTimePtr(sec.DeletedAt), sec.ID)
	if err != nil {
		return fmt.Errorf("update section %s: %w", sec.UpstreamID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// TouchSectionLastSeen bumps last_seen_at only.
func (s *Store) TouchSectionLastSeen(ctx context.Context, upstreamID string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sections SET last_seen_at = ? WHERE upstream_id = ?`,
		store.FormatTime(seenAt), upstreamID)
	if err != nil {
		return fmt.Errorf("touch section %s: %w", upstreamID, err)
	}
	return nil
}

// SoftDeleteSection marks a live section deleted, returning the prior row.
func (s *Store) SoftDeleteSection(ctx context.Context, upstreamID string, now time.Time) (*types.Section, error) {
	sec, err := s.GetSectionByUpstreamID(ctx, upstreamID)
	if err != nil {
		return nil, err
	}
	if sec.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	ts := store.FormatTime(now)
	_, err = s.db.ExecContext(ctx,
		`UPDATE sections SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		ts, ts, sec.ID)
	if err != nil {
		return nil, fmt.Errorf("soft delete section %s: %w", upstreamID, err)
	}
	return sec, nil
}

// ListSectionsNotSeenSince returns live sections whose last_seen_at predates
// before. The full-sync reconcile loop uses this for absence detection;
// sections are deliberately excluded from the generic orphan pass so the
// protection policy can gate each deletion individually.
func (s *Store) ListSectionsNotSeenSince(ctx context.Context, before time.Time) ([]*types.Section, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sectionColumns+` FROM sections WHERE deleted_at IS NULL AND last_seen_at < ?`,
		store.FormatTime(before))
	if err != nil {
		return nil, fmt.Errorf("query absent sections: %w", err)
	}
	return collectSections(rows)
}

// ListLiveSections returns all non-deleted sections.
func (s *Store) ListLiveSections(ctx context.Context) ([]*types.Section, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sectionColumns+` FROM sections WHERE deleted_at IS NULL ORDER BY upstream_id`)
	if err != nil {
		return nil, fmt.Errorf("query live sections: %w", err)
	}
	return collectSections(rows)
}

func collectSections(rows *sql.Rows) ([]*types.Section, error) {
	defer rows.Close()
	var out []*types.Section
	for rows.Next() {
		sec, err := scanSection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}

func scanSection(rows *sql.Rows) (*types.Section, error) {
	var sec types.Section
	var name, period, subject, termRef, deletedAt sql.NullString
	var createdAt, updatedAt, lastSeenAt string
	err := rows.Scan(&sec.ID, &sec.UpstreamID, &name, &period, &subject, &termRef,
		&createdAt, &updatedAt, &lastSeenAt, &deletedAt)
	if err != nil {
		return nil, fmt.Errorf("scan section: %w", err)
	}
	sec.Name = name.String
	sec.Period = period.String
	sec.Subject = subject.String
	sec.TermUpstreamID = termRef.String
	if sec.CreatedAt, err = store.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if sec.UpdatedAt, err = store.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	if sec.LastSeenAt, err = store.ParseTime(lastSeenAt); err != nil {
		return nil, err
	}
	if sec.DeletedAt, err = store.ParseTimePtr(deletedAt); err != nil {
		return nil, err
	}
	return &sec, nil
}
