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

const teacherColumns = `id, upstream_id, first_name, last_name, full_name,
	staff_number, teacher_number, username,
	created_at, updated_at, last_seen_at, deleted_at`

// GetTeacherByUpstreamID fetches a teacher regardless of soft-delete state.
func (s *Store) GetTeacherByUpstreamID(ctx context.Context, upstreamID string) (*types.Teacher, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+teacherColumns+` FROM teachers WHERE upstream_id = ?`, upstreamID)
	if err != nil {
		return nil, fmt.Errorf("query teacher: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, store.ErrNotFound
	}
	return scanTeacher(rows)
}

// InsertTeacher writes a new teacher row, assigning an id if absent.
func (s *Store) InsertTeacher(ctx context.Context, t *types.Teacher) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO teachers (`+teacherColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UpstreamID, t.FirstName, t.LastName, t.FullName,
		store.NullIfBlank(t.StaffNumber), store.NullIfBlank(t.TeacherNumber),
		store.NullIfBlank(t.Username),
		store.FormatTime(t.CreatedAt), store.FormatTime(t.UpdatedAt),
		store.FormatTime(t.LastSeenAt), store.FormatTimePtr(t.DeletedAt))
	if err != nil {
		return fmt.Errorf("insert teacher %s: %w", t.UpstreamID, err)
	}
	return nil
}

// UpdateTeacher rewrites all mutable fields of an existing row.
func (s *Store) UpdateTeacher(ctx context.Context, t *types.Teacher) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE teachers SET first_name = ?, last_name = ?, full_name = ?,
			staff_number = ?, teacher_number = ?, username = ?,
			updated_at = ?, last_seen_at = ?, deleted_at = ?
		 WHERE id = ?`,
		t.FirstName, t.LastName, t.FullName,
		store.NullIfBlank(t.StaffNumber), store.NullIfBlank(t.TeacherNumber),
		store.NullIfBlank(t.Username),
		store.FormatTime(t.UpdatedAt), store.FormatTime(t.LastSeenAt),
		store.FormatTimePtr(t.DeletedAt), t.ID)
	if err != nil {
		return fmt.Errorf("update teacher %s: %w", t.UpstreamID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// TouchTeacherLastSeen bumps last_seen_at only.
func (s *Store) TouchTeacherLastSeen(ctx context.Context, upstreamID string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE teachers SET last_seen_at = ? WHERE upstream_id = ?`,
		store.FormatTime(seenAt), upstreamID)
	if err != nil {
		return fmt.Errorf("touch teacher %s: %w", upstreamID, err)
	}
	return nil
}

// SoftDeleteTeacher marks a live teacher deleted, returning the prior row.
func (s *Store) SoftDeleteTeacher(ctx context.Context, upstreamID string, now time.Time) (*types.Teacher, error) {
	t, err := s.GetTeacherByUpstreamID(ctx, upstreamID)
	if err != nil {
		return nil, err
	}
	if t.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	ts := store.FormatTime(now)
	_, err = s.db.ExecContext(ctx,
		`UPDATE teachers SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		ts, ts, t.ID)
	if err != nil {
		return nil, fmt.Errorf("soft delete teacher %s: %w", upstreamID, err)
	}
	return t, nil
}

// MarkTeacherOrphans soft-deletes live teachers not seen since before.
func (s *Store) MarkTeacherOrphans(ctx context.Context, before, now time.Time) ([]*types.Teacher, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := store.FormatTime(before)
	rows, err := tx.QueryContext(ctx,
		`SELECT `+teacherColumns+` FROM teachers WHERE deleted_at IS NULL AND last_seen_at < ?`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("scan teacher orphans: %w", err)
	}
	orphans, err := collectTeachers(rows)
	if err != nil {
		return nil, err
	}
	if len(orphans) == 0 {
		return nil, tx.Commit()
	}

	ts := store.FormatTime(now)
	_, err = tx.ExecContext(ctx,
		`UPDATE teachers SET deleted_at = ?, updated_at = ? WHERE deleted_at IS NULL AND last_seen_at < ?`,
		ts, ts, cutoff)
	if err != nil {
		return nil, fmt.Errorf("mark teacher orphans: %w", err)
	}
	return orphans, tx.Commit()
}

// ListLiveTeachers returns all non-deleted teachers.
func (s *Store) ListLiveTeachers(ctx context.Context) ([]*types.Teacher, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+teacherColumns+` FROM teachers WHERE deleted_at IS NULL ORDER BY upstream_id`)
	if err != nil {
		return nil, fmt.Errorf("query live teachers: %w", err)
	}
	return collectTeachers(rows)
}

func collectTeachers(rows *sql.Rows) ([]*types.Teacher, error) {
	defer rows.Close()
	var out []*types.Teacher
	for rows.Next() {
		t, err := scanTeacher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTeacher(rows *sql.Rows) (*types.Teacher, error) {
	var t types.Teacher
	var staffNum, teacherNum, username, deletedAt sql.NullString
	var createdAt, updatedAt, lastSeenAt string
	err := rows.Scan(&t.ID, &t.UpstreamID, &t.FirstName, &t.LastName, &t.FullName,
		&staffNum, &teacherNum, &username,
		&createdAt, &updatedAt, &lastSeenAt, &deletedAt)
	if err != nil {
		return nil, fmt.Errorf("scan teacher: %w", err)
	}
	t.StaffNumber = staffNum.String
	t.TeacherNumber = teacherNum.String
	t.Username = username.String
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
