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

const studentColumns = `id, upstream_id, first_name, middle_name, last_name,
	grade, grade_label, student_number, state_id,
	created_at, updated_at, last_seen_at, deleted_at`

// GetStudentByUpstreamID fetches a student regardless of soft-delete state;
// the reconciler needs deleted rows to detect restorations.
func (s *Store) GetStudentByUpstreamID(ctx context.Context, upstreamID string) (*types.Student, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE upstream_id = ?`, upstreamID)
	if err != nil {
		return nil, fmt.Errorf("query student: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, store.ErrNotFound
	}
	return scanStudent(rows)
}

// InsertStudent writes a new student row, assigning an id if absent.
func (s *Store) InsertStudent(ctx context.Context, st *types.Student) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO students (`+studentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.UpstreamID, st.FirstName, store.NullIfBlank(st.MiddleName), st.LastName,
		nullInt(st.Grade), store.NullIfBlank(st.GradeLabel),
		store.NullIfBlank(st.StudentNumber), store.NullIfBlank(st.StateID),
		store.FormatTime(st.CreatedAt), store.FormatTime(st.UpdatedAt),
		store.FormatTime(st.LastSeenAt), store.FormatTimePtr(st.DeletedAt))
	if err != nil {
		return fmt.Errorf("insert student %s: %w", st.UpstreamID, err)
	}
	return nil
}

// UpdateStudent rewrites all mutable fields of an existing row.
func (s *Store) UpdateStudent(ctx context.Context, st *types.Student) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE students SET first_name = ?, middle_name = ?, last_name = ?,
			grade = ?, grade_label = ?, student_number = ?, state_id = ?,
			updated_at = ?, last_seen_at = ?, deleted_at = ?
		 WHERE id = ?`,
		st.FirstName, store.NullIfBlank(st.MiddleName), st.LastName,
		nullInt(st.Grade), store.NullIfBlank(st.GradeLabel),
		store.NullIfBlank(st.StudentNumber), store.NullIfBlank(st.StateID),
		store.FormatTime(st.UpdatedAt), store.FormatTime(st.LastSeenAt),
		store.FormatTimePtr(st.DeletedAt), st.ID)
	if err != nil {
		return fmt.Errorf("update student %s: %w", st.UpstreamID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// TouchStudentLastSeen bumps last_seen_at without touching anything else.
// Used when an upstream record matched the local row exactly.
func (s *Store) TouchStudentLastSeen(ctx context.Context, upstreamID string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE students SET last_seen_at = ? WHERE upstream_id = ?`,
		store.FormatTime(seenAt), upstreamID)
	if err != nil {
		return fmt.Errorf("touch student %s: %w", upstreamID, err)
	}
	return nil
}

// SoftDeleteStudent marks a live student deleted. Returns the row as it was
// before deletion, or ErrNotFound when no live row exists.
func (s *Store) SoftDeleteStudent(ctx context.Context, upstreamID string, now time.Time) (*types.Student, error) {
	st, err := s.GetStudentByUpstreamID(ctx, upstreamID)
	if err != nil {
		return nil, err
	}
	if st.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	ts := store.FormatTime(now)
	_, err = s.db.ExecContext(ctx,
		`UPDATE students SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		ts, ts, st.ID)
	if err != nil {
		return nil, fmt.Errorf("soft delete student %s: %w", upstreamID, err)
	}
	return st, nil
}

// MarkStudentOrphans soft-deletes every live student whose last_seen_at
// predates before, returning the affected rows for audit emission. The scan
// is one indexed query on last_seen_at.
func (s *Store) MarkStudentOrphans(ctx context.Context, before, now time.Time) ([]*types.Student, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := store.FormatTime(before)
	rows, err := tx.QueryContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE deleted_at IS NULL AND last_seen_at < ?`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("scan student orphans: %w", err)
	}
	orphans, err := collectStudents(rows)
	if err != nil {
		return nil, err
	}
	if len(orphans) == 0 {
		return nil, tx.Commit()
	}

	ts := store.FormatTime(now)
	_, err = tx.ExecContext(ctx,
		`UPDATE students SET deleted_at = ?, updated_at = ? WHERE deleted_at IS NULL AND last_seen_at < ?`,
		ts, ts, cutoff)
	if err != nil {
		return nil, fmt.Errorf("mark student orphans: %w", err)
	}
	return orphans, tx.Commit()
}

// ListLiveStudents returns all non-deleted students.
func (s *Store) ListLiveStudents(ctx context.Context) ([]*types.Student, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE deleted_at IS NULL ORDER BY upstream_id`)
	if err != nil {
		return nil, fmt.Errorf("query live students: %w", err)
	}
	return collectStudents(rows)
}

func collectStudents(rows *sql.Rows) ([]*types.Student, error) {
	defer rows.Close()
	var out []*types.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanStudent(rows *sql.Rows) (*types.Student, error) {
	var st types.Student
	var middle, gradeLabel, studentNum, stateID, deletedAt sql.NullString
	var grade sql.NullInt64
	var createdAt, updatedAt, lastSeenAt string
	err := rows.Scan(&st.ID, &st.UpstreamID, &st.FirstName, &middle, &st.LastName,
		&grade, &gradeLabel, &studentNum, &stateID,
		&createdAt, &updatedAt, &lastSeenAt, &deletedAt)
	if err != nil {
		return nil, fmt.Errorf("scan student: %w", err)
	}
	st.MiddleName = middle.String
	st.GradeLabel = gradeLabel.String
	st.StudentNumber = studentNum.String
	st.StateID = stateID.String
	if grade.Valid {
		g := int(grade.Int64)
		st.Grade = &g
	}
	if st.CreatedAt, err = store.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if st.UpdatedAt, err = store.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	if st.LastSeenAt, err = store.ParseTime(lastSeenAt); err != nil {
		return nil, err
	}
	if st.DeletedAt, err = store.ParseTimePtr(deletedAt); err != nil {
		return nil, err
	}
	return &st, nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}
