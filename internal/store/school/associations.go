package school

import (
	"context"
	"fmt"

	"github.com/edubase/rostersync/internal/types"
)

// ReplaceTeacherLinks drops every teacher link for a section and writes the
// given set. Teacher links carry no user-editable state, so a wholesale
// rewrite is safe and simpler than diffing.
func (s *Store) ReplaceTeacherLinks(ctx context.Context, sectionID string, links []types.TeacherSection) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM teacher_sections WHERE section_id = ?`, sectionID); err != nil {
		return fmt.Errorf("clear teacher links: %w", err)
	}
	for _, l := range links {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO teacher_sections (teacher_id, section_id, is_primary) VALUES (?, ?, ?)`,
			l.TeacherID, sectionID, boolInt(l.IsPrimary)); err != nil {
			return fmt.Errorf("insert teacher link %s: %w", l.TeacherID, err)
		}
	}
	return tx.Commit()
}

// ListTeacherLinks returns the teacher links of a section.
func (s *Store) ListTeacherLinks(ctx context.Context, sectionID string) ([]types.TeacherSection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT teacher_id, section_id, is_primary FROM teacher_sections
		 WHERE section_id = ? ORDER BY teacher_id`, sectionID)
	if err != nil {
		return nil, fmt.Errorf("query teacher links: %w", err)
	}
	defer rows.Close()

	var out []types.TeacherSection
	for rows.Next() {
		var l types.TeacherSection
		var primary int
		if err := rows.Scan(&l.TeacherID, &l.SectionID, &primary); err != nil {
			return nil, fmt.Errorf("scan teacher link: %w", err)
		}
		l.IsPrimary = primary != 0
		out = append(out, l)
	}
	return out, rows.Err()
}

// StudentLink pairs an enrollment row with the student's upstream id so the
// associations reconciler can diff against the incoming id list without a
// second lookup.
type StudentLink struct {
	types.StudentSection
	StudentUpstreamID string
}

// ListStudentLinks returns the student enrollments of a section joined with
// each student's upstream id.
func (s *Store) ListStudentLinks(ctx context.Context, sectionID string) ([]StudentLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ss.student_id, ss.section_id, ss.off_campus, st.upstream_id
		 FROM student_sections ss
		 JOIN students st ON st.id = ss.student_id
		 WHERE ss.section_id = ? ORDER BY st.upstream_id`, sectionID)
	if err != nil {
		return nil, fmt.Errorf("query student links: %w", err)
	}
	defer rows.Close()

	var out []StudentLink
	for rows.Next() {
		var l StudentLink
		var offCampus int
		if err := rows.Scan(&l.StudentID, &l.SectionID, &offCampus, &l.StudentUpstreamID); err != nil {
			return nil, fmt.Errorf("scan student link: %w", err)
		}
		l.OffCampus = offCampus != 0
		out = append(out, l)
	}
	return out, rows.Err()
}

// InsertStudentLink adds one enrollment row.
func (s *Store) InsertStudentLink(ctx context.Context, l types.StudentSection) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO student_sections (student_id, section_id, off_campus) VALUES (?, ?, ?)`,
		l.StudentID, l.SectionID, boolInt(l.OffCampus))
	if err != nil {
		return fmt.Errorf("insert student link %s: %w", l.StudentID, err)
	}
	return nil
}

// DeleteStudentLink removes one enrollment row.
func (s *Store) DeleteStudentLink(ctx context.Context, studentID, sectionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM student_sections WHERE student_id = ? AND section_id = ?`,
		studentID, sectionID)
	if err != nil {
		return fmt.Errorf("delete student link %s: %w", studentID, err)
	}
	return nil
}
