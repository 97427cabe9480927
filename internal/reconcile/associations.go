package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/edubase/rostersync/internal/store"
	"github.com/edubase/rostersync/internal/types"
)

// AssociationsReconciler syncs a section's teacher and student links from
// the upstream membership id lists. Teacher links carry no user-editable
// state and are rewritten wholesale; student links are diffed so their rows
// (referenced by downstream tables) keep their identity.
type AssociationsReconciler struct {
	rc *Context
}

// MembershipResult counts the enrollment moves of one section sync.
type MembershipResult struct {
	StudentsAdded   int
	StudentsRemoved int
}

// Changed reports whether any student enrollment moved.
func (m MembershipResult) Changed() bool {
	return m.StudentsAdded > 0 || m.StudentsRemoved > 0
}

// SyncSection reconciles the section's membership against the incoming id
// lists. Ids that resolve to no local row are logged and skipped; the
// orchestrator runs people before sections precisely so this stays rare.
func (a *AssociationsReconciler) SyncSection(ctx context.Context, sec *types.Section, teacherIDs []string, primaryTeacherID string, studentIDs []string) (MembershipResult, error) {
	var res MembershipResult
	if err := a.syncTeachers(ctx, sec, teacherIDs, primaryTeacherID); err != nil {
		return res, err
	}
	res, err := a.syncStudents(ctx, sec, studentIDs)
	if err != nil {
		return res, err
	}
	if res.Changed() {
		if _, ok := a.rc.Protection.Lookup(sec.UpstreamID); ok {
			a.rc.Protection.MarkEnrollmentChanged()
		}
	}
	return res, nil
}

func (a *AssociationsReconciler) syncTeachers(ctx context.Context, sec *types.Section, teacherIDs []string, primaryID string) error {
	links := make([]types.TeacherSection, 0, len(teacherIDs))
	for _, upID := range teacherIDs {
		t, err := a.rc.Local.GetTeacherByUpstreamID(ctx, upID)
		if errors.Is(err, store.ErrNotFound) {
			a.rc.logger().Warn("section references unknown teacher, link skipped",
				"section", sec.UpstreamID, "teacher", upID)
			continue
		}
		if err != nil {
			return fmt.Errorf("resolve teacher %s: %w", upID, err)
		}
		links = append(links, types.TeacherSection{
			TeacherID: t.ID,
			SectionID: sec.ID,
			IsPrimary: upID == primaryID,
		})
	}
	return a.rc.Local.ReplaceTeacherLinks(ctx, sec.ID, links)
}

func (a *AssociationsReconciler) syncStudents(ctx context.Context, sec *types.Section, studentIDs []string) (MembershipResult, error) {
	var res MembershipResult

	existing, err := a.rc.Local.ListStudentLinks(ctx, sec.ID)
	if err != nil {
		return res, err
	}
	current := make(map[string]types.StudentSection, len(existing))
	for _, l := range existing {
		current[l.StudentUpstreamID] = l.StudentSection
	}

	incoming := make(map[string]bool, len(studentIDs))
	for _, upID := range studentIDs {
		incoming[upID] = true
		if _, ok := current[upID]; ok {
			continue
		}
		st, err := a.rc.Local.GetStudentByUpstreamID(ctx, upID)
		if errors.Is(err, store.ErrNotFound) {
			a.rc.logger().Warn("section references unknown student, enrollment skipped",
				"section", sec.UpstreamID, "student", upID)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("resolve student %s: %w", upID, err)
		}
		if err := a.rc.Local.InsertStudentLink(ctx, types.StudentSection{
			StudentID: st.ID,
			SectionID: sec.ID,
		}); err != nil {
			return res, err
		}
		res.StudentsAdded++
	}

	for upID, link := range current {
		if incoming[upID] {
			continue
		}
		if err := a.rc.Local.DeleteStudentLink(ctx, link.StudentID, sec.ID); err != nil {
			return res, err
		}
		res.StudentsRemoved++
	}
	return res, nil
}
