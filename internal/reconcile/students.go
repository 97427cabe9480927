package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edubase/rostersync/internal/audit"
	"github.com/edubase/rostersync/internal/normalize"
	"github.com/edubase/rostersync/internal/sis"
	"github.com/edubase/rostersync/internal/store"
	"github.com/edubase/rostersync/internal/types"
)

// StudentReconciler applies upstream student records.
type StudentReconciler struct {
	rc *Context
}

// UpsertOne reconciles one upstream student. Returns true when a row was
// created or updated; a record matching the local row only bumps
// last_seen_at and returns false.
func (r *StudentReconciler) UpsertOne(ctx context.Context, attempt *types.SyncAttempt, rec sis.StudentRecord) (bool, error) {
	incoming := studentFromRecord(rec)
	display := displayName(incoming.FirstName, incoming.LastName)

	existing, err := r.rc.Local.GetStudentByUpstreamID(ctx, rec.ID)
	if errors.Is(err, store.ErrNotFound) {
		now := r.rc.now()
		incoming.CreatedAt = now
		incoming.UpdatedAt = now
		incoming.LastSeenAt = attempt.StartedAt
		if err := r.rc.Local.InsertStudent(ctx, incoming); err != nil {
			return false, err
		}
		r.rc.Tracker.TrackCreate(attempt.ID, types.KindStudent, rec.ID, display, studentCreateChanges(incoming))
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup student %s: %w", rec.ID, err)
	}

	changes := diffStudent(existing, incoming)
	restored := existing.DeletedAt != nil
	if len(changes) == 0 && !restored {
		return false, r.rc.Local.TouchStudentLastSeen(ctx, rec.ID, attempt.StartedAt)
	}
	if restored {
		changes = append(changes, audit.Change{
			Name: "deleted_at", Old: audit.Str(store.FormatTime(*existing.DeletedAt)),
		})
	}

	updated := applyStudent(existing, incoming, changes)
	updated.UpdatedAt = r.rc.now()
	updated.LastSeenAt = attempt.StartedAt
	updated.DeletedAt = nil
	if err := r.rc.Local.UpdateStudent(ctx, updated); err != nil {
		return false, err
	}
	r.rc.Tracker.TrackUpdate(attempt.ID, types.KindStudent, rec.ID, display, changes)
	return true, nil
}

// SoftDeleteByUpstreamID soft-deletes a live student. Already-deleted or
// unknown ids are a no-op.
func (r *StudentReconciler) SoftDeleteByUpstreamID(ctx context.Context, attempt *types.SyncAttempt, upstreamID string) error {
	st, err := r.rc.Local.SoftDeleteStudent(ctx, upstreamID, r.rc.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	r.rc.Tracker.TrackDelete(attempt.ID, types.KindStudent, upstreamID, displayName(st.FirstName, st.LastName))
	return nil
}

// DetectOrphans soft-deletes every live student not seen since before.
// Full-sync only; an incremental run cannot observe absence.
func (r *StudentReconciler) DetectOrphans(ctx context.Context, attempt *types.SyncAttempt, before time.Time) (int, error) {
	orphans, err := r.rc.Local.MarkStudentOrphans(ctx, before, r.rc.now())
	if err != nil {
		return 0, err
	}
	for _, st := range orphans {
		r.rc.Tracker.TrackOrphan(attempt.ID, types.KindStudent, st.UpstreamID, displayName(st.FirstName, st.LastName))
	}
	return len(orphans), nil
}

func studentFromRecord(rec sis.StudentRecord) *types.Student {
	gradeRaw := strings.TrimSpace(rec.Grade)
	return &types.Student{
		UpstreamID:    rec.ID,
		FirstName:     strings.TrimSpace(rec.Name.First),
		MiddleName:    strings.TrimSpace(rec.Name.Middle),
		LastName:      strings.TrimSpace(rec.Name.Last),
		Grade:         normalize.ParseGrade(rec.Grade),
		GradeLabel:    gradeRaw,
		StudentNumber: strings.TrimSpace(rec.StudentNumber),
		StateID:       strings.TrimSpace(rec.SISID),
	}
}

func diffStudent(old, in *types.Student) []audit.Change {
	var changes []audit.Change
	strDiff(&changes, "first_name", old.FirstName, in.FirstName)
	strDiff(&changes, "middle_name", old.MiddleName, in.MiddleName)
	strDiff(&changes, "last_name", old.LastName, in.LastName)
	strDiff(&changes, "grade_label", old.GradeLabel, in.GradeLabel)
	strDiff(&changes, "student_number", old.StudentNumber, in.StudentNumber)
	strDiff(&changes, "state_id", old.StateID, in.StateID)
	if !gradeEqual(old.Grade, in.Grade) {
		changes = append(changes, audit.Change{
			Name: "grade", Old: intStr(old.Grade), New: intStr(in.Grade),
		})
	}
	return changes
}

// applyStudent merges incoming values over the existing row, field by
// field, only where the diff found a change. Unchanged fields keep their
// stored form (the diff is case- and blank-insensitive).
func applyStudent(old, in *types.Student, changes []audit.Change) *types.Student {
	updated := *old
	for _, c := range changes {
		switch c.Name {
		case "first_name":
			updated.FirstName = in.FirstName
		case "middle_name":
			updated.MiddleName = in.MiddleName
		case "last_name":
			updated.LastName = in.LastName
		case "grade":
			updated.Grade = in.Grade
		case "grade_label":
			updated.GradeLabel = in.GradeLabel
		case "student_number":
			updated.StudentNumber = in.StudentNumber
		case "state_id":
			updated.StateID = in.StateID
		}
	}
	return &updated
}

func studentCreateChanges(st *types.Student) []audit.Change {
	var changes []audit.Change
	createStr(&changes, "first_name", st.FirstName)
	createStr(&changes, "middle_name", st.MiddleName)
	createStr(&changes, "last_name", st.LastName)
	createStr(&changes, "grade_label", st.GradeLabel)
	createStr(&changes, "student_number", st.StudentNumber)
	createStr(&changes, "state_id", st.StateID)
	if st.Grade != nil {
		changes = append(changes, audit.Change{Name: "grade", New: intStr(st.Grade)})
	}
	return changes
}

// strDiff appends a change when the blank-insensitive comparison differs.
func strDiff(changes *[]audit.Change, name, old, in string) {
	if normalize.StringsEqual(old, in) {
		return
	}
	c := audit.Change{Name: name}
	if !normalize.Blank(old) {
		c.Old = audit.Str(old)
	}
	if !normalize.Blank(in) {
		c.New = audit.Str(in)
	}
	*changes = append(*changes, c)
}

// createStr appends a null-to-value change for non-blank fields.
func createStr(changes *[]audit.Change, name, val string) {
	if normalize.Blank(val) {
		return
	}
	*changes = append(*changes, audit.Change{Name: name, New: audit.Str(val)})
}

func intStr(p *int) *string {
	if p == nil {
		return nil
	}
	return audit.Str(fmt.Sprintf("%d", *p))
}

func displayName(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
