package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edubase/rostersync/internal/audit"
	"github.com/edubase/rostersync/internal/sis"
	"github.com/edubase/rostersync/internal/store"
	"github.com/edubase/rostersync/internal/types"
)

// TeacherReconciler applies upstream teacher records.
type TeacherReconciler struct {
	rc *Context
}

// UpsertOne reconciles one upstream teacher.
func (r *TeacherReconciler) UpsertOne(ctx context.Context, attempt *types.SyncAttempt, rec sis.TeacherRecord) (bool, error) {
	incoming := teacherFromRecord(rec)

	existing, err := r.rc.Local.GetTeacherByUpstreamID(ctx, rec.ID)
	if errors.Is(err, store.ErrNotFound) {
		now := r.rc.now()
		incoming.CreatedAt = now
		incoming.UpdatedAt = now
		incoming.LastSeenAt = attempt.StartedAt
		if err := r.rc.Local.InsertTeacher(ctx, incoming); err != nil {
			return false, err
		}
		r.rc.Tracker.TrackCreate(attempt.ID, types.KindTeacher, rec.ID, incoming.FullName, teacherCreateChanges(incoming))
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup teacher %s: %w", rec.ID, err)
	}

	changes := diffTeacher(existing, incoming)
	restored := existing.DeletedAt != nil
	if len(changes) == 0 && !restored {
		return false, r.rc.Local.TouchTeacherLastSeen(ctx, rec.ID, attempt.StartedAt)
	}
	if restored {
		changes = append(changes, audit.Change{
			Name: "deleted_at", Old: audit.Str(store.FormatTime(*existing.DeletedAt)),
		})
	}

	updated := applyTeacher(existing, incoming, changes)
	updated.UpdatedAt = r.rc.now()
	updated.LastSeenAt = attempt.StartedAt
	updated.DeletedAt = nil
	if err := r.rc.Local.UpdateTeacher(ctx, updated); err != nil {
		return false, err
	}
	r.rc.Tracker.TrackUpdate(attempt.ID, types.KindTeacher, rec.ID, updated.FullName, changes)
	return true, nil
}

// SoftDeleteByUpstreamID soft-deletes a live teacher. Already-deleted or
// unknown ids are a no-op.
func (r *TeacherReconciler) SoftDeleteByUpstreamID(ctx context.Context, attempt *types.SyncAttempt, upstreamID string) error {
	t, err := r.rc.Local.SoftDeleteTeacher(ctx, upstreamID, r.rc.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	r.rc.Tracker.TrackDelete(attempt.ID, types.KindTeacher, upstreamID, t.FullName)
	return nil
}

// DetectOrphans soft-deletes every live teacher not seen since before.
func (r *TeacherReconciler) DetectOrphans(ctx context.Context, attempt *types.SyncAttempt, before time.Time) (int, error) {
	orphans, err := r.rc.Local.MarkTeacherOrphans(ctx, before, r.rc.now())
	if err != nil {
		return 0, err
	}
	for _, t := range orphans {
		r.rc.Tracker.TrackOrphan(attempt.ID, types.KindTeacher, t.UpstreamID, t.FullName)
	}
	return len(orphans), nil
}

func teacherFromRecord(rec sis.TeacherRecord) *types.Teacher {
	first := strings.TrimSpace(rec.Name.First)
	last := strings.TrimSpace(rec.Name.Last)
	return &types.Teacher{
		UpstreamID:    rec.ID,
		FirstName:     first,
		LastName:      last,
		FullName:      displayName(first, last),
		StaffNumber:   strings.TrimSpace(rec.SISID),
		TeacherNumber: strings.TrimSpace(rec.TeacherNumber),
		Username:      strings.TrimSpace(rec.Username()),
	}
}

func diffTeacher(old, in *types.Teacher) []audit.Change {
	var changes []audit.Change
	strDiff(&changes, "first_name", old.FirstName, in.FirstName)
	strDiff(&changes, "last_name", old.LastName, in.LastName)
	strDiff(&changes, "full_name", old.FullName, in.FullName)
	strDiff(&changes, "staff_number", old.StaffNumber, in.StaffNumber)
	strDiff(&changes, "teacher_number", old.TeacherNumber, in.TeacherNumber)
	strDiff(&changes, "username", old.Username, in.Username)
	return changes
}

func applyTeacher(old, in *types.Teacher, changes []audit.Change) *types.Teacher {
	updated := *old
	for _, c := range changes {
		switch c.Name {
		case "first_name":
			updated.FirstName = in.FirstName
		case "last_name":
			updated.LastName = in.LastName
		case "full_name":
			updated.FullName = in.FullName
		case "staff_number":
			updated.StaffNumber = in.StaffNumber
		case "teacher_number":
			updated.TeacherNumber = in.TeacherNumber
		case "username":
			updated.Username = in.Username
		}
	}
	return &updated
}

func teacherCreateChanges(t *types.Teacher) []audit.Change {
	var changes []audit.Change
	createStr(&changes, "first_name", t.FirstName)
	createStr(&changes, "last_name", t.LastName)
	createStr(&changes, "full_name", t.FullName)
	createStr(&changes, "staff_number", t.StaffNumber)
	createStr(&changes, "teacher_number", t.TeacherNumber)
	createStr(&changes, "username", t.Username)
	return changes
}
