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

// SectionReconciler applies upstream section records, with the protection
// gating rules wired in: renames of protected sections warn but apply,
// disappearance of protected sections warns and is skipped.
type SectionReconciler struct {
	rc *Context
}

// AbsenceResult summarizes a full-sync absence pass over sections.
type AbsenceResult struct {
	Orphaned         int
	SkippedProtected int
}

// UpsertOne reconciles one upstream section. Membership is handled
// separately by the associations reconciler.
func (r *SectionReconciler) UpsertOne(ctx context.Context, attempt *types.SyncAttempt, rec sis.SectionRecord) (bool, error) {
	incoming := sectionFromRecord(rec)

	existing, err := r.rc.Local.GetSectionByUpstreamID(ctx, rec.ID)
	if errors.Is(err, store.ErrNotFound) {
		now := r.rc.now()
		incoming.CreatedAt = now
		incoming.UpdatedAt = now
		incoming.LastSeenAt = attempt.StartedAt
		if err := r.rc.Local.InsertSection(ctx, incoming); err != nil {
			return false, err
		}
		r.rc.Tracker.TrackCreate(attempt.ID, types.KindSection, rec.ID, incoming.Name, sectionCreateChanges(incoming))
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup section %s: %w", rec.ID, err)
	}

	changes := diffSection(existing, incoming)
	restored := existing.DeletedAt != nil
	if len(changes) == 0 && !restored {
		return false, r.rc.Local.TouchSectionLastSeen(ctx, rec.ID, attempt.StartedAt)
	}
	if restored {
		changes = append(changes, audit.Change{
			Name: "deleted_at", Old: audit.Str(store.FormatTime(*existing.DeletedAt)),
		})
	}

	if nameChanged(changes) {
		if ref, ok := r.rc.Protection.Lookup(rec.ID); ok {
			r.warnProtected(ctx, attempt, types.WarnProtectedSectionModified, ref,
				fmt.Sprintf("protected section %q renamed to %q", existing.Name, incoming.Name))
		}
	}

	updated := applySection(existing, incoming, changes)
	updated.UpdatedAt = r.rc.now()
	updated.LastSeenAt = attempt.StartedAt
	updated.DeletedAt = nil
	if err := r.rc.Local.UpdateSection(ctx, updated); err != nil {
		return false, err
	}
	r.rc.Tracker.TrackUpdate(attempt.ID, types.KindSection, rec.ID, updated.Name, changes)
	return true, nil
}

// SoftDeleteByUpstreamID soft-deletes a live section. Protected sections
// warn and survive.
func (r *SectionReconciler) SoftDeleteByUpstreamID(ctx context.Context, attempt *types.SyncAttempt, upstreamID string) (skippedProtected bool, err error) {
	if ref, ok := r.rc.Protection.Lookup(upstreamID); ok {
		r.warnProtected(ctx, attempt, types.WarnProtectedSectionMissing, ref,
			fmt.Sprintf("upstream deleted protected section %q; local row kept", ref.DisplayName))
		return true, nil
	}
	sec, err := r.rc.Local.SoftDeleteSection(ctx, upstreamID, r.rc.now())
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	r.rc.Tracker.TrackDelete(attempt.ID, types.KindSection, upstreamID, sec.Name)
	return false, nil
}

// DetectAbsent soft-deletes live sections not seen since before, except
// protected ones, which raise a warning and stay. Full-sync only.
func (r *SectionReconciler) DetectAbsent(ctx context.Context, attempt *types.SyncAttempt, before time.Time) (AbsenceResult, error) {
	var res AbsenceResult
	missing, err := r.rc.Local.ListSectionsNotSeenSince(ctx, before)
	if err != nil {
		return res, err
	}
	for _, sec := range missing {
		if ref, ok := r.rc.Protection.Lookup(sec.UpstreamID); ok {
			r.warnProtected(ctx, attempt, types.WarnProtectedSectionMissing, ref,
				fmt.Sprintf("protected section %q absent from upstream; local row kept", sec.Name))
			res.SkippedProtected++
			continue
		}
		if _, err := r.rc.Local.SoftDeleteSection(ctx, sec.UpstreamID, r.rc.now()); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return res, err
		}
		r.rc.Tracker.TrackOrphan(attempt.ID, types.KindSection, sec.UpstreamID, sec.Name)
		res.Orphaned++
	}
	return res, nil
}

// warnProtected writes the warning row; failures log and are swallowed so
// advisory bookkeeping cannot fail a sync.
func (r *SectionReconciler) warnProtected(ctx context.Context, attempt *types.SyncAttempt, kind types.WarningKind, ref types.ProtectedRef, msg string) {
	_, err := r.rc.Control.InsertWarning(ctx, types.Warning{
		AttemptID:         attempt.ID,
		Kind:              kind,
		EntityKind:        types.KindSection,
		UpstreamEntityID:  ref.SectionUpstreamID,
		DisplayName:       ref.DisplayName,
		Message:           msg,
		AffectedProtected: affectedBlob(ref),
		AffectedCount:     1,
		CreatedAt:         r.rc.now(),
	})
	if err != nil {
		r.rc.logger().Warn("failed to record protection warning",
			"school", r.rc.School.ID, "section", ref.SectionUpstreamID, "error", err)
	}
}

func nameChanged(changes []audit.Change) bool {
	for _, c := range changes {
		if c.Name == "name" {
			return true
		}
	}
	return false
}

func sectionFromRecord(rec sis.SectionRecord) *types.Section {
	return &types.Section{
		UpstreamID:     rec.ID,
		Name:           strings.TrimSpace(rec.Name),
		Period:         strings.TrimSpace(rec.Period),
		Subject:        strings.TrimSpace(rec.Subject),
		TermUpstreamID: strings.TrimSpace(rec.TermRef),
	}
}

func diffSection(old, in *types.Section) []audit.Change {
	var changes []audit.Change
	strDiff(&changes, "name", old.Name, in.Name)
	strDiff(&changes, "period", old.Period, in.Period)
	strDiff(&changes, "subject", old.Subject, in.Subject)
	if !normalize.StringsEqual(old.TermUpstreamID, in.TermUpstreamID) {
		c := audit.Change{Name: "term"}
		if !normalize.Blank(old.TermUpstreamID) {
			c.Old = audit.Str(old.TermUpstreamID)
		}
		if !normalize.Blank(in.TermUpstreamID) {
			c.New = audit.Str(in.TermUpstreamID)
		}
		changes = append(changes, c)
	}
	return changes
}

func applySection(old, in *types.Section, changes []audit.Change) *types.Section {
	updated := *old
	for _, c := range changes {
		switch c.Name {
		case "name":
			updated.Name = in.Name
		case "period":
			updated.Period = in.Period
		case "subject":
			updated.Subject = in.Subject
		case "term":
			updated.TermUpstreamID = in.TermUpstreamID
		}
	}
	return &updated
}

func sectionCreateChanges(sec *types.Section) []audit.Change {
	var changes []audit.Change
	createStr(&changes, "name", sec.Name)
	createStr(&changes, "period", sec.Period)
	createStr(&changes, "subject", sec.Subject)
	createStr(&changes, "term", sec.TermUpstreamID)
	return changes
}
