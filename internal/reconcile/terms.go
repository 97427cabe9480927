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

// TermReconciler applies upstream term records. Manual terms (created by
// school staff) share the table but are never orphaned by sync.
type TermReconciler struct {
	rc *Context
}

// UpsertOne reconciles one upstream term.
func (r *TermReconciler) UpsertOne(ctx context.Context, attempt *types.SyncAttempt, rec sis.TermRecord) (bool, error) {
	incoming := r.termFromRecord(rec)

	existing, err := r.rc.Local.GetTermByUpstreamID(ctx, rec.ID)
	if errors.Is(err, store.ErrNotFound) {
		now := r.rc.now()
		incoming.CreatedAt = now
		incoming.UpdatedAt = now
		incoming.LastSeenAt = attempt.StartedAt
		if err := r.rc.Local.InsertTerm(ctx, incoming); err != nil {
			return false, err
		}
		r.rc.Tracker.TrackCreate(attempt.ID, types.KindTerm, rec.ID, incoming.Name, termCreateChanges(incoming))
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup term %s: %w", rec.ID, err)
	}

	changes := diffTerm(existing, incoming)
	restored := existing.DeletedAt != nil
	if len(changes) == 0 && !restored {
		return false, r.rc.Local.TouchTermLastSeen(ctx, rec.ID, attempt.StartedAt)
	}
	if restored {
		changes = append(changes, audit.Change{
			Name: "deleted_at", Old: audit.Str(store.FormatTime(*existing.DeletedAt)),
		})
	}

	updated := applyTerm(existing, incoming, changes)
	updated.UpdatedAt = r.rc.now()
	updated.LastSeenAt = attempt.StartedAt
	updated.DeletedAt = nil
	if err := r.rc.Local.UpdateTerm(ctx, updated); err != nil {
		return false, err
	}
	r.rc.Tracker.TrackUpdate(attempt.ID, types.KindTerm, rec.ID, updated.Name, changes)
	return true, nil
}

// SoftDeleteByUpstreamID soft-deletes a live term. Already-deleted or
// unknown ids are a no-op.
func (r *TermReconciler) SoftDeleteByUpstreamID(ctx context.Context, attempt *types.SyncAttempt, upstreamID string) error {
	t, err := r.rc.Local.SoftDeleteTerm(ctx, upstreamID, r.rc.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	r.rc.Tracker.TrackDelete(attempt.ID, types.KindTerm, upstreamID, t.Name)
	return nil
}

// DetectOrphans soft-deletes every non-manual live term not seen since
// before. The store-level scan already excludes manual terms.
func (r *TermReconciler) DetectOrphans(ctx context.Context, attempt *types.SyncAttempt, before time.Time) (int, error) {
	orphans, err := r.rc.Local.MarkTermOrphans(ctx, before, r.rc.now())
	if err != nil {
		return 0, err
	}
	for _, t := range orphans {
		r.rc.Tracker.TrackOrphan(attempt.ID, types.KindTerm, t.UpstreamID, t.Name)
	}
	return len(orphans), nil
}

// termFromRecord parses upstream date strings; unparseable dates become
// nil and are logged rather than failing the record.
func (r *TermReconciler) termFromRecord(rec sis.TermRecord) *types.Term {
	return &types.Term{
		UpstreamID:         rec.ID,
		DistrictUpstreamID: strings.TrimSpace(rec.District),
		Name:               strings.TrimSpace(rec.Name),
		StartDate:          r.parseDate(rec.ID, "startDate", rec.StartDate),
		EndDate:            r.parseDate(rec.ID, "endDate", rec.EndDate),
	}
}

func (r *TermReconciler) parseDate(termID, field, raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	r.rc.logger().Warn("unparseable term date ignored",
		"term", termID, "field", field, "value", raw)
	return nil
}

func diffTerm(old, in *types.Term) []audit.Change {
	var changes []audit.Change
	strDiff(&changes, "name", old.Name, in.Name)
	strDiff(&changes, "district", old.DistrictUpstreamID, in.DistrictUpstreamID)
	if !dateEqual(old.StartDate, in.StartDate) {
		changes = append(changes, audit.Change{
			Name: "start_date", Old: dateStr(old.StartDate), New: dateStr(in.StartDate),
		})
	}
	if !dateEqual(old.EndDate, in.EndDate) {
		changes = append(changes, audit.Change{
			Name: "end_date", Old: dateStr(old.EndDate), New: dateStr(in.EndDate),
		})
	}
	return changes
}

func applyTerm(old, in *types.Term, changes []audit.Change) *types.Term {
	updated := *old
	for _, c := range changes {
		switch c.Name {
		case "name":
			updated.Name = in.Name
		case "district":
			updated.DistrictUpstreamID = in.DistrictUpstreamID
		case "start_date":
			updated.StartDate = in.StartDate
		case "end_date":
			updated.EndDate = in.EndDate
		}
	}
	return &updated
}

func termCreateChanges(t *types.Term) []audit.Change {
	var changes []audit.Change
	createStr(&changes, "name", t.Name)
	createStr(&changes, "district", t.DistrictUpstreamID)
	if t.StartDate != nil {
		changes = append(changes, audit.Change{Name: "start_date", New: dateStr(t.StartDate)})
	}
	if t.EndDate != nil {
		changes = append(changes, audit.Change{Name: "end_date", New: dateStr(t.EndDate)})
	}
	return changes
}

func dateStr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	return audit.Str(t.Format("2006-01-02"))
}
