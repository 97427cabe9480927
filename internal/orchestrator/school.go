package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edubase/rostersync/internal/audit"
	"github.com/edubase/rostersync/internal/events"
	"github.com/edubase/rostersync/internal/reconcile"
	"github.com/edubase/rostersync/internal/store"
	"github.com/edubase/rostersync/internal/types"
)

// SyncSchool syncs one school end to end. All failures are captured in the
// returned result rather than propagated; callers inspect result.Success.
func (o *Orchestrator) SyncSchool(ctx context.Context, schoolID string, force bool) *types.SyncResult {
	runStart := o.now()

	sch, err := o.Control.GetSchool(ctx, schoolID)
	if err != nil {
		r := types.NewSyncResult(types.School{ID: schoolID}, types.ModeFull, runStart)
		return failResult(r, o.now(), fmt.Errorf("load school: %w", err))
	}

	mode, err := o.decideMode(ctx, sch, force)
	if err != nil {
		r := types.NewSyncResult(sch, types.ModeFull, runStart)
		return failResult(r, o.now(), err)
	}
	result := types.NewSyncResult(sch, mode, runStart)

	if o.Opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Opts.AttemptTimeout)
		defer cancel()
	}

	handle, err := o.Factory.OpenSchoolStore(ctx, sch)
	if err != nil {
		return failResult(result, o.now(), err)
	}
	defer handle.Close()

	protection, err := reconcile.LoadProtection(ctx, handle.Store)
	if err != nil {
		return failResult(result, o.now(), err)
	}
	rc := &reconcile.Context{
		School:     sch,
		Local:      handle.Store,
		Control:    o.Control,
		Tracker:    audit.New(o.logger()),
		Protection: protection,
		Logger:     o.logger(),
		RunStart:   runStart,
		Clock:      o.Clock,
	}

	switch mode {
	case types.ModeFull:
		err = o.runFull(ctx, rc, sch, result)
	default:
		err = o.runIncremental(ctx, rc, sch, result)
	}

	o.cleanupSessions(ctx, sch)

	result.EndedAt = o.now()
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}
	result.Success = true
	return result
}

// decideMode picks full sync when forced, when the school is flagged, or
// when no successful attempt exists yet.
func (o *Orchestrator) decideMode(ctx context.Context, sch types.School, force bool) (types.SyncMode, error) {
	if force || sch.RequiresFullSync {
		return types.ModeFull, nil
	}
	ok, err := o.Control.HasSuccessfulAttempt(ctx, sch.ID)
	if err != nil {
		return "", fmt.Errorf("check sync history: %w", err)
	}
	if !ok {
		return types.ModeFull, nil
	}
	return types.ModeIncremental, nil
}

// runFull executes the full-sync phase sequence: students, teachers,
// sections (with membership and absence detection), terms, the orphan
// pass, then the baseline attempt that seeds the event cursor.
func (o *Orchestrator) runFull(ctx context.Context, rc *reconcile.Context, sch types.School, result *types.SyncResult) error {
	studentAtt, err := o.studentPhase(ctx, rc, sch, result, types.ModeFull, nil)
	if err != nil {
		return err
	}
	teacherAtt, err := o.teacherPhase(ctx, rc, sch, result, types.ModeFull, nil)
	if err != nil {
		return err
	}
	sectionAtt, err := o.sectionPhase(ctx, rc, sch, result)
	if err != nil {
		return err
	}
	termAtt, err := o.termPhase(ctx, rc, sch, result)
	if err != nil {
		return err
	}

	// Orphan pass. The cutoff is the run start, so anything touched by any
	// phase of this run survives. Sections were already handled by absence
	// detection inside the section phase.
	n, err := rc.Students().DetectOrphans(ctx, studentAtt, rc.RunStart)
	if err != nil {
		return fmt.Errorf("student orphan pass: %w", err)
	}
	result.Counts[types.KindStudent].Deleted += n

	n, err = rc.Teachers().DetectOrphans(ctx, teacherAtt, rc.RunStart)
	if err != nil {
		return fmt.Errorf("teacher orphan pass: %w", err)
	}
	result.Counts[types.KindTeacher].Deleted += n

	n, err = rc.Terms().DetectOrphans(ctx, termAtt, rc.RunStart)
	if err != nil {
		return fmt.Errorf("term orphan pass: %w", err)
	}
	result.Counts[types.KindTerm].Deleted += n

	rc.Tracker.Flush(ctx, o.Control)

	if err := o.writeBaseline(ctx, sch, result, rc.RunStart); err != nil {
		return err
	}

	if rc.Protection.EnrollmentChanged() || result.Counts[types.KindSection].Updated > 0 {
		o.fireDownstream(ctx, rc, sch, result, sectionAtt.ID)
	}

	if err := o.Control.SetRequiresFullSync(ctx, sch.ID, false); err != nil {
		o.logger().Warn("failed to clear requires-full-sync flag", "school", sch.ID, "error", err)
	}
	return nil
}

// runIncremental replays events after the stored cursor. Without a cursor
// it falls back to a time-filtered people reconcile (or a full sync when
// configured to promote).
func (o *Orchestrator) runIncremental(ctx context.Context, rc *reconcile.Context, sch types.School, result *types.SyncResult) error {
	prior, err := o.Control.LatestCursorAttempt(ctx, sch.ID)
	if errors.Is(err, store.ErrNotFound) {
		if o.Opts.FullOnMissingCursor {
			o.logger().Info("no event cursor, promoting to full sync", "school", sch.ID)
			result.Mode = types.ModeFull
			return o.runFull(ctx, rc, sch, result)
		}
		return o.runFallback(ctx, rc, sch, result)
	}
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}

	att, err := o.Control.BeginAttempt(ctx, sch.ID, types.KindEvent, types.ModeIncremental, o.now())
	if err != nil {
		return err
	}

	evs, err := o.SIS.ListEvents(ctx, sch.UpstreamID, prior.Cursor, o.Opts.eventLimit())
	if err != nil {
		o.finishFailed(ctx, att, fmt.Errorf("fetch events: %w", err))
		return fmt.Errorf("fetch events: %w", err)
	}

	batch, procErr := events.New(rc).ProcessBatch(ctx, att, evs)
	result.Events = &types.EventsSummary{
		Fetched:   batch.Fetched,
		Processed: batch.Processed,
		Updated:   batch.Updated,
		Failed:    batch.Failed,
		Skipped:   batch.Skipped,
	}
	result.SkippedProtected += batch.SkippedProtected
	rc.Tracker.Flush(ctx, o.Control)

	if procErr != nil {
		// Cancellation mid-batch. Keep whatever cursor progress was made.
		if id, at := batch.Cursor(); id != "" {
			att.Cursor, att.CursorTimestamp = id, at
		} else {
			att.Cursor, att.CursorTimestamp = prior.Cursor, prior.CursorTimestamp
		}
		o.finishFailed(ctx, att, fmt.Errorf("cancelled: %w", procErr))
		return procErr
	}

	ended := o.now()
	att.EndedAt = &ended
	att.RecordsProcessed = batch.Processed
	att.RecordsUpdated = batch.Updated
	att.RecordsFailed = batch.Failed
	att.Summary = summaryBlob(result.Counts)

	switch {
	case batch.LastSuccessID != "":
		att.Status = types.StatusSuccess
		att.Cursor = batch.LastSuccessID
		att.CursorTimestamp = batch.LastSuccessAt
		att.LastKnownSyncPoint = &att.StartedAt
		if batch.Failed > 0 {
			att.ErrorMessage = joinErrors(batch.Errors)
		}
	case batch.Fetched > 0:
		// Nothing succeeded; advance past the poison tail.
		att.Status = types.StatusPartial
		att.Cursor = batch.LastFetchedID
		att.CursorTimestamp = batch.LastFetchedAt
		att.LastKnownSyncPoint = prior.LastKnownSyncPoint
		att.ErrorMessage = joinErrors(batch.Errors)
	default:
		// Quiet upstream; carry the cursor forward unchanged.
		att.Status = types.StatusSuccess
		att.Cursor = prior.Cursor
		att.CursorTimestamp = prior.CursorTimestamp
		att.LastKnownSyncPoint = &att.StartedAt
	}
	result.Events.Cursor = att.Cursor

	if err := o.Control.FinishAttempt(ctx, att); err != nil {
		return fmt.Errorf("finish event attempt: %w", err)
	}

	if rc.Protection.EnrollmentChanged() {
		o.fireDownstream(ctx, rc, sch, result, att.ID)
	}
	return nil
}

// runFallback reconciles students and teachers modified since the last
// known sync point. It cannot observe absence, so there is no orphan pass;
// a fresh baseline restores normal event replay afterwards.
func (o *Orchestrator) runFallback(ctx context.Context, rc *reconcile.Context, sch types.School, result *types.SyncResult) error {
	since, err := o.Control.LatestSyncPoint(ctx, sch.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load sync point: %w", err)
	}
	o.logger().Info("no event cursor, running time-filtered reconcile",
		"school", sch.ID, "since", since)

	if _, err := o.studentPhase(ctx, rc, sch, result, types.ModeIncremental, since); err != nil {
		return err
	}
	if _, err := o.teacherPhase(ctx, rc, sch, result, types.ModeIncremental, since); err != nil {
		return err
	}
	rc.Tracker.Flush(ctx, o.Control)
	return o.writeBaseline(ctx, sch, result, rc.RunStart)
}

func (o *Orchestrator) studentPhase(ctx context.Context, rc *reconcile.Context, sch types.School, result *types.SyncResult, mode types.SyncMode, since *time.Time) (*types.SyncAttempt, error) {
	counts := result.Counts[types.KindStudent]
	return o.runPhase(ctx, sch, types.KindStudent, mode, counts, func(ctx context.Context, att *types.SyncAttempt) error {
		recs, err := o.SIS.ListStudents(ctx, sch.UpstreamID, since)
		if err != nil {
			return fmt.Errorf("list students: %w", err)
		}
		r := rc.Students()
		for i, rec := range recs {
			if err := ctx.Err(); err != nil {
				return err
			}
			counts.Processed++
			changed, err := r.UpsertOne(ctx, att, rec)
			if err != nil {
				counts.Failed++
				o.logger().Warn("student upsert failed", "school", sch.ID, "student", rec.ID, "error", err)
				continue
			}
			if changed {
				counts.Updated++
			}
			if (i+1)%progressEvery == 0 {
				o.report(sch, types.KindStudent, "syncing students", i+1, len(recs))
			}
		}
		o.report(sch, types.KindStudent, "students complete", len(recs), len(recs))
		return nil
	})
}

func (o *Orchestrator) teacherPhase(ctx context.Context, rc *reconcile.Context, sch types.School, result *types.SyncResult, mode types.SyncMode, since *time.Time) (*types.SyncAttempt, error) {
	counts := result.Counts[types.KindTeacher]
	return o.runPhase(ctx, sch, types.KindTeacher, mode, counts, func(ctx context.Context, att *types.SyncAttempt) error {
		recs, err := o.SIS.ListTeachers(ctx, sch.UpstreamID, since)
		if err != nil {
			return fmt.Errorf("list teachers: %w", err)
		}
		r := rc.Teachers()
		for i, rec := range recs {
			if err := ctx.Err(); err != nil {
				return err
			}
			counts.Processed++
			changed, err := r.UpsertOne(ctx, att, rec)
			if err != nil {
				counts.Failed++
				o.logger().Warn("teacher upsert failed", "school", sch.ID, "teacher", rec.ID, "error", err)
				continue
			}
			if changed {
				counts.Updated++
			}
			if (i+1)%progressEvery == 0 {
				o.report(sch, types.KindTeacher, "syncing teachers", i+1, len(recs))
			}
		}
		o.report(sch, types.KindTeacher, "teachers complete", len(recs), len(recs))
		return nil
	})
}

// sectionPhase reconciles sections with their membership, then detects
// absent sections, gated by protection.
func (o *Orchestrator) sectionPhase(ctx context.Context, rc *reconcile.Context, sch types.School, result *types.SyncResult) (*types.SyncAttempt, error) {
	counts := result.Counts[types.KindSection]
	return o.runPhase(ctx, sch, types.KindSection, types.ModeFull, counts, func(ctx context.Context, att *types.SyncAttempt) error {
		recs, err := o.SIS.ListSections(ctx, sch.UpstreamID, nil)
		if err != nil {
			return fmt.Errorf("list sections: %w", err)
		}
		secs := rc.Sections()
		assoc := rc.Associations()
		for i, rec := range recs {
			if err := ctx.Err(); err != nil {
				return err
			}
			counts.Processed++
			changed, err := secs.UpsertOne(ctx, att, rec)
			if err != nil {
				counts.Failed++
				o.logger().Warn("section upsert failed", "school", sch.ID, "section", rec.ID, "error", err)
				continue
			}
			sec, err := rc.Local.GetSectionByUpstreamID(ctx, rec.ID)
			if err != nil {
				counts.Failed++
				continue
			}
			membership, err := assoc.SyncSection(ctx, sec, rec.Teachers, rec.PrimaryTeacher, rec.Students)
			if err != nil {
				counts.Failed++
				o.logger().Warn("section membership sync failed", "school", sch.ID, "section", rec.ID, "error", err)
				continue
			}
			if changed || membership.Changed() {
				counts.Updated++
			}
			if (i+1)%progressEvery == 0 {
				o.report(sch, types.KindSection, "syncing sections", i+1, len(recs))
			}
		}

		absent, err := secs.DetectAbsent(ctx, att, rc.RunStart)
		if err != nil {
			return fmt.Errorf("section absence pass: %w", err)
		}
		counts.Deleted += absent.Orphaned
		result.SkippedProtected += absent.SkippedProtected
		o.report(sch, types.KindSection, "sections complete", len(recs), len(recs))
		return nil
	})
}

func (o *Orchestrator) termPhase(ctx context.Context, rc *reconcile.Context, sch types.School, result *types.SyncResult) (*types.SyncAttempt, error) {
	counts := result.Counts[types.KindTerm]
	return o.runPhase(ctx, sch, types.KindTerm, types.ModeFull, counts, func(ctx context.Context, att *types.SyncAttempt) error {
		recs, err := o.SIS.ListTerms(ctx, sch.UpstreamID, nil)
		if err != nil {
			return fmt.Errorf("list terms: %w", err)
		}
		r := rc.Terms()
		for i, rec := range recs {
			if err := ctx.Err(); err != nil {
				return err
			}
			counts.Processed++
			changed, err := r.UpsertOne(ctx, att, rec)
			if err != nil {
				counts.Failed++
				o.logger().Warn("term upsert failed", "school", sch.ID, "term", rec.ID, "error", err)
				continue
			}
			if changed {
				counts.Updated++
			}
			if (i+1)%progressEvery == 0 {
				o.report(sch, types.KindTerm, "syncing terms", i+1, len(recs))
			}
		}
		o.report(sch, types.KindTerm, "terms complete", len(recs), len(recs))
		return nil
	})
}

// runPhase wraps one attempt lifecycle around a phase body: insert the
// InProgress row, run the body, write the terminal row exactly once.
func (o *Orchestrator) runPhase(ctx context.Context, sch types.School, kind types.EntityKind, mode types.SyncMode, counts *types.KindCounts, body func(ctx context.Context, att *types.SyncAttempt) error) (*types.SyncAttempt, error) {
	att, err := o.Control.BeginAttempt(ctx, sch.ID, kind, mode, o.now())
	if err != nil {
		return nil, err
	}

	phaseErr := body(ctx, att)

	ended := o.now()
	att.EndedAt = &ended
	att.RecordsProcessed = counts.Processed
	att.RecordsUpdated = counts.Updated
	att.RecordsFailed = counts.Failed
	att.Summary = summaryBlob(map[types.EntityKind]*types.KindCounts{kind: counts})
	switch {
	case phaseErr != nil:
		att.Status = types.StatusFailed
		att.ErrorMessage = cancelMessage(phaseErr)
	case counts.Failed > 0:
		att.Status = types.StatusPartial
		att.ErrorMessage = fmt.Sprintf("%d %s records failed", counts.Failed, kind)
	default:
		att.Status = types.StatusSuccess
	}
	if err := o.Control.FinishAttempt(ctx, att); err != nil {
		o.logger().Error("failed to finalize attempt", "attempt", att.ID, "error", err)
	}
	if phaseErr != nil {
		return att, fmt.Errorf("%s phase: %w", kind, phaseErr)
	}
	return att, nil
}

// writeBaseline records the upstream's current event position so the next
// incremental run replays only what happened after this sync.
func (o *Orchestrator) writeBaseline(ctx context.Context, sch types.School, result *types.SyncResult, runStart time.Time) error {
	att, err := o.Control.BeginAttempt(ctx, sch.ID, types.KindBaseline, result.Mode, o.now())
	if err != nil {
		return err
	}
	latest, err := o.SIS.LatestEventID(ctx, sch.UpstreamID)
	if err != nil {
		o.finishFailed(ctx, att, fmt.Errorf("fetch latest event id: %w", err))
		return fmt.Errorf("fetch latest event id: %w", err)
	}

	ended := o.now()
	att.EndedAt = &ended
	att.Status = types.StatusSuccess
	att.Cursor = latest
	att.LastKnownSyncPoint = &runStart
	att.Summary = summaryBlob(result.Counts)
	for _, c := range result.Counts {
		att.RecordsProcessed += c.Processed
		att.RecordsUpdated += c.Updated
		att.RecordsFailed += c.Failed
	}
	if err := o.Control.FinishAttempt(ctx, att); err != nil {
		return fmt.Errorf("finish baseline attempt: %w", err)
	}
	return nil
}

// fireDownstream invokes the downstream procedure. Failure raises a
// warning; it never fails the sync.
func (o *Orchestrator) fireDownstream(ctx context.Context, rc *reconcile.Context, sch types.School, result *types.SyncResult, sectionAttemptID string) {
	res, err := o.downstreamRunner().Run(ctx, rc.Local, sectionAttemptID)
	if err == nil && res.Success {
		return
	}
	msg := res.Detail
	if err != nil {
		msg = err.Error()
	}
	o.logger().Warn("downstream procedure failed", "school", sch.ID, "error", msg)
	w, werr := o.Control.InsertWarning(ctx, types.Warning{
		AttemptID:  sectionAttemptID,
		Kind:       types.WarnDownstreamSyncFailed,
		EntityKind: types.KindSection,
		Message:    fmt.Sprintf("downstream sync failed: %s", msg),
		CreatedAt:  o.now(),
	})
	if werr != nil {
		o.logger().Warn("failed to record downstream warning", "school", sch.ID, "error", werr)
		return
	}
	result.Warnings = append(result.Warnings, w)
}

func (o *Orchestrator) cleanupSessions(ctx context.Context, sch types.School) {
	if o.Cleaner == nil {
		return
	}
	if err := o.Cleaner.CleanupSessions(ctx, sch.ID); err != nil {
		o.logger().Warn("session cleanup failed", "school", sch.ID, "error", err)
	}
}

// finishFailed finalizes an attempt as Failed, logging rather than
// propagating finalization errors.
func (o *Orchestrator) finishFailed(ctx context.Context, att *types.SyncAttempt, cause error) {
	ended := o.now()
	att.EndedAt = &ended
	att.Status = types.StatusFailed
	att.ErrorMessage = cancelMessage(cause)
	if err := o.Control.FinishAttempt(ctx, att); err != nil {
		o.logger().Error("failed to finalize attempt", "attempt", att.ID, "error", err)
	}
}

func cancelMessage(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("cancelled: %v", err)
	}
	return err.Error()
}

func joinErrors(errs []string) string {
	n := len(errs)
	if n == 0 {
		return ""
	}
	const max = 5
	if n > max {
		errs = append(errs[:max:max], fmt.Sprintf("... and %d more", n-max))
	}
	return fmt.Sprintf("%d event(s) failed: %s", n, strings.Join(errs, "; "))
}

func failResult(r *types.SyncResult, ended time.Time, err error) *types.SyncResult {
	r.EndedAt = ended
	r.ErrorMessage = err.Error()
	return r
}
