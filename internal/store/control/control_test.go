package control

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edubase/rostersync/internal/store"
	"github.com/edubase/rostersync/internal/types"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open control store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedSchool(t *testing.T, s *Store) types.School {
	t.Helper()
	ctx := context.Background()
	d, err := s.UpsertDistrict(ctx, types.District{UpstreamID: "dist_1", Name: "Springfield USD", Timezone: "America/Chicago"})
	if err != nil {
		t.Fatalf("upsert district: %v", err)
	}
	sch, err := s.UpsertSchool(ctx, types.School{
		DistrictID: d.ID,
		UpstreamID: "sch_1",
		Name:       "Springfield Elementary",
		DBLocator:  ":memory:",
		Active:     true,
	})
	if err != nil {
		t.Fatalf("upsert school: %v", err)
	}
	return sch
}

func TestUpsertDistrict_InsertThenUpdate(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	d1, err := s.UpsertDistrict(ctx, types.District{UpstreamID: "dist_1", Name: "Old Name"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	d2, err := s.UpsertDistrict(ctx, types.District{UpstreamID: "dist_1", Name: "New Name", Timezone: "America/New_York"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if d2.ID != d1.ID {
		t.Errorf("upsert changed row id: %s != %s", d2.ID, d1.ID)
	}
	got, err := s.GetDistrict(ctx, d1.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "New Name" || got.Timezone != "America/New_York" {
		t.Errorf("update not applied: %+v", got)
	}
}

func TestSchool_RequiresFullSyncFlag(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	sch := seedSchool(t, s)

	if err := s.SetRequiresFullSync(ctx, sch.ID, true); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	got, err := s.GetSchool(ctx, sch.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.RequiresFullSync {
		t.Error("flag not set")
	}
	if err := s.SetRequiresFullSync(ctx, sch.ID, false); err != nil {
		t.Fatalf("clear flag: %v", err)
	}
	got, _ = s.GetSchool(ctx, sch.ID)
	if got.RequiresFullSync {
		t.Error("flag not cleared")
	}

	if err := s.SetRequiresFullSync(ctx, "nope", true); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown school: err = %v, want ErrNotFound", err)
	}
}

func TestBeginAttempt_RejectsConcurrentSameKind(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	sch := seedSchool(t, s)
	now := time.Now()

	a, err := s.BeginAttempt(ctx, sch.ID, types.KindStudent, types.ModeFull, now)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := s.BeginAttempt(ctx, sch.ID, types.KindStudent, types.ModeFull, now); err == nil {
		t.Fatal("second in-progress attempt of same kind should be rejected")
	}
	// Different kind is fine.
	if _, err := s.BeginAttempt(ctx, sch.ID, types.KindTeacher, types.ModeFull, now); err != nil {
		t.Fatalf("different kind rejected: %v", err)
	}

	a.Status = types.StatusSuccess
	ended := now.Add(time.Second)
	a.EndedAt = &ended
	if err := s.FinishAttempt(ctx, a); err != nil {
		t.Fatalf("finish: %v", err)
	}
	// Terminal row frees the slot.
	if _, err := s.BeginAttempt(ctx, sch.ID, types.KindStudent, types.ModeFull, now); err != nil {
		t.Fatalf("begin after finish: %v", err)
	}
}

func TestFinishAttempt_TerminalRowsAreImmutable(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	sch := seedSchool(t, s)
	now := time.Now().UTC().Truncate(time.Second)

	a, err := s.BeginAttempt(ctx, sch.ID, types.KindEvent, types.ModeIncremental, now)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	a.Status = types.StatusPartial
	a.RecordsProcessed = 3
	a.RecordsFailed = 3
	a.ErrorMessage = "3 events failed"
	a.Cursor = "evt_103"
	ended := now.Add(2 * time.Second)
	a.EndedAt = &ended
	if err := s.FinishAttempt(ctx, a); err != nil {
		t.Fatalf("finish: %v", err)
	}

	// A second finish must not alter the terminal row.
	a.Status = types.StatusSuccess
	a.Cursor = "evt_999"
	if err := s.FinishAttempt(ctx, a); !errors.Is(err, store.ErrTerminalAttempt) {
		t.Fatalf("refinish: err = %v, want ErrTerminalAttempt", err)
	}

	got, err := s.GetAttempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != types.StatusPartial || got.Cursor != "evt_103" {
		t.Errorf("terminal row mutated: %+v", got)
	}
	if got.RecordsProcessed != 3 || got.RecordsFailed != 3 {
		t.Errorf("counters lost: %+v", got)
	}
	if got.StartedAt != now {
		t.Errorf("started_at = %v, want %v", got.StartedAt, now)
	}
}

func TestFinishAttempt_RejectsNonTerminalStatus(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	sch := seedSchool(t, s)

	a, err := s.BeginAttempt(ctx, sch.ID, types.KindStudent, types.ModeFull, time.Now())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	a.Status = types.StatusInProgress
	if err := s.FinishAttempt(ctx, a); err == nil {
		t.Fatal("finishing with a non-terminal status should error")
	}
}

func TestLatestCursorAttempt(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	sch := seedSchool(t, s)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	if _, err := s.LatestCursorAttempt(ctx, sch.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("empty store: err = %v, want ErrNotFound", err)
	}

	finish := func(kind types.EntityKind, startedAt time.Time, status types.AttemptStatus, cursor string) {
		t.Helper()
		a, err := s.BeginAttempt(ctx, sch.ID, kind, types.ModeIncremental, startedAt)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		a.Status = status
		a.Cursor = cursor
		ended := startedAt.Add(time.Second)
		a.EndedAt = &ended
		if err := s.FinishAttempt(ctx, a); err != nil {
			t.Fatalf("finish: %v", err)
		}
	}

	finish(types.KindBaseline, base, types.StatusSuccess, "evt_100")
	finish(types.KindEvent, base.Add(time.Hour), types.StatusPartial, "evt_105")
	finish(types.KindEvent, base.Add(2*time.Hour), types.StatusFailed, "evt_999")
	finish(types.KindEvent, base.Add(3*time.Hour), types.StatusSuccess, "")

	got, err := s.LatestCursorAttempt(ctx, sch.ID)
	if err != nil {
		t.Fatalf("latest cursor: %v", err)
	}
	// Failed attempts and empty cursors are skipped; the Partial attempt's
	// advanced cursor wins over the older baseline.
	if got.Cursor != "evt_105" {
		t.Errorf("cursor = %q, want evt_105", got.Cursor)
	}
}

func TestFailStaleAttempts(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	sch := seedSchool(t, s)
	now := time.Now().UTC()

	stale, err := s.BeginAttempt(ctx, sch.ID, types.KindStudent, types.ModeFull, now.Add(-3*time.Hour))
	if err != nil {
		t.Fatalf("begin stale: %v", err)
	}
	fresh, err := s.BeginAttempt(ctx, sch.ID, types.KindTeacher, types.ModeFull, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("begin fresh: %v", err)
	}

	n, err := s.FailStaleAttempts(ctx, time.Hour, now)
	if err != nil {
		t.Fatalf("fail stale: %v", err)
	}
	if n != 1 {
		t.Errorf("marked %d attempts, want 1", n)
	}
	got, _ := s.GetAttempt(ctx, stale.ID)
	if got.Status != types.StatusFailed {
		t.Errorf("stale attempt status = %s, want failed", got.Status)
	}
	got, _ = s.GetAttempt(ctx, fresh.ID)
	if got.Status != types.StatusInProgress {
		t.Errorf("fresh attempt status = %s, want in_progress", got.Status)
	}
}

func TestInsertAudits_BatchRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	sch := seedSchool(t, s)

	a, err := s.BeginAttempt(ctx, sch.ID, types.KindStudent, types.ModeFull, time.Now())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	audits := []types.ChangeAudit{
		{AttemptID: a.ID, Kind: types.KindStudent, UpstreamEntityID: "stu_a",
			DisplayName: "Ada Lovelace", Change: types.ChangeCreated,
			FieldList: "firstName,lastName", NewValues: `{"firstName":"Ada","lastName":"Lovelace"}`, At: at},
		{AttemptID: a.ID, Kind: types.KindStudent, UpstreamEntityID: "stu_b",
			DisplayName: "G Boole", Change: types.ChangeOrphaned, At: at.Add(time.Second)},
	}
	if err := s.InsertAudits(ctx, audits); err != nil {
		t.Fatalf("insert audits: %v", err)
	}

	got, err := s.ListAuditsByAttempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("list audits: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d audits, want 2", len(got))
	}
	if got[0].Change != types.ChangeCreated || got[0].NewValues == "" {
		t.Errorf("first audit mangled: %+v", got[0])
	}
	if got[1].Change != types.ChangeOrphaned {
		t.Errorf("second audit mangled: %+v", got[1])
	}

	if err := s.InsertAudits(ctx, nil); err != nil {
		t.Errorf("empty batch should be a no-op: %v", err)
	}
}

func TestWarnings_InsertListAcknowledge(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	sch := seedSchool(t, s)

	a, err := s.BeginAttempt(ctx, sch.ID, types.KindSection, types.ModeFull, time.Now())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	w, err := s.InsertWarning(ctx, types.Warning{
		AttemptID:         a.ID,
		Kind:              types.WarnProtectedSectionMissing,
		EntityKind:        types.KindSection,
		UpstreamEntityID:  "sec_P",
		DisplayName:       "Algebra II",
		Message:           "protected section absent from upstream; soft delete skipped",
		AffectedProtected: `[{"id":"sec_P","name":"Algebra II"}]`,
		AffectedCount:     1,
		CreatedAt:         time.Now(),
	})
	if err != nil {
		t.Fatalf("insert warning: %v", err)
	}

	pending, err := s.ListUnacknowledgedWarnings(ctx, sch.ID)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Kind != types.WarnProtectedSectionMissing {
		t.Fatalf("pending = %+v", pending)
	}

	if err := s.AcknowledgeWarning(ctx, w.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	pending, _ = s.ListUnacknowledgedWarnings(ctx, sch.ID)
	if len(pending) != 0 {
		t.Errorf("warning still pending after ack")
	}

	byAttempt, err := s.ListWarningsByAttempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("list by attempt: %v", err)
	}
	if len(byAttempt) != 1 || !byAttempt[0].Acknowledged {
		t.Errorf("by attempt = %+v", byAttempt)
	}
}
