package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/edubase/rostersync/internal/audit"
	"github.com/edubase/rostersync/internal/reconcile"
	"github.com/edubase/rostersync/internal/sis"
	"github.com/edubase/rostersync/internal/store/control"
	"github.com/edubase/rostersync/internal/store/school"
	"github.com/edubase/rostersync/internal/types"
)

type fixture struct {
	rc      *reconcile.Context
	proc    *Processor
	control *control.Store
	local   *school.Store
	attempt *types.SyncAttempt
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	ctl, err := control.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open control store: %v", err)
	}
	t.Cleanup(func() { ctl.Close() })

	local, err := school.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open school store: %v", err)
	}
	t.Cleanup(func() { local.Close() })

	d, err := ctl.UpsertDistrict(ctx, types.District{UpstreamID: "dist_1", Name: "D"})
	if err != nil {
		t.Fatalf("seed district: %v", err)
	}
	sch, err := ctl.UpsertSchool(ctx, types.School{
		DistrictID: d.ID, UpstreamID: "sch_1", Name: "S", DBLocator: ":memory:", Active: true,
	})
	if err != nil {
		t.Fatalf("seed school: %v", err)
	}

	rc := &reconcile.Context{
		School:     sch,
		Local:      local,
		Control:    ctl,
		Tracker:    audit.New(nil),
		Protection: reconcile.EmptyProtection(),
		RunStart:   time.Now().UTC(),
	}
	att, err := ctl.BeginAttempt(ctx, sch.ID, types.KindEvent, types.ModeIncremental, rc.RunStart)
	if err != nil {
		t.Fatalf("begin attempt: %v", err)
	}
	return &fixture{rc: rc, proc: New(rc), control: ctl, local: local, attempt: att}
}

func ev(t *testing.T, id, typ string, createdAt time.Time, payload any) sis.Event {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return sis.Event{ID: id, Type: typ, CreatedAt: createdAt, Payload: b}
}

func TestProcessBatch_UserRoleRouting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	batch := []sis.Event{
		ev(t, "ev_1", "users.created", now, map[string]any{
			"id": "stu_1", "name": map[string]string{"first": "A", "last": "Student"},
			"roles": map[string]any{"student": map[string]any{}},
		}),
		ev(t, "ev_2", "users.created", now.Add(time.Second), map[string]any{
			"id": "tch_1", "name": map[string]string{"first": "B", "last": "Teacher"},
			"roles": []map[string]string{{"role": "teacher"}},
		}),
	}
	res, err := f.proc.ProcessBatch(ctx, f.attempt, batch)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Processed != 2 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}
	if _, err := f.local.GetStudentByUpstreamID(ctx, "stu_1"); err != nil {
		t.Errorf("student not routed: %v", err)
	}
	if _, err := f.local.GetTeacherByUpstreamID(ctx, "tch_1"); err != nil {
		t.Errorf("legacy-roles teacher not routed: %v", err)
	}
}

func TestProcessBatch_CreateIsIdempotentUpsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	payload := map[string]any{
		"id": "stu_1", "name": map[string]string{"first": "A", "last": "B"},
		"roles": map[string]any{"student": map[string]any{}},
	}
	batch := []sis.Event{
		ev(t, "ev_1", "users.created", now, payload),
		ev(t, "ev_2", "users.created", now.Add(time.Second), payload),
	}
	res, err := f.proc.ProcessBatch(ctx, f.attempt, batch)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Failed != 0 {
		t.Fatalf("replayed create failed: %+v", res)
	}
	if res.Updated != 1 {
		t.Errorf("updated = %d, want 1 (second create is a no-op)", res.Updated)
	}
}

func TestProcessBatch_PoisonEventDoesNotStopStream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	batch := []sis.Event{
		ev(t, "ev_1", "users.created", now, map[string]any{
			"id": "stu_1", "name": map[string]string{"first": "A", "last": "B"},
			"roles": map[string]any{"student": map[string]any{}},
		}),
		{ID: "ev_2", Type: "users.created", CreatedAt: now.Add(time.Second), Payload: []byte(`{"roles": 42`)},
		ev(t, "ev_3", "terms.created", now.Add(2*time.Second), map[string]any{
			"id": "trm_1", "district": "dist_1", "name": "Fall",
		}),
	}
	res, err := f.proc.ProcessBatch(ctx, f.attempt, batch)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Processed != 3 || res.Failed != 1 {
		t.Fatalf("result = %+v, want 3 processed, 1 failed", res)
	}
	if res.Updated != 2 {
		t.Errorf("updated = %d, want 2", res.Updated)
	}
	if res.LastSuccessID != "ev_3" {
		t.Errorf("last success = %q, want ev_3", res.LastSuccessID)
	}
	if len(res.Errors) != 1 {
		t.Errorf("errors = %v", res.Errors)
	}
	if _, err := f.local.GetTermByUpstreamID(ctx, "trm_1"); err != nil {
		t.Errorf("event after poison not applied: %v", err)
	}
}

func TestProcessBatch_AllPoisonAdvancesFetchCursor(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	batch := []sis.Event{
		{ID: "ev_1", Type: "users.created", CreatedAt: now, Payload: []byte(`not json`)},
		{ID: "ev_2", Type: "users.created", CreatedAt: now.Add(time.Second), Payload: []byte(`not json`)},
	}
	res, err := f.proc.ProcessBatch(context.Background(), f.attempt, batch)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Failed != 2 || res.Processed != 2 || res.Updated != 0 {
		t.Fatalf("result = %+v", res)
	}
	cursor, at := res.Cursor()
	if cursor != "ev_2" || at == nil {
		t.Errorf("cursor = %q, want last fetched ev_2", cursor)
	}
}

func TestProcessBatch_CourseAndDistrictSkipped(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	batch := []sis.Event{
		ev(t, "ev_1", "courses.updated", now, map[string]any{"id": "crs_1"}),
		ev(t, "ev_2", "districts.updated", now.Add(time.Second), map[string]any{"id": "dist_1"}),
	}
	res, err := f.proc.ProcessBatch(context.Background(), f.attempt, batch)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Skipped != 2 || res.Processed != 0 || res.Failed != 0 {
		t.Errorf("result = %+v, want 2 skipped", res)
	}
	if res.LastSuccessID != "" {
		t.Errorf("skipped events advanced success cursor to %q", res.LastSuccessID)
	}
}

func TestProcessBatch_SectionEventRunsAssociations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seed := []sis.Event{
		ev(t, "ev_1", "users.created", now, map[string]any{
			"id": "stu_1", "name": map[string]string{"first": "A", "last": "B"},
			"roles": map[string]any{"student": map[string]any{}},
		}),
		ev(t, "ev_2", "users.created", now.Add(time.Second), map[string]any{
			"id": "tch_1", "name": map[string]string{"first": "C", "last": "D"},
			"roles": map[string]any{"teacher": map[string]any{}},
		}),
		ev(t, "ev_3", "sections.created", now.Add(2*time.Second), map[string]any{
			"id": "sec_1", "name": "Math",
			"teachers": []string{"tch_1"}, "primaryTeacher": "tch_1",
			"students": []string{"stu_1"},
		}),
	}
	res, err := f.proc.ProcessBatch(ctx, f.attempt, seed)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}

	sec, err := f.local.GetSectionByUpstreamID(ctx, "sec_1")
	if err != nil {
		t.Fatalf("section not created: %v", err)
	}
	tl, err := f.local.ListTeacherLinks(ctx, sec.ID)
	if err != nil || len(tl) != 1 || !tl[0].IsPrimary {
		t.Errorf("teacher links = %+v, err %v", tl, err)
	}
	sl, err := f.local.ListStudentLinks(ctx, sec.ID)
	if err != nil || len(sl) != 1 {
		t.Errorf("student links = %+v, err %v", sl, err)
	}
}

func TestProcessBatch_UserDeleteWithoutRolesTriesBothTables(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seed := []sis.Event{
		ev(t, "ev_1", "users.created", now, map[string]any{
			"id": "stu_1", "name": map[string]string{"first": "A", "last": "B"},
			"roles": map[string]any{"student": map[string]any{}},
		}),
		ev(t, "ev_2", "users.deleted", now.Add(time.Second), map[string]any{"id": "stu_1"}),
	}
	res, err := f.proc.ProcessBatch(ctx, f.attempt, seed)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}
	st, err := f.local.GetStudentByUpstreamID(ctx, "stu_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.DeletedAt == nil {
		t.Error("role-less delete did not reach the student row")
	}
}

func TestProcessBatch_ProtectedSectionDeleteSkippedNotFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := f.proc.ProcessBatch(ctx, f.attempt, []sis.Event{
		ev(t, "ev_1", "sections.created", now, map[string]any{"id": "sec_1", "name": "Math"}),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := f.local.AddProtectedRef(ctx, types.ProtectedRef{SectionUpstreamID: "sec_1", DisplayName: "Math"}); err != nil {
		t.Fatalf("protect: %v", err)
	}
	p, err := reconcile.LoadProtection(ctx, f.local)
	if err != nil {
		t.Fatalf("load protection: %v", err)
	}
	f.rc.Protection = p

	res, err := f.proc.ProcessBatch(ctx, f.attempt, []sis.Event{
		ev(t, "ev_2", "sections.deleted", now.Add(time.Second), map[string]any{"id": "sec_1"}),
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Failed != 0 || res.SkippedProtected != 1 || res.Processed != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.LastSuccessID != "ev_2" {
		t.Errorf("protected skip did not advance success cursor: %q", res.LastSuccessID)
	}
	sec, _ := f.local.GetSectionByUpstreamID(ctx, "sec_1")
	if sec.DeletedAt != nil {
		t.Error("protected section deleted by event")
	}
}

func TestProcessBatch_CancellationStopsStream(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.proc.ProcessBatch(ctx, f.attempt, []sis.Event{
		ev(t, "ev_1", "terms.created", now, map[string]any{"id": "trm_1", "district": "d"}),
	})
	if err == nil {
		t.Fatal("cancelled batch returned nil error")
	}
	if res.Processed != 0 {
		t.Errorf("processed %d events after cancellation", res.Processed)
	}
}

func TestSplitType(t *testing.T) {
	cases := []struct {
		in         string
		objectKind string
		action     string
		wantErr    bool
	}{
		{"users.created", "user", "created", false},
		{"user.updated", "user", "updated", false},
		{"sections.deleted", "section", "deleted", false},
		{"courses.updated", "course", "updated", false},
		{"noseparator", "", "", true},
		{".created", "", "", true},
		{"users.", "", "", true},
	}
	for _, tc := range cases {
		obj, act, err := splitType(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("splitType(%q): no error", tc.in)
			}
			continue
		}
		if err != nil || obj != tc.objectKind || act != tc.action {
			t.Errorf("splitType(%q) = (%q, %q, %v)", tc.in, obj, act, err)
		}
	}
}
