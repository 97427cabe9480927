package school

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
		t.Fatalf("open school store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mkStudent(upstreamID string, seenAt time.Time) *types.Student {
	return &types.Student{
		UpstreamID: upstreamID,
		FirstName:  "First",
		LastName:   "Last",
		CreatedAt:  seenAt,
		UpdatedAt:  seenAt,
		LastSeenAt: seenAt,
	}
}

func TestStudent_InsertGetRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	grade := 10
	st := &types.Student{
		UpstreamID:    "stu_a",
		FirstName:     "Ada",
		MiddleName:    "King",
		LastName:      "Lovelace",
		Grade:         &grade,
		GradeLabel:    "10",
		StudentNumber: "S-100",
		StateID:       "TX-1",
		CreatedAt:     now,
		UpdatedAt:     now,
		LastSeenAt:    now,
	}
	if err := s.InsertStudent(ctx, st); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if st.ID == "" {
		t.Fatal("insert did not assign an id")
	}

	got, err := s.GetStudentByUpstreamID(ctx, "stu_a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FirstName != "Ada" || got.MiddleName != "King" || got.Grade == nil || *got.Grade != 10 {
		t.Errorf("round trip mangled: %+v", got)
	}
	if !got.LastSeenAt.Equal(now) {
		t.Errorf("last_seen_at = %v, want %v", got.LastSeenAt, now)
	}
	if got.DeletedAt != nil {
		t.Error("fresh row should not be deleted")
	}

	if _, err := s.GetStudentByUpstreamID(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing row: err = %v, want ErrNotFound", err)
	}
}

func TestStudent_SoftDeleteAndLookupStillSees(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.InsertStudent(ctx, mkStudent("stu_a", now)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	prior, err := s.SoftDeleteStudent(ctx, "stu_a", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if prior.DeletedAt != nil {
		t.Error("returned row should be the pre-delete state")
	}

	// Lookup by upstream id still sees the row (restoration path).
	got, err := s.GetStudentByUpstreamID(ctx, "stu_a")
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got.DeletedAt == nil {
		t.Error("deleted_at not set")
	}

	// The live view does not.
	live, err := s.ListLiveStudents(ctx)
	if err != nil {
		t.Fatalf("list live: %v", err)
	}
	if len(live) != 0 {
		t.Errorf("live view leaked a deleted row: %+v", live)
	}

	// Double delete reports not found.
	if _, err := s.SoftDeleteStudent(ctx, "stu_a", now); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("double delete: err = %v, want ErrNotFound", err)
	}
}

func TestMarkStudentOrphans(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	runStart := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	// Seen this run: survives. Stale: orphaned. Already deleted: untouched.
	if err := s.InsertStudent(ctx, mkStudent("fresh", runStart.Add(time.Minute))); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertStudent(ctx, mkStudent("stale", runStart.Add(-24*time.Hour))); err != nil {
		t.Fatal(err)
	}
	gone := mkStudent("gone", runStart.Add(-48*time.Hour))
	deletedAt := runStart.Add(-24 * time.Hour)
	gone.DeletedAt = &deletedAt
	if err := s.InsertStudent(ctx, gone); err != nil {
		t.Fatal(err)
	}

	orphans, err := s.MarkStudentOrphans(ctx, runStart, runStart.Add(time.Hour))
	if err != nil {
		t.Fatalf("mark orphans: %v", err)
	}
	if len(orphans) != 1 || orphans[0].UpstreamID != "stale" {
		t.Fatalf("orphans = %+v, want [stale]", orphans)
	}

	got, _ := s.GetStudentByUpstreamID(ctx, "stale")
	if got.DeletedAt == nil {
		t.Error("stale row not deleted")
	}
	got, _ = s.GetStudentByUpstreamID(ctx, "fresh")
	if got.DeletedAt != nil {
		t.Error("fresh row deleted")
	}

	// Second pass finds nothing.
	orphans, err = s.MarkStudentOrphans(ctx, runStart, runStart.Add(time.Hour))
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(orphans) != 0 {
		t.Errorf("second pass orphaned %d rows", len(orphans))
	}
}

func TestMarkTermOrphans_SkipsManualTerms(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	runStart := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	old := runStart.Add(-24 * time.Hour)

	synced := &types.Term{UpstreamID: "term_1", Name: "Fall",
		CreatedAt: old, UpdatedAt: old, LastSeenAt: old}
	manual := &types.Term{UpstreamID: "term_m", Name: "Summer School", IsManual: true,
		CreatedAt: old, UpdatedAt: old, LastSeenAt: old}
	if err := s.InsertTerm(ctx, synced); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertTerm(ctx, manual); err != nil {
		t.Fatal(err)
	}

	orphans, err := s.MarkTermOrphans(ctx, runStart, runStart)
	if err != nil {
		t.Fatalf("mark orphans: %v", err)
	}
	if len(orphans) != 1 || orphans[0].UpstreamID != "term_1" {
		t.Fatalf("orphans = %+v, want [term_1]", orphans)
	}
	got, _ := s.GetTermByUpstreamID(ctx, "term_m")
	if got.DeletedAt != nil {
		t.Error("manual term was orphaned")
	}
}

func TestTerm_DateRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	start := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 12, 18, 0, 0, 0, 0, time.UTC)

	term := &types.Term{UpstreamID: "term_1", DistrictUpstreamID: "dist_1",
		Name: "Fall 2026", StartDate: &start, EndDate: &end,
		CreatedAt: now, UpdatedAt: now, LastSeenAt: now}
	if err := s.InsertTerm(ctx, term); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetTermByUpstreamID(ctx, "term_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.StartDate == nil || !got.StartDate.Equal(start) {
		t.Errorf("start date = %v, want %v", got.StartDate, start)
	}
	if got.EndDate == nil || !got.EndDate.Equal(end) {
		t.Errorf("end date = %v, want %v", got.EndDate, end)
	}
}

func TestTeacherLinks_ReplaceIsWholesale(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tch := &types.Teacher{UpstreamID: "tch_1", FirstName: "Grace", LastName: "Hopper",
		FullName: "Grace Hopper", CreatedAt: now, UpdatedAt: now, LastSeenAt: now}
	if err := s.InsertTeacher(ctx, tch); err != nil {
		t.Fatal(err)
	}
	sec := &types.Section{UpstreamID: "sec_1", Name: "CS 101",
		CreatedAt: now, UpdatedAt: now, LastSeenAt: now}
	if err := s.InsertSection(ctx, sec); err != nil {
		t.Fatal(err)
	}

	if err := s.ReplaceTeacherLinks(ctx, sec.ID, []types.TeacherSection{
		{TeacherID: tch.ID, SectionID: sec.ID, IsPrimary: true},
	}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	links, err := s.ListTeacherLinks(ctx, sec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 || !links[0].IsPrimary {
		t.Fatalf("links = %+v", links)
	}

	// Replacing with empty drops everything.
	if err := s.ReplaceTeacherLinks(ctx, sec.ID, nil); err != nil {
		t.Fatalf("replace empty: %v", err)
	}
	links, _ = s.ListTeacherLinks(ctx, sec.ID)
	if len(links) != 0 {
		t.Errorf("links not cleared: %+v", links)
	}
}

func TestStudentLinks_InsertListDelete(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	st := mkStudent("stu_1", now)
	if err := s.InsertStudent(ctx, st); err != nil {
		t.Fatal(err)
	}
	sec := &types.Section{UpstreamID: "sec_1", CreatedAt: now, UpdatedAt: now, LastSeenAt: now}
	if err := s.InsertSection(ctx, sec); err != nil {
		t.Fatal(err)
	}

	if err := s.InsertStudentLink(ctx, types.StudentSection{
		StudentID: st.ID, SectionID: sec.ID,
	}); err != nil {
		t.Fatalf("insert link: %v", err)
	}
	links, err := s.ListStudentLinks(ctx, sec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 || links[0].StudentUpstreamID != "stu_1" {
		t.Fatalf("links = %+v", links)
	}

	if err := s.DeleteStudentLink(ctx, st.ID, sec.ID); err != nil {
		t.Fatalf("delete link: %v", err)
	}
	links, _ = s.ListStudentLinks(ctx, sec.ID)
	if len(links) != 0 {
		t.Errorf("link not removed: %+v", links)
	}
}

func TestProtectedRefs(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	refs, err := s.ListProtectedRefs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 0 {
		t.Fatalf("fresh store has refs: %+v", refs)
	}

	if err := s.AddProtectedRef(ctx, types.ProtectedRef{
		SectionUpstreamID: "sec_P", DisplayName: "Algebra II",
	}); err != nil {
		t.Fatal(err)
	}
	refs, err = s.ListProtectedRefs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0].SectionUpstreamID != "sec_P" || refs[0].DisplayName != "Algebra II" {
		t.Fatalf("refs = %+v", refs)
	}

	// Re-adding the same section is an upsert, not a duplicate-key failure.
	if err := s.AddProtectedRef(ctx, types.ProtectedRef{
		SectionUpstreamID: "sec_P", DisplayName: "Algebra II (Honors)",
	}); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	refs, err = s.ListProtectedRefs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0].DisplayName != "Algebra II (Honors)" {
		t.Fatalf("refs after re-add = %+v", refs)
	}
}

func TestSectionsNotSeenSince(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	runStart := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	old := runStart.Add(-time.Hour)

	stale := &types.Section{UpstreamID: "sec_old", CreatedAt: old, UpdatedAt: old, LastSeenAt: old}
	fresh := &types.Section{UpstreamID: "sec_new", CreatedAt: old, UpdatedAt: old, LastSeenAt: runStart.Add(time.Minute)}
	if err := s.InsertSection(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertSection(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	absent, err := s.ListSectionsNotSeenSince(ctx, runStart)
	if err != nil {
		t.Fatal(err)
	}
	if len(absent) != 1 || absent[0].UpstreamID != "sec_old" {
		t.Fatalf("absent = %+v, want [sec_old]", absent)
	}
}
