package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/edubase/rostersync/internal/types"
)

type fakeSink struct {
	got []types.ChangeAudit
	err error
}

func (f *fakeSink) InsertAudits(_ context.Context, audits []types.ChangeAudit) error {
	f.got = append(f.got, audits...)
	return f.err
}

func TestTrackUpdate_EncodesFieldDiffs(t *testing.T) {
	tr := New(nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.SetClock(func() time.Time { return fixed })

	tr.TrackUpdate("att_1", types.KindStudent, "stu_9", "Ada Lovelace", []Change{
		{Name: "grade", Old: Str("5"), New: Str("6")},
		{Name: "last_name", Old: nil, New: Str("Lovelace")},
	})

	sink := &fakeSink{}
	tr.Flush(context.Background(), sink)

	if len(sink.got) != 1 {
		t.Fatalf("flushed %d rows, want 1", len(sink.got))
	}
	row := sink.got[0]
	if row.Change != types.ChangeUpdated || row.AttemptID != "att_1" {
		t.Errorf("row = %+v", row)
	}
	if row.FieldList != "grade,last_name" {
		t.Errorf("FieldList = %q", row.FieldList)
	}
	if !row.At.Equal(fixed) {
		t.Errorf("At = %v, want %v", row.At, fixed)
	}

	var oldVals, newVals map[string]*string
	if err := json.Unmarshal([]byte(row.OldValues), &oldVals); err != nil {
		t.Fatalf("old values not JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(row.NewValues), &newVals); err != nil {
		t.Fatalf("new values not JSON: %v", err)
	}
	if oldVals["last_name"] != nil {
		t.Errorf("old last_name = %v, want null", oldVals["last_name"])
	}
	if newVals["grade"] == nil || *newVals["grade"] != "6" {
		t.Errorf("new grade = %v", newVals["grade"])
	}
}

func TestTrackUpdate_EmptyChangeSetDropped(t *testing.T) {
	tr := New(nil)
	tr.TrackUpdate("att_1", types.KindTeacher, "tch_1", "X", nil)
	if tr.Len() != 0 {
		t.Errorf("buffered %d rows, want 0", tr.Len())
	}
}

func TestTrackDeleteAndOrphan_Kinds(t *testing.T) {
	tr := New(nil)
	tr.TrackDelete("att_1", types.KindStudent, "stu_1", "A")
	tr.TrackOrphan("att_1", types.KindTerm, "trm_1", "Fall")

	sink := &fakeSink{}
	tr.Flush(context.Background(), sink)
	if len(sink.got) != 2 {
		t.Fatalf("flushed %d rows, want 2", len(sink.got))
	}
	if sink.got[0].Change != types.ChangeDeleted || sink.got[1].Change != types.ChangeOrphaned {
		t.Errorf("changes = %s, %s", sink.got[0].Change, sink.got[1].Change)
	}
	if sink.got[0].FieldList != "" {
		t.Errorf("delete FieldList = %q, want empty", sink.got[0].FieldList)
	}
}

func TestFlush_FailureSwallowedAndBufferCleared(t *testing.T) {
	tr := New(nil)
	tr.TrackCreate("att_1", types.KindSection, "sec_1", "Math", []Change{
		{Name: "name", New: Str("Math")},
	})

	sink := &fakeSink{err: errors.New("db gone")}
	tr.Flush(context.Background(), sink) // must not panic or return error

	if tr.Len() != 0 {
		t.Errorf("buffer not cleared after failed flush: %d rows", tr.Len())
	}

	second := &fakeSink{}
	tr.Flush(context.Background(), second)
	if len(second.got) != 0 {
		t.Errorf("second flush sent %d rows, want 0", len(second.got))
	}
}

func TestFlush_EmptySkipsSink(t *testing.T) {
	tr := New(nil)
	sink := &fakeSink{err: errors.New("should not be called")}
	tr.Flush(context.Background(), sink)
	if len(sink.got) != 0 {
		t.Errorf("sink received rows from empty tracker")
	}
}
