package sis

import (
	"context"
	"sync"
	"time"
)

// FakeClient is an in-memory Client for tests. Records and events are keyed
// by upstream school id. Err* fields inject failures; CallCounts records
// invocations per method name.
type FakeClient struct {
	mu sync.Mutex

	Students map[string][]StudentRecord
	Teachers map[string][]TeacherRecord
	Sections map[string][]SectionRecord
	Terms    map[string][]TermRecord
	Events   map[string][]Event

	ErrStudents error
	ErrTeachers error
	ErrSections error
	ErrTerms    error
	ErrEvents   error
	ErrLatest   error

	// ErrOnce holds errors returned once per method name, then cleared.
	// Used to exercise retry behavior.
	ErrOnce map[string]error

	CallCounts map[string]int

	// LastModifiedSince records the filter passed to the most recent list
	// call, for asserting fallback-reconcile behavior.
	LastModifiedSince *time.Time
}

// NewFakeClient returns an empty fake.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		Students:   map[string][]StudentRecord{},
		Teachers:   map[string][]TeacherRecord{},
		Sections:   map[string][]SectionRecord{},
		Terms:      map[string][]TermRecord{},
		Events:     map[string][]Event{},
		ErrOnce:    map[string]error{},
		CallCounts: map[string]int{},
	}
}

func (f *FakeClient) called(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CallCounts[method]++
	if err, ok := f.ErrOnce[method]; ok {
		delete(f.ErrOnce, method)
		return err
	}
	return nil
}

func (f *FakeClient) ListStudents(ctx context.Context, schoolID string, since *time.Time) ([]StudentRecord, error) {
	if err := f.called("ListStudents"); err != nil {
		return nil, err
	}
	if f.ErrStudents != nil {
		return nil, f.ErrStudents
	}
	f.mu.Lock()
	f.LastModifiedSince = since
	out := append([]StudentRecord(nil), f.Students[schoolID]...)
	f.mu.Unlock()
	return out, ctx.Err()
}

func (f *FakeClient) ListTeachers(ctx context.Context, schoolID string, since *time.Time) ([]TeacherRecord, error) {
	if err := f.called("ListTeachers"); err != nil {
		return nil, err
	}
	if f.ErrTeachers != nil {
		return nil, f.ErrTeachers
	}
	f.mu.Lock()
	f.LastModifiedSince = since
	out := append([]TeacherRecord(nil), f.Teachers[schoolID]...)
	f.mu.Unlock()
	return out, ctx.Err()
}

func (f *FakeClient) ListSections(ctx context.Context, schoolID string, since *time.Time) ([]SectionRecord, error) {
	if err := f.called("ListSections"); err != nil {
		return nil, err
	}
	if f.ErrSections != nil {
		return nil, f.ErrSections
	}
	f.mu.Lock()
	out := append([]SectionRecord(nil), f.Sections[schoolID]...)
	f.mu.Unlock()
	return out, ctx.Err()
}

func (f *FakeClient) ListTerms(ctx context.Context, schoolID string, since *time.Time) ([]TermRecord, error) {
	if err := f.called("ListTerms"); err != nil {
		return nil, err
	}
	if f.ErrTerms != nil {
		return nil, f.ErrTerms
	}
	f.mu.Lock()
	out := append([]TermRecord(nil), f.Terms[schoolID]...)
	f.mu.Unlock()
	return out, ctx.Err()
}

func (f *FakeClient) ListEvents(ctx context.Context, schoolID, cursor string, limit int) ([]Event, error) {
	if err := f.called("ListEvents"); err != nil {
		return nil, err
	}
	if f.ErrEvents != nil {
		return nil, f.ErrEvents
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.Events[schoolID]
	start := 0
	if cursor != "" {
		for i, ev := range all {
			if ev.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	end := len(all)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return append([]Event(nil), all[start:end]...), ctx.Err()
}

func (f *FakeClient) LatestEventID(ctx context.Context, schoolID string) (string, error) {
	if err := f.called("LatestEventID"); err != nil {
		return "", err
	}
	if f.ErrLatest != nil {
		return "", f.ErrLatest
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.Events[schoolID]
	if len(all) == 0 {
		return "", nil
	}
	return all[len(all)-1].ID, nil
}
