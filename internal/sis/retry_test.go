package sis

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryingClient_RetriesTransientErrors(t *testing.T) {
	fake := NewFakeClient()
	fake.Students["sch_1"] = []StudentRecord{{ID: "a"}}
	fake.ErrOnce["ListStudents"] = errors.New("upstream: 429 too many requests")

	c := NewRetryingClient(fake, 5*time.Second)
	got, err := c.ListStudents(context.Background(), "sch_1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("unexpected records: %+v", got)
	}
	if fake.CallCounts["ListStudents"] != 2 {
		t.Errorf("expected 2 calls (1 failure + 1 retry), got %d", fake.CallCounts["ListStudents"])
	}
}

func TestRetryingClient_PermanentErrorSurfacesImmediately(t *testing.T) {
	fake := NewFakeClient()
	fake.ErrEvents = errors.New("upstream: 401 unauthorized")

	c := NewRetryingClient(fake, 5*time.Second)
	_, err := c.ListEvents(context.Background(), "sch_1", "", 100)
	if err == nil {
		t.Fatal("expected error")
	}
	if fake.CallCounts["ListEvents"] != 1 {
		t.Errorf("expected exactly 1 call for a permanent error, got %d", fake.CallCounts["ListEvents"])
	}
}

func TestRetryingClient_CancellationStopsRetry(t *testing.T) {
	fake := NewFakeClient()
	fake.ErrLatest = errors.New("dial: connection refused")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewRetryingClient(fake, time.Minute)
	_, err := c.LatestEventID(ctx, "sch_1")
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("rate limit exceeded"), true},
		{errors.New("HTTP 503 Service Unavailable"), true},
		{errors.New("read tcp: connection reset by peer"), true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("HTTP 404 not found"), false},
		{errors.New("invalid credentials"), false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestFakeClient_ListEventsCursor(t *testing.T) {
	fake := NewFakeClient()
	fake.Events["sch_1"] = []Event{
		{ID: "evt_1"}, {ID: "evt_2"}, {ID: "evt_3"},
	}

	got, err := fake.ListEvents(context.Background(), "sch_1", "evt_1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "evt_2" || got[1].ID != "evt_3" {
		t.Fatalf("unexpected events after cursor: %+v", got)
	}

	got, err = fake.ListEvents(context.Background(), "sch_1", "", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[1].ID != "evt_2" {
		t.Fatalf("limit not applied: %+v", got)
	}
}
