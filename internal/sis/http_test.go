package sis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(srv.URL, "tok-123", 5*time.Second)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	return c
}

func TestHTTPClient_ListStudentsPaginates(t *testing.T) {
	var sawAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/schools/sch_1/students" {
			http.NotFound(w, r)
			return
		}
		switch r.URL.Query().Get("starting_after") {
		case "":
			json.NewEncoder(w).Encode(map[string]any{
				"data": []StudentRecord{
					{ID: "stu_1", Name: Name{First: "Ana", Last: "Diaz"}},
					{ID: "stu_2", Name: Name{First: "Ben", Last: "Okafor"}},
				},
				"next": "stu_2",
			})
		case "stu_2":
			json.NewEncoder(w).Encode(map[string]any{
				"data": []StudentRecord{
					{ID: "stu_3", Name: Name{First: "Cleo", Last: "Marsh"}},
				},
			})
		default:
			t.Errorf("unexpected paging token %q", r.URL.Query().Get("starting_after"))
			http.Error(w, "bad token", http.StatusBadRequest)
		}
	})

	got, err := c.ListStudents(context.Background(), "sch_1", nil)
	if err != nil {
		t.Fatalf("ListStudents: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d students, want 3", len(got))
	}
	if got[2].ID != "stu_3" {
		t.Errorf("last student = %s, want stu_3", got[2].ID)
	}
	if sawAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want bearer token", sawAuth)
	}
}

func TestHTTPClient_ModifiedSinceParam(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var sawSince string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		sawSince = r.URL.Query().Get("modified_since")
		json.NewEncoder(w).Encode(map[string]any{"data": []TeacherRecord{}})
	})

	if _, err := c.ListTeachers(context.Background(), "sch_1", &since); err != nil {
		t.Fatalf("ListTeachers: %v", err)
	}
	if sawSince != "2026-03-01T00:00:00Z" {
		t.Errorf("modified_since = %q", sawSince)
	}
}

func TestHTTPClient_ErrorCarriesStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})

	_, err := c.ListEvents(context.Background(), "sch_1", "", 10)
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	if !IsTransient(err) {
		t.Errorf("429 error should be transient, got %v", err)
	}
}

func TestHTTPClient_LatestEventID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/schools/sch_1/events/latest" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "ev_99"})
	})

	id, err := c.LatestEventID(context.Background(), "sch_1")
	if err != nil {
		t.Fatalf("LatestEventID: %v", err)
	}
	if id != "ev_99" {
		t.Errorf("id = %q, want ev_99", id)
	}
}

func TestHTTPClient_LatestEventIDEmptyUpstream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	id, err := c.LatestEventID(context.Background(), "sch_1")
	if err != nil {
		t.Fatalf("LatestEventID on 404: %v", err)
	}
	if id != "" {
		t.Errorf("id = %q, want empty for eventless school", id)
	}
}

func TestNewHTTPClient_RejectsRelativeURL(t *testing.T) {
	if _, err := NewHTTPClient("not-a-url", "", 0); err == nil {
		t.Fatal("expected error for relative base url")
	}
}
