// Package sis defines the consumer-side contract for the upstream
// student-information-system API: the record shapes the sync core reads,
// the event envelope, and the Client interface the wire implementation
// must satisfy. Pagination, auth, and rate limiting are the wire client's
// concern; the core only sees ordered slices.
package sis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Name is the upstream name object shared by student and teacher records.
type Name struct {
	First  string `json:"first"`
	Middle string `json:"middle,omitempty"`
	Last   string `json:"last"`
}

// StudentRecord is one upstream student. Grade is the raw upstream string;
// normalization happens in the reconciler.
type StudentRecord struct {
	ID            string `json:"id"`
	Name          Name   `json:"name"`
	Grade         string `json:"grade,omitempty"`
	SISID         string `json:"sisId,omitempty"`
	StudentNumber string `json:"studentNumber,omitempty"`
}

// TeacherRecord is one upstream teacher. The district username lives under
// roles.teacher.credentials in the upstream schema.
type TeacherRecord struct {
	ID            string       `json:"id"`
	Name          Name         `json:"name"`
	SISID         string       `json:"sisId,omitempty"`
	TeacherNumber string       `json:"teacherNumber,omitempty"`
	Roles         TeacherRoles `json:"roles,omitempty"`
}

// TeacherRoles holds the teacher branch of the upstream roles object.
type TeacherRoles struct {
	Teacher *TeacherRole `json:"teacher,omitempty"`
}

// UnmarshalJSON accepts both role shapes the upstream has emitted over
// time: the current object keyed by role name and the legacy array of
// {role, credentials} entries. Non-teacher entries leave the value zero.
func (r *TeacherRoles) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '[' {
		var entries []struct {
			Role        string       `json:"role"`
			Credentials *Credentials `json:"credentials,omitempty"`
		}
		if err := json.Unmarshal(data, &entries); err != nil {
			return fmt.Errorf("decode legacy roles array: %w", err)
		}
		for _, e := range entries {
			if strings.EqualFold(e.Role, "teacher") {
				r.Teacher = &TeacherRole{Credentials: e.Credentials}
			}
		}
		return nil
	}
	type keyed TeacherRoles
	var k keyed
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	*r = TeacherRoles(k)
	return nil
}

// TeacherRole carries teacher-specific role data.
type TeacherRole struct {
	Credentials *Credentials `json:"credentials,omitempty"`
}

// Credentials carries district-issued login identifiers.
type Credentials struct {
	DistrictUsername string `json:"district_username,omitempty"`
}

// Username returns the district username, or "" when absent.
func (t TeacherRecord) Username() string {
	if t.Roles.Teacher != nil && t.Roles.Teacher.Credentials != nil {
		return t.Roles.Teacher.Credentials.DistrictUsername
	}
	return ""
}

// SectionRecord is one upstream section with its membership id lists.
type SectionRecord struct {
	ID             string   `json:"id"`
	Name           string   `json:"name,omitempty"`
	Period         string   `json:"period,omitempty"`
	Subject        string   `json:"subject,omitempty"`
	TermRef        string   `json:"termRef,omitempty"`
	Teachers       []string `json:"teachers,omitempty"`
	PrimaryTeacher string   `json:"primaryTeacher,omitempty"`
	Students       []string `json:"students,omitempty"`
}

// TermRecord is one upstream term. Dates are raw ISO strings; parsing and
// validation happen in the reconciler.
type TermRecord struct {
	ID        string `json:"id"`
	District  string `json:"district"`
	Name      string `json:"name,omitempty"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

// Event is one upstream change event. Type is "<objectKind>.<action>"
// (e.g. "users.updated"); Payload is decoded lazily by the event processor
// so one malformed payload cannot poison the whole batch.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created"`
	Payload   json.RawMessage `json:"data"`
}

// Client is the upstream API surface the sync core consumes. List calls
// return complete result sets for the school (the wire client drives
// pagination internally). ListEvents returns events strictly after cursor
// in chronological order, at most limit of them; an empty cursor means
// "from the beginning". LatestEventID returns "" when the upstream has no
// events for the school yet.
type Client interface {
	ListStudents(ctx context.Context, upstreamSchoolID string, modifiedSince *time.Time) ([]StudentRecord, error)
	ListTeachers(ctx context.Context, upstreamSchoolID string, modifiedSince *time.Time) ([]TeacherRecord, error)
	ListSections(ctx context.Context, upstreamSchoolID string, modifiedSince *time.Time) ([]SectionRecord, error)
	ListTerms(ctx context.Context, upstreamSchoolID string, modifiedSince *time.Time) ([]TermRecord, error)
	ListEvents(ctx context.Context, upstreamSchoolID, cursor string, limit int) ([]Event, error)
	LatestEventID(ctx context.Context, upstreamSchoolID string) (string, error)
}
