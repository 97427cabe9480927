// Package types defines the core data structures shared across the roster
// sync system: orchestration-store rows (districts, schools, attempts,
// audits, warnings), per-school roster rows, and sync result values.
package types

import "time"

// EntityKind identifies the kind of record an attempt or audit row refers to.
type EntityKind string

const (
	KindStudent  EntityKind = "student"
	KindTeacher  EntityKind = "teacher"
	KindSection  EntityKind = "section"
	KindTerm     EntityKind = "term"
	KindEvent    EntityKind = "event"
	KindBaseline EntityKind = "baseline"
)

// SyncMode selects between full reconciliation and event replay.
type SyncMode string

const (
	ModeFull        SyncMode = "full"
	ModeIncremental SyncMode = "incremental"
)

// AttemptStatus is the lifecycle state of a SyncAttempt row.
// InProgress is the only non-terminal status; terminal rows are immutable.
type AttemptStatus string

const (
	StatusInProgress AttemptStatus = "in_progress"
	StatusSuccess    AttemptStatus = "success"
	StatusPartial    AttemptStatus = "partial"
	StatusFailed     AttemptStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s AttemptStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusPartial || s == StatusFailed
}

// ChangeKind classifies a change-audit row.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeUpdated  ChangeKind = "updated"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeOrphaned ChangeKind = "orphaned"
)

// WarningKind classifies a warning row.
type WarningKind string

const (
	WarnProtectedSectionModified WarningKind = "protected_section_modified"
	WarnProtectedSectionMissing  WarningKind = "protected_section_missing"
	WarnDownstreamSyncFailed     WarningKind = "downstream_sync_failed"
)

// District is an orchestration-store row for one upstream district.
type District struct {
	ID         string `json:"id"`
	UpstreamID string `json:"upstream_id"`
	Name       string `json:"name"`
	Timezone   string `json:"timezone,omitempty"`
}

// School is an orchestration-store row for one tenant. DBLocator is the
// connection locator for the per-school roster store (a sqlite path or a
// mysql:// DSN); the core never interprets it beyond handing it to the
// store factory.
type School struct {
	ID               string `json:"id"`
	DistrictID       string `json:"district_id"`
	UpstreamID       string `json:"upstream_id"`
	Name             string `json:"name"`
	DBLocator        string `json:"db_locator"`
	Active           bool   `json:"active"`
	RequiresFullSync bool   `json:"requires_full_sync"`
}

// SyncAttempt records one phase of sync work. The row is inserted with
// StatusInProgress before work begins so audits and warnings can reference
// its ID, then updated exactly once on completion.
type SyncAttempt struct {
	ID                 string        `json:"id"`
	SchoolID           string        `json:"school_id"`
	Kind               EntityKind    `json:"kind"`
	Mode               SyncMode      `json:"mode"`
	StartedAt          time.Time     `json:"started_at"`
	EndedAt            *time.Time    `json:"ended_at,omitempty"`
	Status             AttemptStatus `json:"status"`
	RecordsProcessed   int           `json:"records_processed"`
	RecordsUpdated     int           `json:"records_updated"`
	RecordsFailed      int           `json:"records_failed"`
	ErrorMessage       string        `json:"error_message,omitempty"`
	Cursor             string        `json:"cursor,omitempty"`
	CursorTimestamp    *time.Time    `json:"cursor_timestamp,omitempty"`
	LastKnownSyncPoint *time.Time    `json:"last_known_sync_point,omitempty"`
	Summary            string        `json:"summary,omitempty"` // JSON blob of per-kind counters
}

// ChangeAudit is one field-level diff row produced by a reconciler.
// OldValues and NewValues are compact JSON objects mapping field name to
// stringified value (JSON null for absent values).
type ChangeAudit struct {
	ID               string     `json:"id"`
	AttemptID        string     `json:"attempt_id"`
	Kind             EntityKind `json:"kind"`
	UpstreamEntityID string     `json:"upstream_entity_id"`
	DisplayName      string     `json:"display_name"`
	Change           ChangeKind `json:"change"`
	FieldList        string     `json:"field_list"`
	OldValues        string     `json:"old_values,omitempty"`
	NewValues        string     `json:"new_values,omitempty"`
	At               time.Time  `json:"at"`
}

// Warning is an advisory row raised when sync touches protected data or a
// recoverable external failure occurs.
type Warning struct {
	ID                 string      `json:"id"`
	AttemptID          string      `json:"attempt_id"`
	Kind               WarningKind `json:"kind"`
	EntityKind         EntityKind  `json:"entity_kind"`
	EntityID           string      `json:"entity_id,omitempty"`
	UpstreamEntityID   string      `json:"upstream_entity_id,omitempty"`
	DisplayName        string      `json:"display_name,omitempty"`
	Message            string      `json:"message"`
	AffectedProtected  string      `json:"affected_protected,omitempty"` // JSON array of {id, name}
	AffectedCount      int         `json:"affected_count"`
	Acknowledged       bool        `json:"acknowledged"`
	CreatedAt          time.Time   `json:"created_at"`
}

// Student is a per-school roster row. Grade is nil when the upstream grade
// string could not be interpreted.
type Student struct {
	ID            string     `json:"id"`
	UpstreamID    string     `json:"upstream_id"`
	FirstName     string     `json:"first_name"`
	MiddleName    string     `json:"middle_name,omitempty"`
	LastName      string     `json:"last_name"`
	Grade         *int       `json:"grade,omitempty"`
	GradeLabel    string     `json:"grade_label,omitempty"`
	StudentNumber string     `json:"student_number,omitempty"`
	StateID       string     `json:"state_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastSeenAt    time.Time  `json:"last_seen_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// Teacher is a per-school roster row.
type Teacher struct {
	ID            string     `json:"id"`
	UpstreamID    string     `json:"upstream_id"`
	FirstName     string     `json:"first_name"`
	LastName      string     `json:"last_name"`
	FullName      string     `json:"full_name"`
	StaffNumber   string     `json:"staff_number,omitempty"`
	TeacherNumber string     `json:"teacher_number,omitempty"`
	Username      string     `json:"username,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastSeenAt    time.Time  `json:"last_seen_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// Section is a per-school roster row. TermUpstreamID references the term by
// its upstream id, matching how the SIS expresses the link.
type Section struct {
	ID             string     `json:"id"`
	UpstreamID     string     `json:"upstream_id"`
	Name           string     `json:"name,omitempty"`
	Period         string     `json:"period,omitempty"`
	Subject        string     `json:"subject,omitempty"`
	TermUpstreamID string     `json:"term_upstream_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastSeenAt     time.Time  `json:"last_seen_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// Term is a per-school roster row. Manual terms are created by school staff
// rather than the upstream and are never orphaned by sync.
type Term struct {
	ID                 string     `json:"id"`
	UpstreamID         string     `json:"upstream_id"`
	DistrictUpstreamID string     `json:"district_upstream_id,omitempty"`
	Name               string     `json:"name,omitempty"`
	StartDate          *time.Time `json:"start_date,omitempty"`
	EndDate            *time.Time `json:"end_date,omitempty"`
	IsManual           bool       `json:"is_manual"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	LastSeenAt         time.Time  `json:"last_seen_at"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty"`
}

// TeacherSection links a teacher to a section. Composite key (TeacherID,
// SectionID); rows carry no user-editable state and are rewritten wholesale
// on every section reconcile.
type TeacherSection struct {
	TeacherID string `json:"teacher_id"`
	SectionID string `json:"section_id"`
	IsPrimary bool   `json:"is_primary"`
}

// StudentSection links a student to a section. Composite key (StudentID,
// SectionID); rows are diffed rather than rewritten because downstream
// tables reference them.
type StudentSection struct {
	StudentID string `json:"student_id"`
	SectionID string `json:"section_id"`
	OffCampus bool   `json:"off_campus"`
}

// ProtectedRef identifies a section referenced by the downstream system.
type ProtectedRef struct {
	SectionUpstreamID string `json:"id"`
	DisplayName       string `json:"name"`
}

// KindCounts carries per-entity-kind counters for one sync run.
type KindCounts struct {
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	Failed    int `json:"failed"`
	Deleted   int `json:"deleted"`
	Skipped   int `json:"skipped"`
}

// Add folds another counter set into c.
func (c *KindCounts) Add(o KindCounts) {
	c.Processed += o.Processed
	c.Updated += o.Updated
	c.Failed += o.Failed
	c.Deleted += o.Deleted
	c.Skipped += o.Skipped
}

// EventsSummary carries event-batch counters for an incremental run.
type EventsSummary struct {
	Fetched   int    `json:"fetched"`
	Processed int    `json:"processed"`
	Updated   int    `json:"updated"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Cursor    string `json:"cursor,omitempty"`
}

// SyncResult is the outcome of syncing one school.
type SyncResult struct {
	SchoolID     string                    `json:"school_id"`
	SchoolName   string                    `json:"school_name"`
	Success      bool                      `json:"success"`
	ErrorMessage string                    `json:"error_message,omitempty"`
	Mode         SyncMode                  `json:"mode"`
	Counts       map[EntityKind]*KindCounts `json:"counts"`
	Warnings     []Warning                 `json:"warnings,omitempty"`
	Events       *EventsSummary            `json:"events,omitempty"`
	SkippedProtected int                   `json:"skipped_protected,omitempty"`
	StartedAt    time.Time                 `json:"started_at"`
	EndedAt      time.Time                 `json:"ended_at"`
}

// NewSyncResult returns a result with counters allocated for every roster
// entity kind.
func NewSyncResult(school School, mode SyncMode, startedAt time.Time) *SyncResult {
	return &SyncResult{
		SchoolID:   school.ID,
		SchoolName: school.Name,
		Mode:       mode,
		StartedAt:  startedAt,
		Counts: map[EntityKind]*KindCounts{
			KindStudent: {},
			KindTeacher: {},
			KindSection: {},
			KindTerm:    {},
		},
	}
}

// TotalProcessed sums processed counters across kinds.
func (r *SyncResult) TotalProcessed() int {
	n := 0
	for _, c := range r.Counts {
		n += c.Processed
	}
	return n
}

// TotalFailed sums failed counters across kinds.
func (r *SyncResult) TotalFailed() int {
	n := 0
	for _, c := range r.Counts {
		n += c.Failed
	}
	return n
}

// SyncSummary aggregates school results for a district or all-districts run.
type SyncSummary struct {
	TotalSchools      int           `json:"total_schools"`
	SuccessfulSchools int           `json:"successful_schools"`
	FailedSchools     int           `json:"failed_schools"`
	TotalProcessed    int           `json:"total_processed"`
	TotalFailed       int           `json:"total_failed"`
	Results           []*SyncResult `json:"results"`
}

// Absorb folds one school result into the summary.
func (s *SyncSummary) Absorb(r *SyncResult) {
	s.TotalSchools++
	if r.Success {
		s.SuccessfulSchools++
	} else {
		s.FailedSchools++
	}
	s.TotalProcessed += r.TotalProcessed()
	s.TotalFailed += r.TotalFailed()
	s.Results = append(s.Results, r)
}
