// Package reconcile applies normalized upstream roster records to a
// per-school store. One reconciler per entity kind; all share the upsert
// contract: look up by upstream id, diff with blank-insensitive equality,
// persist only on change, and emit an audit row for every mutation.
package reconcile

import (
	"log/slog"
	"time"

	"github.com/edubase/rostersync/internal/audit"
	"github.com/edubase/rostersync/internal/store/control"
	"github.com/edubase/rostersync/internal/store/school"
	"github.com/edubase/rostersync/internal/types"
)

// Context carries the attempt-scoped collaborators every reconciler needs.
// One Context serves one school sync run; it is never shared across runs.
type Context struct {
	School     types.School
	Local      *school.Store
	Control    *control.Store
	Tracker    *audit.Tracker
	Protection *Protection
	Logger     *slog.Logger

	// RunStart is when the school sync began. Orphan detection uses it as
	// the cutoff so rows touched by any phase of this run survive.
	RunStart time.Time

	// Clock defaults to time.Now; tests override it.
	Clock func() time.Time
}

func (rc *Context) now() time.Time {
	if rc.Clock != nil {
		return rc.Clock().UTC()
	}
	return time.Now().UTC()
}

func (rc *Context) logger() *slog.Logger {
	if rc.Logger != nil {
		return rc.Logger
	}
	return slog.Default()
}

// Students returns the student reconciler bound to this context.
func (rc *Context) Students() *StudentReconciler { return &StudentReconciler{rc: rc} }

// Teachers returns the teacher reconciler bound to this context.
func (rc *Context) Teachers() *TeacherReconciler { return &TeacherReconciler{rc: rc} }

// Sections returns the section reconciler bound to this context.
func (rc *Context) Sections() *SectionReconciler { return &SectionReconciler{rc: rc} }

// Terms returns the term reconciler bound to this context.
func (rc *Context) Terms() *TermReconciler { return &TermReconciler{rc: rc} }

// Associations returns the membership reconciler bound to this context.
func (rc *Context) Associations() *AssociationsReconciler {
	return &AssociationsReconciler{rc: rc}
}

// gradeEqual compares normalized grade pointers.
func gradeEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// dateEqual compares date pointers by instant.
func dateEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
