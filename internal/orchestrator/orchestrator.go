// Package orchestrator drives roster syncs: mode selection, the full-sync
// phase sequence, incremental event replay, and the bounded fan-out across
// a district's schools.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/edubase/rostersync/internal/downstream"
	"github.com/edubase/rostersync/internal/sis"
	"github.com/edubase/rostersync/internal/store/control"
	"github.com/edubase/rostersync/internal/store/factory"
	"github.com/edubase/rostersync/internal/types"
)

// Options tune orchestration behavior. Zero values select the defaults.
type Options struct {
	// SchoolConcurrency bounds parallel school syncs per district.
	SchoolConcurrency int
	// EventBatchLimit caps how many events one incremental attempt fetches.
	EventBatchLimit int
	// AttemptTimeout is the hard per-school deadline; 0 disables it.
	AttemptTimeout time.Duration
	// FullOnMissingCursor promotes a cursorless incremental run to a full
	// sync instead of the time-filtered fallback reconcile.
	FullOnMissingCursor bool
}

const (
	defaultSchoolConcurrency = 5
	defaultEventBatchLimit   = 1000
)

func (o Options) concurrency() int {
	if o.SchoolConcurrency > 0 {
		return o.SchoolConcurrency
	}
	return defaultSchoolConcurrency
}

func (o Options) eventLimit() int {
	if o.EventBatchLimit > 0 {
		return o.EventBatchLimit
	}
	return defaultEventBatchLimit
}

// SessionCleaner is the optional post-sync hook. Failures log only.
type SessionCleaner interface {
	CleanupSessions(ctx context.Context, schoolID string) error
}

// Orchestrator wires the sync core's collaborators together.
type Orchestrator struct {
	Control    *control.Store
	SIS        sis.Client
	Factory    factory.Opener
	Downstream downstream.Runner
	Cleaner    SessionCleaner
	Logger     *slog.Logger
	Progress   ProgressFunc
	Opts       Options

	// Clock defaults to time.Now; tests override it.
	Clock func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Clock != nil {
		return o.Clock().UTC()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Orchestrator) downstreamRunner() downstream.Runner {
	if o.Downstream != nil {
		return o.Downstream
	}
	return downstream.Noop{}
}

// summaryBlob renders per-kind counters as the JSON stored on attempt rows.
func summaryBlob(counts map[types.EntityKind]*types.KindCounts) string {
	b, _ := json.Marshal(counts)
	return string(b)
}
