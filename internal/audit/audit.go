// Package audit buffers field-level change rows during a sync run and
// flushes them to the orchestration store in one batch. Audit writes are
// advisory: a failed flush is logged, never propagated, so bookkeeping can
// not fail a sync that moved real data.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/edubase/rostersync/internal/types"
)

// Sink receives flushed audit rows. *control.Store satisfies it.
type Sink interface {
	InsertAudits(ctx context.Context, audits []types.ChangeAudit) error
}

// Change is one field diff. Nil Old means the field had no prior value,
// nil New means the field was cleared.
type Change struct {
	Name string
	Old  *string
	New  *string
}

// Tracker accumulates audit rows for one school sync. Safe for concurrent
// use, although reconcilers run sequentially today.
type Tracker struct {
	mu     sync.Mutex
	rows   []types.ChangeAudit
	logger *slog.Logger
	clock  func() time.Time
}

// New returns an empty tracker. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{logger: logger, clock: time.Now}
}

// SetClock overrides the timestamp source. Tests only.
func (t *Tracker) SetClock(clock func() time.Time) { t.clock = clock }

// TrackCreate records a creation. Every non-nil change value becomes a
// null-to-value diff.
func (t *Tracker) TrackCreate(attemptID string, kind types.EntityKind, upstreamID, displayName string, changes []Change) {
	t.append(attemptID, kind, upstreamID, displayName, types.ChangeCreated, changes)
}

// TrackUpdate records a field-level update. An empty change set is dropped:
// a no-op reconcile leaves no audit trail.
func (t *Tracker) TrackUpdate(attemptID string, kind types.EntityKind, upstreamID, displayName string, changes []Change) {
	if len(changes) == 0 {
		return
	}
	t.append(attemptID, kind, upstreamID, displayName, types.ChangeUpdated, changes)
}

// TrackDelete records a soft delete driven by an upstream event.
func (t *Tracker) TrackDelete(attemptID string, kind types.EntityKind, upstreamID, displayName string) {
	t.append(attemptID, kind, upstreamID, displayName, types.ChangeDeleted, nil)
}

// TrackOrphan records a soft delete driven by absence from a full sync.
func (t *Tracker) TrackOrphan(attemptID string, kind types.EntityKind, upstreamID, displayName string) {
	t.append(attemptID, kind, upstreamID, displayName, types.ChangeOrphaned, nil)
}

func (t *Tracker) append(attemptID string, kind types.EntityKind, upstreamID, displayName string, change types.ChangeKind, changes []Change) {
	row := types.ChangeAudit{
		AttemptID:        attemptID,
		Kind:             kind,
		UpstreamEntityID: upstreamID,
		DisplayName:      displayName,
		Change:           change,
		At:               t.clock().UTC(),
	}
	if len(changes) > 0 {
		row.FieldList, row.OldValues, row.NewValues = encodeChanges(changes)
	}
	t.mu.Lock()
	t.rows = append(t.rows, row)
	t.mu.Unlock()
}

// Len reports the number of buffered rows.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}

// Flush writes every buffered row through the sink and clears the buffer.
// The buffer clears even on failure; retrying a broken orchestration store
// mid-sync would only stall the run.
func (t *Tracker) Flush(ctx context.Context, sink Sink) {
	t.mu.Lock()
	rows := t.rows
	t.rows = nil
	t.mu.Unlock()

	if len(rows) == 0 {
		return
	}
	if err := sink.InsertAudits(ctx, rows); err != nil {
		t.logger.Warn("audit flush failed, changes applied but not recorded",
			"rows", len(rows), "error", err)
	}
}

// encodeChanges renders a change set into the three stored columns: a
// comma-joined field list plus old/new JSON objects keyed by field name.
func encodeChanges(changes []Change) (fieldList, oldJSON, newJSON string) {
	names := make([]string, 0, len(changes))
	oldVals := make(map[string]*string, len(changes))
	newVals := make(map[string]*string, len(changes))
	for _, c := range changes {
		names = append(names, c.Name)
		oldVals[c.Name] = c.Old
		newVals[c.Name] = c.New
	}
	ob, _ := json.Marshal(oldVals)
	nb, _ := json.Marshal(newVals)
	return strings.Join(names, ","), string(ob), string(nb)
}

// Str returns a pointer to s. Convenience for building change sets.
func Str(s string) *string { return &s }
