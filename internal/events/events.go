// Package events replays upstream change events against a per-school
// store. Events are processed strictly in the order the upstream returns
// them; a failing event is counted and skipped so one poison payload can
// never stall the stream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/edubase/rostersync/internal/reconcile"
	"github.com/edubase/rostersync/internal/sis"
	"github.com/edubase/rostersync/internal/types"
)

// BatchResult summarizes one replayed batch. Processed counts every
// attempted event, failures included; only unhandled kinds are excluded.
// LastSuccess* track the cursor candidate; LastFetched* let the caller
// advance past a poison tail.
type BatchResult struct {
	Fetched          int
	Processed        int
	Updated          int
	Failed           int
	Skipped          int
	SkippedProtected int
	LastSuccessID    string
	LastSuccessAt    *time.Time
	LastFetchedID    string
	LastFetchedAt    *time.Time
	Errors           []string
}

// Cursor returns the cursor the attempt should record: the last successful
// event when any succeeded, else the last fetched event.
func (b BatchResult) Cursor() (string, *time.Time) {
	if b.LastSuccessID != "" {
		return b.LastSuccessID, b.LastSuccessAt
	}
	return b.LastFetchedID, b.LastFetchedAt
}

// Processor dispatches events to the entity reconcilers.
type Processor struct {
	rc     *reconcile.Context
	logger *slog.Logger
}

// New returns a processor bound to one school sync context.
func New(rc *reconcile.Context) *Processor {
	logger := rc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{rc: rc, logger: logger}
}

// ProcessBatch replays events sequentially. Per-event failures are
// absorbed into the result; the returned error is non-nil only on
// cancellation, with the result covering the events handled so far.
func (p *Processor) ProcessBatch(ctx context.Context, attempt *types.SyncAttempt, events []sis.Event) (BatchResult, error) {
	var res BatchResult
	res.Fetched = len(events)

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.LastFetchedID = ev.ID
		at := ev.CreatedAt
		res.LastFetchedAt = &at

		changed, err := p.dispatch(ctx, attempt, ev)
		if err == errSkippedKind {
			res.Skipped++
			continue
		}
		res.Processed++
		if err == errSkippedProtected {
			res.SkippedProtected++
			// Still a successful handling of the event.
		} else if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("event %s (%s): %v", ev.ID, ev.Type, err))
			p.logger.Warn("event failed, continuing",
				"event", ev.ID, "type", ev.Type, "error", err)
			continue
		}
		if changed {
			res.Updated++
		}
		res.LastSuccessID = ev.ID
		res.LastSuccessAt = &at
	}
	return res, nil
}

// Sentinel outcomes for dispatch; both mean "not an error".
var (
	errSkippedKind      = fmt.Errorf("event kind skipped")
	errSkippedProtected = fmt.Errorf("protected section skipped")
)

func (p *Processor) dispatch(ctx context.Context, attempt *types.SyncAttempt, ev sis.Event) (bool, error) {
	objectKind, action, err := splitType(ev.Type)
	if err != nil {
		return false, err
	}

	switch objectKind {
	case "user":
		return p.dispatchUser(ctx, attempt, action, ev)
	case "section":
		return p.dispatchSection(ctx, attempt, action, ev)
	case "term":
		return p.dispatchTerm(ctx, attempt, action, ev)
	case "course", "district":
		return false, errSkippedKind
	default:
		return false, errSkippedKind
	}
}

// splitType parses "<objectKind>.<action>", tolerating the plural object
// kinds some upstream versions emit ("users.updated").
func splitType(t string) (objectKind, action string, err error) {
	parts := strings.SplitN(t, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed event type %q", t)
	}
	return strings.TrimSuffix(parts[0], "s"), parts[1], nil
}

func (p *Processor) dispatchUser(ctx context.Context, attempt *types.SyncAttempt, action string, ev sis.Event) (bool, error) {
	role, err := classifyUser(ev.Payload)
	if err != nil {
		return false, err
	}

	if action == "deleted" {
		id, err := payloadID(ev.Payload)
		if err != nil {
			return false, err
		}
		switch role {
		case types.KindStudent:
			return false, p.rc.Students().SoftDeleteByUpstreamID(ctx, attempt, id)
		case types.KindTeacher:
			return false, p.rc.Teachers().SoftDeleteByUpstreamID(ctx, attempt, id)
		default:
			// Deletion payloads often omit roles; a delete is idempotent in
			// both tables, so try each.
			if err := p.rc.Students().SoftDeleteByUpstreamID(ctx, attempt, id); err != nil {
				return false, err
			}
			return false, p.rc.Teachers().SoftDeleteByUpstreamID(ctx, attempt, id)
		}
	}

	switch role {
	case types.KindStudent:
		var rec sis.StudentRecord
		if err := json.Unmarshal(ev.Payload, &rec); err != nil {
			return false, fmt.Errorf("decode student payload: %w", err)
		}
		if rec.ID == "" {
			return false, fmt.Errorf("student payload missing id")
		}
		return p.rc.Students().UpsertOne(ctx, attempt, rec)
	case types.KindTeacher:
		var rec sis.TeacherRecord
		if err := json.Unmarshal(ev.Payload, &rec); err != nil {
			return false, fmt.Errorf("decode teacher payload: %w", err)
		}
		if rec.ID == "" {
			return false, fmt.Errorf("teacher payload missing id")
		}
		return p.rc.Teachers().UpsertOne(ctx, attempt, rec)
	default:
		return false, fmt.Errorf("user payload has neither student nor teacher role")
	}
}

func (p *Processor) dispatchSection(ctx context.Context, attempt *types.SyncAttempt, action string, ev sis.Event) (bool, error) {
	if action == "deleted" {
		id, err := payloadID(ev.Payload)
		if err != nil {
			return false, err
		}
		skipped, err := p.rc.Sections().SoftDeleteByUpstreamID(ctx, attempt, id)
		if err != nil {
			return false, err
		}
		if skipped {
			return false, errSkippedProtected
		}
		return false, nil
	}

	var rec sis.SectionRecord
	if err := json.Unmarshal(ev.Payload, &rec); err != nil {
		return false, fmt.Errorf("decode section payload: %w", err)
	}
	if rec.ID == "" {
		return false, fmt.Errorf("section payload missing id")
	}
	changed, err := p.rc.Sections().UpsertOne(ctx, attempt, rec)
	if err != nil {
		return false, err
	}
	sec, err := p.rc.Local.GetSectionByUpstreamID(ctx, rec.ID)
	if err != nil {
		return changed, err
	}
	membership, err := p.rc.Associations().SyncSection(ctx, sec, rec.Teachers, rec.PrimaryTeacher, rec.Students)
	if err != nil {
		return changed, err
	}
	return changed || membership.Changed(), nil
}

func (p *Processor) dispatchTerm(ctx context.Context, attempt *types.SyncAttempt, action string, ev sis.Event) (bool, error) {
	if action == "deleted" {
		id, err := payloadID(ev.Payload)
		if err != nil {
			return false, err
		}
		return false, p.rc.Terms().SoftDeleteByUpstreamID(ctx, attempt, id)
	}
	var rec sis.TermRecord
	if err := json.Unmarshal(ev.Payload, &rec); err != nil {
		return false, fmt.Errorf("decode term payload: %w", err)
	}
	if rec.ID == "" {
		return false, fmt.Errorf("term payload missing id")
	}
	return p.rc.Terms().UpsertOne(ctx, attempt, rec)
}

// classifyUser inspects a user payload's roles, which arrive either as an
// object keyed by role name or, from older upstream versions, as an array
// of {role} objects. Returns "" when no role is present (deletion payloads
// often omit roles entirely).
func classifyUser(payload json.RawMessage) (types.EntityKind, error) {
	var peek struct {
		Roles json.RawMessage `json:"roles"`
	}
	if err := json.Unmarshal(payload, &peek); err != nil {
		return "", fmt.Errorf("decode user payload: %w", err)
	}
	if len(peek.Roles) == 0 {
		return "", nil
	}

	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(peek.Roles, &keyed); err == nil {
		if _, ok := keyed["student"]; ok {
			return types.KindStudent, nil
		}
		if _, ok := keyed["teacher"]; ok {
			return types.KindTeacher, nil
		}
		return "", nil
	}

	var legacy []struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(peek.Roles, &legacy); err == nil {
		for _, r := range legacy {
			switch strings.ToLower(r.Role) {
			case "student":
				return types.KindStudent, nil
			case "teacher":
				return types.KindTeacher, nil
			}
		}
		return "", nil
	}
	return "", fmt.Errorf("unrecognized roles shape in user payload")
}

func payloadID(payload json.RawMessage) (string, error) {
	var peek struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &peek); err != nil {
		return "", fmt.Errorf("decode payload id: %w", err)
	}
	if peek.ID == "" {
		return "", fmt.Errorf("payload missing id")
	}
	return peek.ID, nil
}
