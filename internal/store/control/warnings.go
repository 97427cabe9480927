package control

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/edubase/rostersync/internal/store"
	"github.com/edubase/rostersync/internal/types"
)

// InsertWarning writes one warning row and returns it with its id populated.
func (s *Store) InsertWarning(ctx context.Context, w types.Warning) (types.Warning, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO warnings
			(id, attempt_id, kind, entity_kind, entity_id, upstream_entity_id,
			 display_name, message, affected_protected, affected_count,
			 acknowledged, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.AttemptID, string(w.Kind), string(w.EntityKind), w.EntityID,
		w.UpstreamEntityID, w.DisplayName, w.Message, w.AffectedProtected,
		w.AffectedCount, boolInt(w.Acknowledged), store.FormatTime(w.CreatedAt))
	if err != nil {
		return types.Warning{}, fmt.Errorf("insert warning: %w", err)
	}
	return w, nil
}

// ListWarningsByAttempt returns the warnings raised during one attempt.
func (s *Store) ListWarningsByAttempt(ctx context.Context, attemptID string) ([]types.Warning, error) {
	return s.listWarnings(ctx,
		warningSelect+` WHERE attempt_id = ? ORDER BY created_at, id`, attemptID)
}

// ListUnacknowledgedWarnings returns pending warnings for one school,
// newest first. Warnings reference schools through their attempt rows.
func (s *Store) ListUnacknowledgedWarnings(ctx context.Context, schoolID string) ([]types.Warning, error) {
	return s.listWarnings(ctx,
		`SELECT w.id, w.attempt_id, w.kind, w.entity_kind, w.entity_id,
			w.upstream_entity_id, w.display_name, w.message, w.affected_protected,
			w.affected_count, w.acknowledged, w.created_at
		 FROM warnings w
		 JOIN sync_attempts a ON a.id = w.attempt_id
		 WHERE a.school_id = ? AND w.acknowledged = 0
		 ORDER BY w.created_at DESC`, schoolID)
}

// AcknowledgeWarning marks a warning as handled.
func (s *Store) AcknowledgeWarning(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE warnings SET acknowledged = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("acknowledge warning: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

const warningSelect = `SELECT id, attempt_id, kind, entity_kind, entity_id,
	upstream_entity_id, display_name, message, affected_protected,
	affected_count, acknowledged, created_at FROM warnings`

func (s *Store) listWarnings(ctx context.Context, query string, args ...any) ([]types.Warning, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query warnings: %w", err)
	}
	defer rows.Close()

	var out []types.Warning
	for rows.Next() {
		var w types.Warning
		var kind, entityKind, createdAt string
		var entityID, upstreamID, displayName, message, affected sql.NullString
		var ack int
		if err := rows.Scan(&w.ID, &w.AttemptID, &kind, &entityKind, &entityID,
			&upstreamID, &displayName, &message, &affected, &w.AffectedCount,
			&ack, &createdAt); err != nil {
			return nil, fmt.Errorf("scan warning: %w", err)
		}
		w.Kind = types.WarningKind(kind)
		w.EntityKind = types.EntityKind(entityKind)
		w.EntityID = entityID.String
		w.UpstreamEntityID = upstreamID.String
		w.DisplayName = displayName.String
		w.Message = message.String
		w.AffectedProtected = affected.String
		w.Acknowledged = ack != 0
		if w.CreatedAt, err = store.ParseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
