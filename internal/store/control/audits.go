package control

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/edubase/rostersync/internal/store"
	"github.com/edubase/rostersync/internal/types"
)

// InsertAudits writes a batch of change-audit rows in one transaction.
// Rows without an id get one assigned.
func (s *Store) InsertAudits(ctx context.Context, audits []types.ChangeAudit) error {
	if len(audits) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO change_audits
			(id, attempt_id, kind, upstream_entity_id, display_name, change_kind,
			 field_list, old_values, new_values, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range audits {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		_, err := stmt.ExecContext(ctx, a.ID, a.AttemptID, string(a.Kind),
			a.UpstreamEntityID, a.DisplayName, string(a.Change),
			a.FieldList, a.OldValues, a.NewValues, store.FormatTime(a.At))
		if err != nil {
			return fmt.Errorf("insert audit for %s: %w", a.UpstreamEntityID, err)
		}
	}
	return tx.Commit()
}

// ListAuditsByAttempt returns the audit rows for one attempt in insertion
// order.
func (s *Store) ListAuditsByAttempt(ctx context.Context, attemptID string) ([]types.ChangeAudit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, attempt_id, kind, upstream_entity_id, display_name, change_kind,
			field_list, old_values, new_values, at
		 FROM change_audits WHERE attempt_id = ? ORDER BY at, id`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query audits: %w", err)
	}
	defer rows.Close()

	var out []types.ChangeAudit
	for rows.Next() {
		var a types.ChangeAudit
		var kind, change, at string
		var fieldList, oldVals, newVals sql.NullString
		if err := rows.Scan(&a.ID, &a.AttemptID, &kind, &a.UpstreamEntityID,
			&a.DisplayName, &change, &fieldList, &oldVals, &newVals, &at); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		a.Kind = types.EntityKind(kind)
		a.Change = types.ChangeKind(change)
		a.FieldList = fieldList.String
		a.OldValues = oldVals.String
		a.NewValues = newVals.String
		if a.At, err = store.ParseTime(at); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
