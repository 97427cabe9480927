package school

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/edubase/rostersync/internal/types"
)

// ListProtectedRefs returns the sections referenced by the downstream
// system. The view is read-only from sync's perspective; the downstream
// procedure maintains it.
func (s *Store) ListProtectedRefs(ctx context.Context) ([]types.ProtectedRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT section_upstream_id, display_name FROM protected_section_refs ORDER BY section_upstream_id`)
	if err != nil {
		return nil, fmt.Errorf("query protected refs: %w", err)
	}
	defer rows.Close()

	var out []types.ProtectedRef
	for rows.Next() {
		var r types.ProtectedRef
		var name sql.NullString
		if err := rows.Scan(&r.SectionUpstreamID, &name); err != nil {
			return nil, fmt.Errorf("scan protected ref: %w", err)
		}
		r.DisplayName = name.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// AddProtectedRef upserts a protected-section reference, keyed by the
// section's upstream id. Exists for tests and operational tooling;
// production rows come from the downstream system.
func (s *Store) AddProtectedRef(ctx context.Context, r types.ProtectedRef) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE protected_section_refs SET display_name = ? WHERE section_upstream_id = ?`,
		r.DisplayName, r.SectionUpstreamID)
	if err != nil {
		return fmt.Errorf("update protected ref %s: %w", r.SectionUpstreamID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO protected_section_refs (section_upstream_id, display_name) VALUES (?, ?)`,
			r.SectionUpstreamID, r.DisplayName); err != nil {
			return fmt.Errorf("insert protected ref %s: %w", r.SectionUpstreamID, err)
		}
	}
	return nil
}
