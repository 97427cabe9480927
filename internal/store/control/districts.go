package control

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/edubase/rostersync/internal/store"
	"github.com/edubase/rostersync/internal/types"
)

// UpsertDistrict inserts or updates a district keyed by upstream id and
// returns the stored row (with its id populated).
func (s *Store) UpsertDistrict(ctx context.Context, d types.District) (types.District, error) {
	existing, err := s.GetDistrictByUpstreamID(ctx, d.UpstreamID)
	switch {
	case err == nil:
		d.ID = existing.ID
		_, err = s.db.ExecContext(ctx,
			`UPDATE districts SET name = ?, timezone = ? WHERE id = ?`,
			d.Name, d.Timezone, d.ID)
		if err != nil {
			return types.District{}, fmt.Errorf("update district: %w", err)
		}
		return d, nil
	case errors.Is(err, store.ErrNotFound):
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO districts (id, upstream_id, name, timezone) VALUES (?, ?, ?, ?)`,
			d.ID, d.UpstreamID, d.Name, d.Timezone)
		if err != nil {
			return types.District{}, fmt.Errorf("insert district: %w", err)
		}
		return d, nil
	default:
		return types.District{}, err
	}
}

// GetDistrict fetches a district by row id.
func (s *Store) GetDistrict(ctx context.Context, id string) (types.District, error) {
	return s.scanDistrict(s.db.QueryRowContext(ctx,
		`SELECT id, upstream_id, name, timezone FROM districts WHERE id = ?`, id))
}

// GetDistrictByUpstreamID fetches a district by upstream id.
func (s *Store) GetDistrictByUpstreamID(ctx context.Context, upstreamID string) (types.District, error) {
	return s.scanDistrict(s.db.QueryRowContext(ctx,
		`SELECT id, upstream_id, name, timezone FROM districts WHERE upstream_id = ?`, upstreamID))
}

func (s *Store) scanDistrict(row *sql.Row) (types.District, error) {
	var d types.District
	err := row.Scan(&d.ID, &d.UpstreamID, &d.Name, &d.Timezone)
	if errors.Is(err, sql.ErrNoRows) {
		return types.District{}, store.ErrNotFound
	}
	if err != nil {
		return types.District{}, fmt.Errorf("scan district: %w", err)
	}
	return d, nil
}

// ListDistricts returns all districts ordered by name.
func (s *Store) ListDistricts(ctx context.Context) ([]types.District, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, upstream_id, name, timezone FROM districts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query districts: %w", err)
	}
	defer rows.Close()

	var out []types.District
	for rows.Next() {
		var d types.District
		if err := rows.Scan(&d.ID, &d.UpstreamID, &d.Name, &d.Timezone); err != nil {
			return nil, fmt.Errorf("scan district: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
