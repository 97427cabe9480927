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

const schoolColumns = `id, district_id, upstream_id, name, db_locator, active, requires_full_sync`

// UpsertSchool inserts or updates a school keyed by upstream id and returns
// the stored row.
func (s *Store) UpsertSchool(ctx context.Context, sch types.School) (types.School, error) {
	existing, err := s.GetSchoolByUpstreamID(ctx, sch.UpstreamID)
	switch {
	case err == nil:
		sch.ID = existing.ID
		_, err = s.db.ExecContext(ctx,
			`UPDATE schools SET district_id = ?, name = ?, db_locator = ?, active = ?, requires_full_sync = ?
			 WHERE id = ?`,
			sch.DistrictID, sch.Name, sch.DBLocator, boolInt(sch.Active), boolInt(sch.RequiresFullSync), sch.ID)
		if err != nil {
			return types.School{}, fmt.Errorf("update school: %w", err)
		}
		return sch, nil
	case errors.Is(err, store.ErrNotFound):
		if sch.ID == "" {
			sch.ID = uuid.NewString()
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO schools (`+schoolColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sch.ID, sch.DistrictID, sch.UpstreamID, sch.Name, sch.DBLocator,
			boolInt(sch.Active), boolInt(sch.RequiresFullSync))
		if err != nil {
			return types.School{}, fmt.Errorf("insert school: %w", err)
		}
		return sch, nil
	default:
		return types.School{}, err
	}
}

// GetSchool fetches a school by row id.
func (s *Store) GetSchool(ctx context.Context, id string) (types.School, error) {
	return scanSchool(s.db.QueryRowContext(ctx,
		`SELECT `+schoolColumns+` FROM schools WHERE id = ?`, id))
}

// GetSchoolByUpstreamID fetches a school by upstream id.
func (s *Store) GetSchoolByUpstreamID(ctx context.Context, upstreamID string) (types.School, error) {
	return scanSchool(s.db.QueryRowContext(ctx,
		`SELECT `+schoolColumns+` FROM schools WHERE upstream_id = ?`, upstreamID))
}

func scanSchool(row *sql.Row) (types.School, error) {
	var sch types.School
	var active, requiresFull int
	err := row.Scan(&sch.ID, &sch.DistrictID, &sch.UpstreamID, &sch.Name,
		&sch.DBLocator, &active, &requiresFull)
	if errors.Is(err, sql.ErrNoRows) {
		return types.School{}, store.ErrNotFound
	}
	if err != nil {
		return types.School{}, fmt.Errorf("scan school: %w", err)
	}
	sch.Active = active != 0
	sch.RequiresFullSync = requiresFull != 0
	return sch, nil
}

// ListActiveSchools returns the active schools of a district ordered by name.
func (s *Store) ListActiveSchools(ctx context.Context, districtID string) ([]types.School, error) {
	return s.listSchools(ctx,
		`SELECT `+schoolColumns+` FROM schools WHERE district_id = ? AND active = 1 ORDER BY name`,
		districtID)
}

// ListSchools returns all schools ordered by name.
func (s *Store) ListSchools(ctx context.Context) ([]types.School, error) {
	return s.listSchools(ctx, `SELECT `+schoolColumns+` FROM schools ORDER BY name`)
}

func (s *Store) listSchools(ctx context.Context, query string, args ...any) ([]types.School, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query schools: %w", err)
	}
	defer rows.Close()

	var out []types.School
	for rows.Next() {
		var sch types.School
		var active, requiresFull int
		if err := rows.Scan(&sch.ID, &sch.DistrictID, &sch.UpstreamID, &sch.Name,
			&sch.DBLocator, &active, &requiresFull); err != nil {
			return nil, fmt.Errorf("scan school: %w", err)
		}
		sch.Active = active != 0
		sch.RequiresFullSync = requiresFull != 0
		out = append(out, sch)
	}
	return out, rows.Err()
}

// SetRequiresFullSync flips the school's full-sync flag. The flag forces the
// next sync into full mode and is cleared only after a full sync succeeds.
func (s *Store) SetRequiresFullSync(ctx context.Context, schoolID string, v bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schools SET requires_full_sync = ? WHERE id = ?`, boolInt(v), schoolID)
	if err != nil {
		return fmt.Errorf("set requires_full_sync: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
