// Package school implements the per-tenant roster store: students, teachers,
// sections, terms, section membership links, and the protected-section
// reference view.
//
// Soft delete is a core rule here, not a query-site concern: lookups by
// upstream id see soft-deleted rows (the reconciler needs them for
// restoration), while every List/Live read path filters deleted_at.
package school

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/edubase/rostersync/internal/store"
)

// Store is a handle on one school's roster database.
type Store struct {
	db *sql.DB
}

// Open opens (and if necessary bootstraps) the roster store at the given
// locator.
func Open(ctx context.Context, locator string) (*Store, error) {
	db, err := store.Open(ctx, locator)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init school schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

var schoolSchema = []string{
	`CREATE TABLE IF NOT EXISTS students (
		id              VARCHAR(64) PRIMARY KEY,
		upstream_id     VARCHAR(128) NOT NULL UNIQUE,
		first_name      VARCHAR(255) NOT NULL,
		middle_name     VARCHAR(255),
		last_name       VARCHAR(255) NOT NULL,
		grade           INTEGER,
		grade_label     VARCHAR(32),
		student_number  VARCHAR(64),
		state_id        VARCHAR(64),
		created_at      VARCHAR(40) NOT NULL,
		updated_at      VARCHAR(40) NOT NULL,
		last_seen_at    VARCHAR(40) NOT NULL,
		deleted_at      VARCHAR(40)
	)`,
	`CREATE INDEX idx_students_seen ON students(last_seen_at)`,
	`CREATE TABLE IF NOT EXISTS teachers (
		id              VARCHAR(64) PRIMARY KEY,
		upstream_id     VARCHAR(128) NOT NULL UNIQUE,
		first_name      VARCHAR(255) NOT NULL,
		last_name       VARCHAR(255) NOT NULL,
		full_name       VARCHAR(255) NOT NULL,
		staff_number    VARCHAR(64),
		teacher_number  VARCHAR(64),
		username        VARCHAR(128),
		created_at      VARCHAR(40) NOT NULL,
		updated_at      VARCHAR(40) NOT NULL,
		last_seen_at    VARCHAR(40) NOT NULL,
		deleted_at      VARCHAR(40)
	)`,
	`CREATE INDEX idx_teachers_seen ON teachers(last_seen_at)`,
	`CREATE TABLE IF NOT EXISTS sections (
		id                VARCHAR(64) PRIMARY KEY,
		upstream_id       VARCHAR(128) NOT NULL UNIQUE,
		name              VARCHAR(255),
		period            VARCHAR(64),
		subject           VARCHAR(128),
		term_upstream_id  VARCHAR(128),
		created_at        VARCHAR(40) NOT NULL,
		updated_at        VARCHAR(40) NOT NULL,
		last_seen_at      VARCHAR(40) NOT NULL,
		deleted_at        VARCHAR(40)
	)`,
	`CREATE INDEX idx_sections_seen ON sections(last_seen_at)`,
	`CREATE TABLE IF NOT EXISTS terms (
		id                    VARCHAR(64) PRIMARY KEY,
		upstream_id           VARCHAR(128) NOT NULL UNIQUE,
		district_upstream_id  VARCHAR(128),
		name                  VARCHAR(255),
		start_date            VARCHAR(16),
		end_date              VARCHAR(16),
		is_manual             INTEGER NOT NULL,
		created_at            VARCHAR(40) NOT NULL,
		updated_at            VARCHAR(40) NOT NULL,
		last_seen_at          VARCHAR(40) NOT NULL,
		deleted_at            VARCHAR(40)
	)`,
	`CREATE INDEX idx_terms_seen ON terms(last_seen_at)`,
	`CREATE TABLE IF NOT EXISTS teacher_sections (
		teacher_id  VARCHAR(64) NOT NULL,
		section_id  VARCHAR(64) NOT NULL,
		is_primary  INTEGER NOT NULL,
		PRIMARY KEY (teacher_id, section_id)
	)`,
	`CREATE INDEX idx_teacher_sections_section ON teacher_sections(section_id)`,
	`CREATE TABLE IF NOT EXISTS student_sections (
		student_id  VARCHAR(64) NOT NULL,
		section_id  VARCHAR(64) NOT NULL,
		off_campus  INTEGER NOT NULL,
		PRIMARY KEY (student_id, section_id)
	)`,
	`CREATE INDEX idx_student_sections_section ON student_sections(section_id)`,
	`CREATE TABLE IF NOT EXISTS protected_section_refs (
		section_upstream_id  VARCHAR(128) PRIMARY KEY,
		display_name         VARCHAR(255)
	)`,
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range schoolSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if strings.HasPrefix(stmt, "CREATE INDEX") && isDuplicateErr(err) {
				continue
			}
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}

func isDuplicateErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "already exists")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
