// Package control implements the orchestration store shared by all tenants:
// districts, schools, sync attempts, change audits, and warnings.
//
// All SQL is written in the dialect subset common to sqlite and MySQL; ids
// are UUID strings and timestamps are stored as UTC text (see the parent
// store package).
package control

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/edubase/rostersync/internal/store"
)

// Store is a handle on the orchestration database.
type Store struct {
	db *sql.DB
}

// Open opens (and if necessary bootstraps) the orchestration store at the
// given locator.
func Open(ctx context.Context, locator string) (*Store, error) {
	db, err := store.Open(ctx, locator)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init control schema: %w", err)
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

var controlSchema = []string{
	`CREATE TABLE IF NOT EXISTS districts (
		id           VARCHAR(64) PRIMARY KEY,
		upstream_id  VARCHAR(128) NOT NULL UNIQUE,
		name         VARCHAR(255) NOT NULL,
		timezone     VARCHAR(64) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS schools (
		id                  VARCHAR(64) PRIMARY KEY,
		district_id         VARCHAR(64) NOT NULL,
		upstream_id         VARCHAR(128) NOT NULL UNIQUE,
		name                VARCHAR(255) NOT NULL,
		db_locator          VARCHAR(512) NOT NULL,
		active              INTEGER NOT NULL,
		requires_full_sync  INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sync_attempts (
		id                     VARCHAR(64) PRIMARY KEY,
		school_id              VARCHAR(64) NOT NULL,
		kind                   VARCHAR(16) NOT NULL,
		mode                   VARCHAR(16) NOT NULL,
		started_at             VARCHAR(40) NOT NULL,
		ended_at               VARCHAR(40),
		status                 VARCHAR(16) NOT NULL,
		records_processed      INTEGER NOT NULL,
		records_updated        INTEGER NOT NULL,
		records_failed         INTEGER NOT NULL,
		error_message          TEXT,
		event_cursor           VARCHAR(128),
		cursor_timestamp       VARCHAR(40),
		last_known_sync_point  VARCHAR(40),
		summary                TEXT
	)`,
	`CREATE INDEX idx_attempts_school_started ON sync_attempts(school_id, started_at)`,
	`CREATE INDEX idx_attempts_school_status ON sync_attempts(school_id, status)`,
	`CREATE TABLE IF NOT EXISTS change_audits (
		id                  VARCHAR(64) PRIMARY KEY,
		attempt_id          VARCHAR(64) NOT NULL,
		kind                VARCHAR(16) NOT NULL,
		upstream_entity_id  VARCHAR(128) NOT NULL,
		display_name        VARCHAR(255) NOT NULL,
		change_kind         VARCHAR(16) NOT NULL,
		field_list          TEXT,
		old_values          TEXT,
		new_values          TEXT,
		at                  VARCHAR(40) NOT NULL
	)`,
	`CREATE INDEX idx_audits_attempt ON change_audits(attempt_id)`,
	`CREATE TABLE IF NOT EXISTS warnings (
		id                  VARCHAR(64) PRIMARY KEY,
		attempt_id          VARCHAR(64) NOT NULL,
		kind                VARCHAR(40) NOT NULL,
		entity_kind         VARCHAR(16) NOT NULL,
		entity_id           VARCHAR(64),
		upstream_entity_id  VARCHAR(128),
		display_name        VARCHAR(255),
		message             TEXT,
		affected_protected  TEXT,
		affected_count      INTEGER NOT NULL,
		acknowledged        INTEGER NOT NULL,
		created_at          VARCHAR(40) NOT NULL
	)`,
	`CREATE INDEX idx_warnings_attempt ON warnings(attempt_id)`,
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range controlSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			// MySQL has no CREATE INDEX IF NOT EXISTS; a duplicate index on
			// re-open is benign.
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
