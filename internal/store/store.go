// Package store provides the shared plumbing for the orchestration and
// per-school databases: connection-string handling for the supported
// drivers, sentinel errors, and the timestamp codec used by both stores.
//
// The concrete stores live in the control and school sub-packages.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Drivers for the two supported backends. Locators select between them;
	// see DriverFor.
	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotInitialized is returned when a store's schema has not been created.
var ErrNotInitialized = errors.New("store not initialized")

// ErrSchoolLocked is returned when another sync holds a school's advisory lock.
var ErrSchoolLocked = errors.New("school sync already in progress")

// ErrTerminalAttempt is returned on an update to an attempt row that has
// already reached a terminal status. Terminal rows are immutable.
var ErrTerminalAttempt = errors.New("attempt already finalized")

// Open opens a database handle for the given locator and verifies
// connectivity. Callers own the returned handle.
func Open(ctx context.Context, locator string) (*sql.DB, error) {
	driver, dsn, err := DriverFor(locator)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	if driver == "sqlite" {
		// A sqlite handle is a single file; pooling extra connections only
		// invites SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s store: %w", driver, err)
	}
	return db, nil
}

// timeFormat is the canonical timestamp layout persisted in both stores.
// Timestamps are stored as UTC text so the same SQL works on sqlite and
// MySQL and rows survive driver changes.
const timeFormat = "2006-01-02 15:04:05.999999999"

// dateFormat is the layout for date-only columns (term start/end).
const dateFormat = "2006-01-02"

// FormatTime renders t for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// FormatTimePtr renders t for storage, or NULL.
func FormatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: FormatTime(*t), Valid: true}
}

// ParseTime decodes a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{timeFormat, time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ParseTimePtr decodes a nullable stored timestamp.
func ParseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := ParseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FormatDate renders a date-only value for storage, or NULL.
func FormatDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(dateFormat), Valid: true}
}

// ParseDate decodes a nullable stored date.
func ParseDate(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(dateFormat, s.String)
	if err != nil {
		// Tolerate full timestamps in date columns; older rows were written
		// that way.
		t, err = ParseTime(s.String)
		if err != nil {
			return nil, fmt.Errorf("unrecognized date %q", s.String)
		}
	}
	t = t.UTC()
	return &t, nil
}

// NullIfBlank maps "" to NULL for optional text columns.
func NullIfBlank(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
