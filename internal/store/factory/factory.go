// Package factory opens per-school roster stores from a school's dbLocator
// and holds an advisory lock for the duration, hardening the orchestrator's
// one-sync-per-school guarantee against overlapping processes.
package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/edubase/rostersync/internal/store"
	"github.com/edubase/rostersync/internal/store/school"
	"github.com/edubase/rostersync/internal/types"
)

// Opener is the factory surface the orchestrator consumes.
type Opener interface {
	OpenSchoolStore(ctx context.Context, sch types.School) (*Handle, error)
}

// Handle bundles an open roster store with its advisory lock. Close releases
// both; callers must Close on every exit path.
type Handle struct {
	Store *school.Store
	lock  *flock.Flock
}

// Close releases the store and the lock.
func (h *Handle) Close() error {
	err := h.Store.Close()
	if h.lock != nil {
		if uerr := h.lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}
	return err
}

// Factory is the default Opener.
type Factory struct {
	// LockDir overrides where lock files for non-file locators go.
	// Defaults to the OS temp directory.
	LockDir string
}

// OpenSchoolStore acquires the school's advisory lock, then opens its roster
// store. Returns store.ErrSchoolLocked when another sync holds the lock.
func (f *Factory) OpenSchoolStore(ctx context.Context, sch types.School) (*Handle, error) {
	lock := flock.New(f.lockPath(sch))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock for school %s: %w", sch.ID, err)
	}
	if !locked {
		return nil, fmt.Errorf("school %s: %w", sch.ID, store.ErrSchoolLocked)
	}

	st, err := school.Open(ctx, sch.DBLocator)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open roster store for school %s: %w", sch.ID, err)
	}
	return &Handle{Store: st, lock: lock}, nil
}

// lockPath places the lock next to sqlite files; server-backed locators get
// a per-school lock file under LockDir.
func (f *Factory) lockPath(sch types.School) string {
	locator := strings.TrimSpace(sch.DBLocator)
	if locator != "" && locator != ":memory:" &&
		!strings.HasPrefix(locator, "mysql://") && !strings.HasPrefix(locator, "file:") {
		return locator + ".sync.lock"
	}
	dir := f.LockDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "rostersync-"+sch.ID+".lock")
}
