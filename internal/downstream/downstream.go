// Package downstream defines the hook into the reporting system that
// consumes synced rosters. The sync core only decides WHEN to fire it;
// the procedure itself lives outside this module.
package downstream

import (
	"context"

	"github.com/edubase/rostersync/internal/store/school"
)

// Result reports what the downstream procedure did.
type Result struct {
	Success bool
	Detail  string
}

// Runner is invoked after a school sync when section data or protected
// enrollments changed. sectionAttemptID scopes the run to the section
// phase that triggered it.
type Runner interface {
	Run(ctx context.Context, local *school.Store, sectionAttemptID string) (Result, error)
}

// Noop is the default runner for deployments without a downstream system.
type Noop struct{}

// Run reports success without doing anything.
func (Noop) Run(context.Context, *school.Store, string) (Result, error) {
	return Result{Success: true, Detail: "no downstream configured"}, nil
}
