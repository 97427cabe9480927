package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edubase/rostersync/internal/store/school"
	"github.com/edubase/rostersync/internal/types"
)

// Protection tracks the school's protected sections for one sync run.
// Reconcilers consult it before destructive section operations and flag
// enrollment changes; the orchestrator reads the flag to decide whether
// to fire the downstream procedure. Attempt-scoped, single-goroutine.
type Protection struct {
	refs              map[string]types.ProtectedRef
	enrollmentChanged bool
}

// LoadProtection reads the protected-section set once for a sync run.
func LoadProtection(ctx context.Context, local *school.Store) (*Protection, error) {
	refs, err := local.ListProtectedRefs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load protected sections: %w", err)
	}
	p := &Protection{refs: make(map[string]types.ProtectedRef, len(refs))}
	for _, r := range refs {
		p.refs[r.SectionUpstreamID] = r
	}
	return p, nil
}

// EmptyProtection returns a tracker with no protected sections. Used by
// event-only runs against schools that never loaded one, and by tests.
func EmptyProtection() *Protection {
	return &Protection{refs: map[string]types.ProtectedRef{}}
}

// Lookup returns the protected reference for a section upstream id.
func (p *Protection) Lookup(sectionUpstreamID string) (types.ProtectedRef, bool) {
	r, ok := p.refs[sectionUpstreamID]
	return r, ok
}

// MarkEnrollmentChanged records that a protected section's membership moved.
func (p *Protection) MarkEnrollmentChanged() { p.enrollmentChanged = true }

// EnrollmentChanged reports whether any protected enrollment changed.
func (p *Protection) EnrollmentChanged() bool { return p.enrollmentChanged }

// affectedBlob renders protected references as the JSON blob stored on
// warning rows.
func affectedBlob(refs ...types.ProtectedRef) string {
	b, _ := json.Marshal(refs)
	return string(b)
}
