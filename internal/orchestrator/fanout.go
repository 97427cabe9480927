package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/edubase/rostersync/internal/types"
)

// SyncDistrict syncs every active school in a district, at most
// Opts.SchoolConcurrency at a time. A school's failure lands in its own
// result and never cancels its siblings.
func (o *Orchestrator) SyncDistrict(ctx context.Context, districtID string, force bool) (*types.SyncSummary, error) {
	schools, err := o.Control.ListActiveSchools(ctx, districtID)
	if err != nil {
		return nil, fmt.Errorf("list schools for district %s: %w", districtID, err)
	}

	summary := &types.SyncSummary{}
	if len(schools) == 0 {
		return summary, nil
	}

	sem := semaphore.NewWeighted(int64(o.Opts.concurrency()))
	results := make([]*types.SyncResult, len(schools))
	var wg sync.WaitGroup
	var completed atomic.Int64

	for i, sch := range schools {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancelled while waiting for a slot; record the school as
			// failed rather than dropping it from the summary.
			results[i] = failResult(
				types.NewSyncResult(sch, types.ModeIncremental, o.now()),
				o.now(), fmt.Errorf("cancelled before start: %w", err))
			continue
		}
		wg.Add(1)
		go func(i int, sch types.School) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = o.districtScoped(&completed, len(schools)).SyncSchool(ctx, sch.ID, force)
			completed.Add(1)
		}(i, sch)
	}
	wg.Wait()

	for _, r := range results {
		if r != nil {
			summary.Absorb(r)
		}
	}
	return summary, nil
}

// districtScoped returns a copy of the orchestrator whose progress
// reporter rescales a school's 0-100 percent into the district's overall
// percent: each school owns a 100/total-wide slice, stacked in completion
// order.
func (o *Orchestrator) districtScoped(completed *atomic.Int64, total int) *Orchestrator {
	if o.Progress == nil || total <= 1 {
		return o
	}
	scoped := *o
	report := o.Progress
	scoped.Progress = func(s Snapshot) {
		done := int(completed.Load())
		if done >= total {
			done = total - 1
		}
		s.Percent = (done*100 + s.Percent) / total
		report(s)
	}
	return &scoped
}

// SyncAll syncs every district sequentially and folds the per-district
// summaries together. A failing district is logged and does not stop the
// rest.
func (o *Orchestrator) SyncAll(ctx context.Context, force bool) (*types.SyncSummary, error) {
	districts, err := o.Control.ListDistricts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list districts: %w", err)
	}

	total := &types.SyncSummary{}
	for _, d := range districts {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		s, err := o.SyncDistrict(ctx, d.ID, force)
		if err != nil {
			o.logger().Error("district sync failed", "district", d.ID, "error", err)
			continue
		}
		for _, r := range s.Results {
			total.Absorb(r)
		}
	}
	return total, nil
}
