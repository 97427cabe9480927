package orchestrator

import "github.com/edubase/rostersync/internal/types"

// Snapshot is one best-effort progress report. Reporting never blocks sync
// work; a nil reporter disables it entirely.
type Snapshot struct {
	SchoolID   string
	SchoolName string
	Operation  string
	Percent    int
	Processed  int
	Kind       types.EntityKind
}

// ProgressFunc receives snapshots. Implementations must return quickly.
type ProgressFunc func(Snapshot)

// progressEvery is the record interval between mid-phase snapshots.
const progressEvery = 10

// phasePercent maps each full-sync phase to its share of the overall run.
// The weights are rough; progress is informational.
var phaseBase = map[types.EntityKind]int{
	types.KindStudent: 0,
	types.KindTeacher: 30,
	types.KindSection: 55,
	types.KindTerm:    85,
}

func phaseSpan(kind types.EntityKind) (base, width int) {
	base = phaseBase[kind]
	switch kind {
	case types.KindStudent:
		return base, 30
	case types.KindTeacher:
		return base, 25
	case types.KindSection:
		return base, 30
	case types.KindTerm:
		return base, 10
	default:
		return 95, 5
	}
}

// report emits a snapshot if a reporter is configured.
func (o *Orchestrator) report(sch types.School, kind types.EntityKind, op string, done, total int) {
	if o.Progress == nil {
		return
	}
	base, width := phaseSpan(kind)
	pct := base
	if total > 0 {
		pct = base + width*done/total
	}
	if pct > 100 {
		pct = 100
	}
	o.Progress(Snapshot{
		SchoolID:   sch.ID,
		SchoolName: sch.Name,
		Operation:  op,
		Percent:    pct,
		Processed:  done,
		Kind:       kind,
	})
}
