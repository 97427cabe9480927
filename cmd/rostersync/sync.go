package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/edubase/rostersync/internal/telemetry"
	"github.com/edubase/rostersync/internal/types"
)

const timeRound = 10 * time.Millisecond

var syncFull bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run roster synchronization",
}

var syncAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Sync every school in every district",
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, ctl, err := buildOrchestrator(cmd.Context())
		if err != nil {
			return err
		}
		defer ctl.Close()

		summary, err := orch.SyncAll(cmd.Context(), syncFull)
		if err != nil {
			return err
		}
		return printSummary(summary)
	},
}

var syncDistrictCmd = &cobra.Command{
	Use:   "district <district-id>",
	Short: "Sync every active school in one district",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, ctl, err := buildOrchestrator(cmd.Context())
		if err != nil {
			return err
		}
		defer ctl.Close()

		summary, err := orch.SyncDistrict(cmd.Context(), args[0], syncFull)
		if err != nil {
			return err
		}
		return printSummary(summary)
	},
}

var syncSchoolCmd = &cobra.Command{
	Use:   "school <school-id>",
	Short: "Sync a single school",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, ctl, err := buildOrchestrator(cmd.Context())
		if err != nil {
			return err
		}
		defer ctl.Close()

		obs := telemetry.NewSyncObserver()
		res := obs.ObserveSchool(cmd.Context(), args[0], func(ctx context.Context) *types.SyncResult {
			return orch.SyncSchool(ctx, args[0], syncFull)
		})
		return printResult(res)
	},
}

func printResult(r *types.SyncResult) error {
	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(r)
	}
	status := "ok"
	if !r.Success {
		status = "FAILED"
	}
	fmt.Printf("%s  %s (%s mode, %s)\n", status, r.SchoolName, r.Mode, r.EndedAt.Sub(r.StartedAt).Round(timeRound))
	for _, kind := range []types.EntityKind{types.KindStudent, types.KindTeacher, types.KindSection, types.KindTerm} {
		c := r.Counts[kind]
		if c == nil || (c.Processed == 0 && c.Deleted == 0) {
			continue
		}
		fmt.Printf("  %-8s processed %d, updated %d, deleted %d, failed %d\n",
			kind, c.Processed, c.Updated, c.Deleted, c.Failed)
	}
	if r.Events != nil {
		fmt.Printf("  events   fetched %d, processed %d, failed %d\n",
			r.Events.Fetched, r.Events.Processed, r.Events.Failed)
	}
	if r.SkippedProtected > 0 {
		fmt.Printf("  skipped %d protected deletions (see warnings list)\n", r.SkippedProtected)
	}
	if !r.Success {
		fmt.Printf("  error: %s\n", r.ErrorMessage)
		return fmt.Errorf("sync failed for %s", r.SchoolID)
	}
	return nil
}

func printSummary(s *types.SyncSummary) error {
	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(s)
	}
	for _, r := range s.Results {
		if err := printResult(r); err != nil {
			// Keep printing the rest; the summary line decides exit status.
			continue
		}
	}
	fmt.Printf("%d school(s): %d ok, %d failed, %d records processed\n",
		s.TotalSchools, s.SuccessfulSchools, s.FailedSchools, s.TotalProcessed)
	if s.FailedSchools > 0 {
		return fmt.Errorf("%d school(s) failed to sync", s.FailedSchools)
	}
	return nil
}

func init() {
	syncCmd.PersistentFlags().BoolVar(&syncFull, "full", false, "Force a full reconcile instead of incremental event replay")
	syncCmd.AddCommand(syncAllCmd, syncDistrictCmd, syncSchoolCmd)
	rootCmd.AddCommand(syncCmd)
}
