package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/edubase/rostersync/internal/timeparsing"
	"github.com/edubase/rostersync/internal/types"
)

var (
	attemptsSchool string
	attemptsLimit  int
	attemptsSince  string
)

var attemptsCmd = &cobra.Command{
	Use:   "attempts",
	Short: "Inspect sync attempt history",
}

var attemptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sync attempts for a school",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := openControl(cmd.Context())
		if err != nil {
			return err
		}
		defer ctl.Close()

		attempts, err := ctl.ListAttempts(cmd.Context(), attemptsSchool, attemptsLimit)
		if err != nil {
			return err
		}

		if attemptsSince != "" {
			cutoff, err := timeparsing.ParseSince(attemptsSince, time.Now())
			if err != nil {
				return fmt.Errorf("--since: %w", err)
			}
			filtered := attempts[:0]
			for _, a := range attempts {
				if !a.StartedAt.Before(cutoff) {
					filtered = append(filtered, a)
				}
			}
			attempts = filtered
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(attempts)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tKIND\tMODE\tSTATUS\tPROCESSED\tUPDATED\tFAILED\tCURSOR")
		for _, a := range attempts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				a.StartedAt.Format(time.RFC3339), a.Kind, a.Mode, a.Status,
				a.RecordsProcessed, a.RecordsUpdated, a.RecordsFailed, a.Cursor)
		}
		return w.Flush()
	},
}

var attemptsShowCmd = &cobra.Command{
	Use:   "show <attempt-id>",
	Short: "Show one attempt with its audits and warnings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := openControl(cmd.Context())
		if err != nil {
			return err
		}
		defer ctl.Close()

		a, err := ctl.GetAttempt(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("attempt %s: %w", args[0], err)
		}
		audits, err := ctl.ListAuditsByAttempt(cmd.Context(), a.ID)
		if err != nil {
			return err
		}
		warnings, err := ctl.ListWarningsByAttempt(cmd.Context(), a.ID)
		if err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(struct {
				Attempt  *types.SyncAttempt  `json:"attempt"`
				Audits   []types.ChangeAudit `json:"audits"`
				Warnings []types.Warning     `json:"warnings"`
			}{a, audits, warnings})
		}

		fmt.Printf("attempt %s\n  school  %s\n  kind    %s (%s mode)\n  status  %s\n  started %s\n",
			a.ID, a.SchoolID, a.Kind, a.Mode, a.Status, a.StartedAt.Format(time.RFC3339))
		if a.ErrorMessage != "" {
			fmt.Printf("  error   %s\n", a.ErrorMessage)
		}
		if a.Summary != "" {
			fmt.Printf("  summary %s\n", a.Summary)
		}
		fmt.Printf("  %d audit(s), %d warning(s)\n", len(audits), len(warnings))
		for _, au := range audits {
			fmt.Printf("    %-7s %-8s %s fields=%s\n", au.Change, au.Kind, au.UpstreamEntityID, au.FieldList)
		}
		for _, wn := range warnings {
			fmt.Printf("    warn %s: %s\n", wn.Kind, wn.Message)
		}
		return nil
	},
}

func init() {
	attemptsListCmd.Flags().StringVar(&attemptsSchool, "school", "", "School id (required)")
	attemptsListCmd.Flags().IntVar(&attemptsLimit, "limit", 20, "Maximum attempts to list")
	attemptsListCmd.Flags().StringVar(&attemptsSince, "since", "", "Only attempts started after this time (1d, 36h, 2026-08-01, \"last friday\")")
	_ = attemptsListCmd.MarkFlagRequired("school")
	attemptsCmd.AddCommand(attemptsListCmd, attemptsShowCmd)
	rootCmd.AddCommand(attemptsCmd)
}
