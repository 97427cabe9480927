package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var doctorThreshold string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Detect and repair control-plane problems",
	Long:  `Marks InProgress sync attempts older than the stale threshold as Failed so crashed runs stop blocking new attempts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		threshold := cfg.Sync.StaleAttemptThreshold
		if doctorThreshold != "" {
			d, err := time.ParseDuration(doctorThreshold)
			if err != nil {
				return fmt.Errorf("--threshold: %w", err)
			}
			threshold = d
		}
		if threshold <= 0 {
			threshold = 2 * time.Hour
		}

		ctl, err := openControl(cmd.Context())
		if err != nil {
			return err
		}
		defer ctl.Close()

		n, err := ctl.FailStaleAttempts(cmd.Context(), threshold, time.Now().UTC())
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Println("no stale attempts found")
		} else {
			fmt.Printf("marked %d stale attempt(s) as failed (older than %s)\n", n, threshold)
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().StringVar(&doctorThreshold, "threshold", "", "Stale threshold override (e.g. 90m); default from config")
	rootCmd.AddCommand(doctorCmd)
}
