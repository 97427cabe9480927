package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var warningsSchool string

var warningsCmd = &cobra.Command{
	Use:   "warnings",
	Short: "Review and acknowledge sync warnings",
}

var warningsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unacknowledged warnings for a school",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := openControl(cmd.Context())
		if err != nil {
			return err
		}
		defer ctl.Close()

		warnings, err := ctl.ListUnacknowledgedWarnings(cmd.Context(), warningsSchool)
		if err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(warnings)
		}
		if len(warnings) == 0 {
			fmt.Println("no unacknowledged warnings")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCREATED\tKIND\tENTITY\tMESSAGE")
		for _, wn := range warnings {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				wn.ID, wn.CreatedAt.Format(time.RFC3339), wn.Kind, wn.DisplayName, wn.Message)
		}
		return w.Flush()
	},
}

var warningsAckCmd = &cobra.Command{
	Use:   "ack <warning-id>...",
	Short: "Acknowledge one or more warnings",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := openControl(cmd.Context())
		if err != nil {
			return err
		}
		defer ctl.Close()

		for _, id := range args {
			if err := ctl.AcknowledgeWarning(cmd.Context(), id); err != nil {
				return fmt.Errorf("acknowledge %s: %w", id, err)
			}
		}
		fmt.Printf("acknowledged %d warning(s)\n", len(args))
		return nil
	},
}

func init() {
	warningsListCmd.Flags().StringVar(&warningsSchool, "school", "", "School id (required)")
	_ = warningsListCmd.MarkFlagRequired("school")
	warningsCmd.AddCommand(warningsListCmd, warningsAckCmd)
	rootCmd.AddCommand(warningsCmd)
}
