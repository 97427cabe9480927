package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var schoolsCmd = &cobra.Command{
	Use:   "schools",
	Short: "Manage schools",
}

var schoolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schools",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := openControl(cmd.Context())
		if err != nil {
			return err
		}
		defer ctl.Close()

		schools, err := ctl.ListSchools(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(schools)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUPSTREAM\tNAME\tACTIVE\tFULL-SYNC-PENDING\tLOCATOR")
		for _, s := range schools {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%s\n",
				s.ID, s.UpstreamID, s.Name, s.Active, s.RequiresFullSync, s.DBLocator)
		}
		return w.Flush()
	},
}

var schoolsFullSyncCmd = &cobra.Command{
	Use:   "request-full <school-id>",
	Short: "Flag a school so its next sync runs in full mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := openControl(cmd.Context())
		if err != nil {
			return err
		}
		defer ctl.Close()

		if _, err := ctl.GetSchool(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("school %s: %w", args[0], err)
		}
		if err := ctl.SetRequiresFullSync(cmd.Context(), args[0], true); err != nil {
			return err
		}
		fmt.Printf("school %s will run a full sync on its next attempt\n", args[0])
		return nil
	},
}

func init() {
	schoolsCmd.AddCommand(schoolsListCmd, schoolsFullSyncCmd)
	rootCmd.AddCommand(schoolsCmd)
}
