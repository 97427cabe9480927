package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/edubase/rostersync/internal/types"
)

// seedFile is the YAML shape accepted by `districts import`.
type seedFile struct {
	Districts []seedDistrict `yaml:"districts"`
}

type seedDistrict struct {
	UpstreamID string       `yaml:"upstream_id"`
	Name       string       `yaml:"name"`
	Timezone   string       `yaml:"timezone"`
	Schools    []seedSchool `yaml:"schools"`
}

type seedSchool struct {
	UpstreamID string `yaml:"upstream_id"`
	Name       string `yaml:"name"`
	DBLocator  string `yaml:"db_locator"`
	Active     *bool  `yaml:"active"`
}

var seedPath string

var districtsCmd = &cobra.Command{
	Use:   "districts",
	Short: "Manage districts",
}

var districtsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Upsert districts and schools from a YAML seed file",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(seedPath)
		if err != nil {
			return fmt.Errorf("read seed file: %w", err)
		}
		var seed seedFile
		if err := yaml.Unmarshal(data, &seed); err != nil {
			return fmt.Errorf("parse seed file: %w", err)
		}
		if len(seed.Districts) == 0 {
			return fmt.Errorf("seed file %s defines no districts", seedPath)
		}

		ctl, err := openControl(cmd.Context())
		if err != nil {
			return err
		}
		defer ctl.Close()

		var nd, ns int
		for _, sd := range seed.Districts {
			if sd.UpstreamID == "" || sd.Name == "" {
				return fmt.Errorf("district entries need upstream_id and name")
			}
			d, err := ctl.UpsertDistrict(cmd.Context(), types.District{
				UpstreamID: sd.UpstreamID,
				Name:       sd.Name,
				Timezone:   sd.Timezone,
			})
			if err != nil {
				return fmt.Errorf("district %s: %w", sd.UpstreamID, err)
			}
			nd++
			for _, ss := range sd.Schools {
				if ss.UpstreamID == "" || ss.DBLocator == "" {
					return fmt.Errorf("district %s: school entries need upstream_id and db_locator", sd.UpstreamID)
				}
				active := true
				if ss.Active != nil {
					active = *ss.Active
				}
				if _, err := ctl.UpsertSchool(cmd.Context(), types.School{
					DistrictID: d.ID,
					UpstreamID: ss.UpstreamID,
					Name:       ss.Name,
					DBLocator:  ss.DBLocator,
					Active:     active,
				}); err != nil {
					return fmt.Errorf("school %s: %w", ss.UpstreamID, err)
				}
				ns++
			}
		}
		fmt.Printf("imported %d district(s), %d school(s)\n", nd, ns)
		return nil
	},
}

var districtsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List districts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := openControl(cmd.Context())
		if err != nil {
			return err
		}
		defer ctl.Close()

		districts, err := ctl.ListDistricts(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(districts)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUPSTREAM\tNAME\tTIMEZONE")
		for _, d := range districts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.UpstreamID, d.Name, d.Timezone)
		}
		return w.Flush()
	},
}

func init() {
	districtsImportCmd.Flags().StringVarP(&seedPath, "file", "f", "", "Seed YAML file (required)")
	_ = districtsImportCmd.MarkFlagRequired("file")
	districtsCmd.AddCommand(districtsImportCmd, districtsListCmd)
	rootCmd.AddCommand(districtsCmd)
}
