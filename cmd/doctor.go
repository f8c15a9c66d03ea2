package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agenshield/agenshield/internal/doctor"
)

var doctorJSON bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Cross-check the skill stores and manifests for inconsistencies",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(Cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		d := &doctor.Doctor{
			SkillsDir:        Cfg.Dirs.Skills,
			Approved:         app.Approved,
			Cache:            app.Cache,
			Policies:         app.Store,
			BrewManifestPath: Cfg.BrewManifestPath(),
		}
		report := d.Check()

		if doctorJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
		} else {
			for _, res := range report.Results {
				fmt.Printf("[%s] %s: %s\n", res.Status, res.Name, res.Message)
				if res.Remediation != "" {
					fmt.Printf("       %s\n", res.Remediation)
				}
			}
		}

		if !report.Healthy() {
			return fmt.Errorf("doctor found problems")
		}
		fmt.Println("All checks passed.")
		return nil
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "emit the report as JSON")
	rootCmd.AddCommand(doctorCmd)
}
