package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect the active policy document",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print every policy in the active set",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(Cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tACTION\tTARGET\tENABLED\tPATTERNS")
		for _, p := range app.Store.Current().Policies {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%v\n", p.ID, p.Action, p.Target, p.Enabled, p.Patterns)
		}
		return w.Flush()
	},
}

var policyInstructionsCmd = &cobra.Command{
	Use:   "instructions",
	Short: "Print the generated policy-instructions document",
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := os.ReadFile(Cfg.InstructionsPath())
		if err != nil {
			return fmt.Errorf("no instructions generated yet: %w", err)
		}
		fmt.Print(string(doc))
		return nil
	},
}

func init() {
	policyCmd.AddCommand(policyShowCmd, policyInstructionsCmd)
	rootCmd.AddCommand(policyCmd)
}
