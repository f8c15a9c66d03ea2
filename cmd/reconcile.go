package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agenshield/agenshield/internal/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-apply the current policy set to every enforcement surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(Cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.Reconciler.SetPolicies(reconcile.Context{}, app.Store.Current()); err != nil {
			return fmt.Errorf("reconciling: %w", err)
		}
		fmt.Println("Reconciled.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
