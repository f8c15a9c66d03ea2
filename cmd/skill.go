package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agenshield/agenshield/internal/skills"
)

var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "Manage installed skills",
}

var skillInstallCmd = &cobra.Command{
	Use:   "install <slug>",
	Short: "Download, analyze, and deploy a skill from the marketplace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(Cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.Manager.Install(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("installing %s: %w", args[0], err)
		}
		fmt.Printf("Installed %s.\n", args[0])
		return nil
	},
}

var skillUninstallCmd = &cobra.Command{
	Use:   "uninstall <slug>",
	Short: "Remove a skill, keeping its cache for re-enabling",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(Cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.Manager.Uninstall(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("uninstalling %s: %w", args[0], err)
		}
		fmt.Printf("Uninstalled %s.\n", args[0])
		return nil
	},
}

var skillToggleCmd = &cobra.Command{
	Use:   "toggle <slug>",
	Short: "Disable a deployed skill or re-enable a cached one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(Cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.Manager.Toggle(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("toggling %s: %w", args[0], err)
		}
		fmt.Printf("Toggled %s.\n", args[0])
		return nil
	},
}

var skillListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known skills and their states",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(Cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		states, err := listStates(app)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SLUG\tSTATE")
		for _, s := range states {
			fmt.Fprintf(w, "%s\t%s\n", s.slug, s.state)
		}
		return w.Flush()
	},
}

type slugState struct {
	slug  string
	state skills.ActionState
}

// listStates joins the approved list, the cache, and the skills dir into
// one observable state per slug.
func listStates(app *App) ([]slugState, error) {
	known := map[string]bool{}

	if entries, err := app.Approved.List(); err == nil {
		for _, e := range entries {
			known[e.Name] = true
		}
	}
	if slugs, err := app.Cache.ListSlugs(); err == nil {
		for _, s := range slugs {
			known[s] = true
		}
	}
	if dirs, err := os.ReadDir(app.Cfg.Dirs.Skills); err == nil {
		for _, d := range dirs {
			if d.IsDir() {
				known[d.Name()] = true
			}
		}
	}

	ordered := make([]string, 0, len(known))
	for s := range known {
		ordered = append(ordered, s)
	}
	sortSlugs(ordered)

	var out []slugState
	for _, slug := range ordered {
		in := skills.StateInput{
			Approved:   app.Approved.Contains(slug),
			Installing: app.Manager.InProgress(slug),
		}
		if _, err := os.Stat(filepath.Join(app.Cfg.Dirs.Skills, slug)); err == nil {
			in.OnDisk = true
		}
		if meta, err := app.Cache.Load(slug); err == nil {
			in.Cached = true
			in.Analyzed = meta.Analysis != nil
			in.WasInstalled = meta.WasInstalled != nil && *meta.WasInstalled
		}
		out = append(out, slugState{slug: slug, state: skills.DeriveState(in)})
	}
	return out, nil
}

func sortSlugs(xs []string) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}

var skillIntegrityCmd = &cobra.Command{
	Use:   "integrity <slug>",
	Short: "Compare a deployed skill against its registered hashes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(Cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		report, err := app.Manager.Integrity(args[0])
		if err != nil {
			return err
		}
		if report.Intact {
			fmt.Printf("%s is intact.\n", args[0])
			return nil
		}
		for _, f := range report.ModifiedFiles {
			fmt.Printf("modified: %s\n", f)
		}
		for _, f := range report.MissingFiles {
			fmt.Printf("missing: %s\n", f)
		}
		for _, f := range report.UnexpectedFiles {
			fmt.Printf("unexpected: %s\n", f)
		}
		return fmt.Errorf("%s has been modified", args[0])
	},
}

func init() {
	skillCmd.AddCommand(skillInstallCmd, skillUninstallCmd, skillToggleCmd, skillListCmd, skillIntegrityCmd)
	rootCmd.AddCommand(skillCmd)
}
