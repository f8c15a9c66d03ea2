package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agenshield/agenshield/internal/config"
	"github.com/agenshield/agenshield/internal/logging"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// Global flag values.
var (
	cfgFile   string
	verbose   bool
	logFormat string
)

// Cfg holds the loaded configuration, available to all subcommands.
var Cfg *config.Config

func flagLevel() string {
	if verbose {
		return "debug"
	}
	return "info"
}

// SetVersionInfo is called from main to inject build-time version info.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	buildDate = d
	rootCmd.Version = v
	rootCmd.SetVersionTemplate(fmt.Sprintf("agenshieldd version {{.Version}} (commit: %s, built: %s)\n", c, d))
}

var rootCmd = &cobra.Command{
	Use:   "agenshieldd",
	Short: "AgenShield: host-level security control plane for coding agents",
	Long: `AgenShield confines a dedicated agent account so it can only touch the
paths, commands, URLs, and skills an operator has permitted. This daemon
reconciles the declarative policy document with filesystem ACLs, command
wrappers, and the skill installation lifecycle.`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Flag-driven setup first so config loading itself is logged.
		logging.Setup(logFormat, flagLevel())

		var err error
		Cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		// Re-apply with the configured format and level; explicit flags
		// win over the config file.
		format := Cfg.Logging.Format
		if cmd.Flags().Changed("log-format") || format == "" {
			format = logFormat
		}
		level := Cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logging.Setup(format, level)
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/agenshield/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log output format (text or json)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("agenshieldd version {{.Version}} (commit: %s, built: %s)\n", commit, buildDate))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
