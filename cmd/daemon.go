package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agenshield/agenshield/internal/eventbus"
)

const heartbeatInterval = 30 * time.Second

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the control plane: watcher, reconciler, and event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(Cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := cmd.Context()
		if err := app.Watcher.Start(ctx); err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
		app.Bus.Emit(eventbus.ProcessDaemonStarted, "", nil)
		defer app.Bus.Emit(eventbus.ProcessDaemonStopped, "", nil)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()

		fmt.Println("agenshieldd running; ctrl-c to stop.")
		for {
			select {
			case <-ctx.Done():
				return nil
			case sig := <-sigCh:
				fmt.Printf("received %s, shutting down\n", sig)
				return nil
			case <-ticker.C:
				app.Bus.Emit(eventbus.Heartbeat, "", nil)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
