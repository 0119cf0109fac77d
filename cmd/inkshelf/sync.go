package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tanghoong/browser-extension-inkshelf/internal/engine"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync cycle now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		a.probeOnce(ctx)

		result := a.engine.Sync(ctx)
		switch {
		case result.Success:
			fmt.Printf("Synced: %d pushed, %d received, %d conflicts resolved\n",
				result.Applied, result.Received, result.Conflicts)
			return nil
		case result.Reason == engine.ReasonOffline:
			return fmt.Errorf("sync server unreachable; changes stay queued")
		case result.Reason == engine.ReasonNotLoggedIn:
			return fmt.Errorf("not logged in; run `inkshelf login` first")
		case result.Reason == engine.ReasonAlreadySyncing:
			return fmt.Errorf("a sync cycle is already running")
		default:
			return result.Err
		}
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync state and queue depth",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		a.probeOnce(ctx)

		status, err := a.engine.CurrentStatus(ctx)
		if err != nil {
			return err
		}
		renderStatus(os.Stdout, status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd, statusCmd)
}
