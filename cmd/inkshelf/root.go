package main

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	dataDir    string
	serverURL  string
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "inkshelf",
	Short: "Offline-first Markdown document capture and sync",
	Long: `InkShelf stores taggable Markdown documents locally and keeps them
synchronized with a cloud account.

Documents are always written to the local store first; changes made while
offline are queued durably and pushed once connectivity returns. Conflicts
are resolved by the server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: inkshelf.yaml in the data directory)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default: ~/.inkshelf)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Sync server base URL")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress log output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "documents", Title: "Documents:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "account", Title: "Account:"},
	)
}
