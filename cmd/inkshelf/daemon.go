package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tanghoong/browser-extension-inkshelf/internal/dashboard"
	"github.com/tanghoong/browser-extension-inkshelf/internal/inbox"
	"github.com/tanghoong/browser-extension-inkshelf/internal/logging"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync daemon",
	Long: `Run InkShelf in the background: periodic sync while online and logged
in, automatic sync on reconnect, a watched inbox directory for Markdown
drops, and a local dashboard with a WebSocket event stream.

Example usage:
  inkshelf daemon
  inkshelf daemon --port 9000 --no-inbox`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		a.monitor.Start(ctx)
		defer a.monitor.Stop()

		noInbox, _ := cmd.Flags().GetBool("no-inbox")
		if !noInbox {
			in, err := inbox.New(a.engine, &inbox.Config{
				Dir:      a.cfg.Inbox.Dir,
				Debounce: a.cfg.Inbox.Debounce,
				Logger:   logging.New(a.logw, "[inbox] "),
			})
			if err != nil {
				return fmt.Errorf("failed to set up inbox: %w", err)
			}
			if err := in.Start(ctx); err != nil {
				return fmt.Errorf("failed to start inbox: %w", err)
			}
			defer in.Stop()
			fmt.Printf("Watching inbox: %s\n", a.cfg.Inbox.Dir)
		}

		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = a.cfg.Dashboard.Port
		}
		server := dashboard.NewServer(a.engine, a.bus, &dashboard.Config{
			Port:   port,
			Logger: logging.New(a.logw, "[dashboard] "),
		})
		if err := server.Start(); err != nil {
			return err
		}
		defer server.Stop()

		fmt.Printf("Dashboard: http://%s\n", server.Addr())
		fmt.Println("Press Ctrl+C to stop...")

		<-ctx.Done()
		fmt.Println("\nShutting down...")
		return nil
	},
}

func init() {
	daemonCmd.Flags().IntP("port", "p", 0, "Dashboard port (default from config)")
	daemonCmd.Flags().Bool("no-inbox", false, "Disable the inbox watcher")

	rootCmd.AddCommand(daemonCmd)
}
