package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tanghoong/browser-extension-inkshelf/internal/queue"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "sync",
	Short:   "Inspect the offline change queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		pending, err := a.queue.ListPending(ctx)
		if err != nil {
			return err
		}
		failed, err := a.queue.ListFailed(ctx)
		if err != nil {
			return err
		}

		if len(pending)+len(failed) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}
		for _, item := range pending {
			printItem(item)
		}
		for _, item := range failed {
			printItem(item)
		}
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <item-id>",
	Short: "Requeue a failed change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid item id %q", args[0])
		}
		if err := a.queue.RetryFailed(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Item %d requeued\n", id)
		return nil
	},
}

var queueDiscardCmd = &cobra.Command{
	Use:   "discard <item-id>",
	Short: "Drop a failed change permanently",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid item id %q", args[0])
		}
		if err := a.queue.Discard(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Item %d discarded\n", id)
		return nil
	},
}

func printItem(item *queue.Item) {
	line := fmt.Sprintf("%4d  %-7s %-8s %s  %s",
		item.ID, item.Action, item.Status, shortID(item.DocID),
		item.EnqueuedAt.Local().Format(time.Stamp))
	if item.RetryCount > 0 {
		line += fmt.Sprintf("  retries=%d", item.RetryCount)
	}
	if item.Error != "" {
		line += "  " + errStyle.Render(item.Error)
	}
	fmt.Println(line)
}

func init() {
	queueCmd.AddCommand(queueRetryCmd, queueDiscardCmd)
	rootCmd.AddCommand(queueCmd)
}
