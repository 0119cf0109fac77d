package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tanghoong/browser-extension-inkshelf/internal/document"
)

var groupsCmd = &cobra.Command{
	Use:     "groups",
	GroupID: "documents",
	Short:   "Manage document groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		groups, err := a.db.ListGroups(ctx)
		if err != nil {
			return err
		}
		for _, g := range groups {
			count, err := a.db.ListByGroup(ctx, g.GroupID)
			if err != nil {
				return err
			}
			fmt.Printf("%-16s %s (%d)\n", g.GroupID, g.Name, len(count))
		}
		return nil
	},
}

var groupsAddCmd = &cobra.Command{
	Use:   "add <group-id> <name>",
	Short: "Create or rename a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		color, _ := cmd.Flags().GetString("color")
		icon, _ := cmd.Flags().GetString("icon")

		group := &document.Group{
			GroupID: args[0],
			Name:    args[1],
			Color:   color,
			Icon:    icon,
		}
		if err := a.db.SaveGroup(ctx, group); err != nil {
			return err
		}
		fmt.Printf("Saved group %s\n", group.GroupID)
		return nil
	},
}

var groupsDeleteCmd = &cobra.Command{
	Use:   "delete <group-id>",
	Short: "Delete a group, moving its documents to Uncategorized",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.db.DeleteGroup(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted group %s\n", args[0])
		return nil
	},
}

func init() {
	groupsAddCmd.Flags().String("color", "", "Display color (hex)")
	groupsAddCmd.Flags().String("icon", "", "Display icon name")

	groupsCmd.AddCommand(groupsAddCmd, groupsDeleteCmd)
	rootCmd.AddCommand(groupsCmd)
}
