package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tanghoong/browser-extension-inkshelf/internal/document"
)

var addCmd = &cobra.Command{
	Use:     "add [file]",
	GroupID: "documents",
	Short:   "Capture a new document",
	Long: `Capture a new Markdown document into the local shelf.

Content comes from the named file, or from stdin when no file is given.
Files may carry YAML front matter (title, url, group, tags, starred); flags
override front matter values.

Example usage:
  inkshelf add notes.md
  cat clipping.md | inkshelf add --title "Reading list" --tags go,sync`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		var raw []byte
		if len(args) == 1 {
			raw, err = os.ReadFile(args[0])
		} else {
			raw, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}

		fm, body, err := document.SplitFrontMatter(string(raw))
		if err != nil {
			return err
		}

		doc := &document.Document{
			DocID:   uuid.NewString(),
			Content: body,
			Status:  document.StatusSaved,
		}
		if fm != nil {
			doc.Title = fm.Title
			doc.URL = fm.URL
			doc.GroupID = fm.Group
			doc.Tags = fm.Tags
			doc.Starred = fm.Starred
		}

		if v, _ := cmd.Flags().GetString("title"); v != "" {
			doc.Title = v
		}
		if v, _ := cmd.Flags().GetString("url"); v != "" {
			doc.URL = v
		}
		if v, _ := cmd.Flags().GetString("group"); v != "" {
			doc.GroupID = v
		}
		if v, _ := cmd.Flags().GetString("tags"); v != "" {
			doc.Tags = strings.Split(v, ",")
		}
		if v, _ := cmd.Flags().GetBool("star"); v {
			doc.Starred = true
		}
		if draft, _ := cmd.Flags().GetBool("draft"); draft {
			doc.Status = document.StatusDraft
		}
		if doc.Title == "" && len(args) == 1 {
			base := args[0]
			if i := strings.LastIndexByte(base, '/'); i >= 0 {
				base = base[i+1:]
			}
			doc.Title = strings.TrimSuffix(base, ".md")
		}

		stored, err := a.engine.SaveDocument(ctx, doc)
		if err != nil {
			return err
		}

		fmt.Printf("Added %s (%s)\n", stored.Title, stored.DocID)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "documents",
	Short:   "List documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		group, _ := cmd.Flags().GetString("group")
		tag, _ := cmd.Flags().GetString("tag")
		starred, _ := cmd.Flags().GetBool("starred")

		var docs []*document.Document
		switch {
		case starred:
			docs, err = a.db.ListStarred(ctx)
		case group != "":
			docs, err = a.db.ListByGroup(ctx, group)
		case tag != "":
			docs, err = a.db.ListByTag(ctx, tag)
		default:
			docs, err = a.db.ListAll(ctx)
		}
		if err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("No documents.")
			return nil
		}
		renderDocumentList(os.Stdout, docs)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:     "show <doc-id>",
	GroupID: "documents",
	Short:   "Print a document",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		doc, err := a.db.Get(ctx, args[0])
		if err != nil {
			return err
		}
		renderDocument(os.Stdout, doc)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <doc-id>",
	GroupID: "documents",
	Short:   "Delete a document",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.engine.DeleteDocument(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var starCmd = &cobra.Command{
	Use:     "star <doc-id>",
	GroupID: "documents",
	Short:   "Toggle the star on a document",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		doc, err := a.db.Get(ctx, args[0])
		if err != nil {
			return err
		}
		doc.Starred = !doc.Starred

		if _, err := a.engine.SaveDocument(ctx, doc); err != nil {
			return err
		}
		if doc.Starred {
			fmt.Printf("Starred %s\n", doc.Title)
		} else {
			fmt.Printf("Unstarred %s\n", doc.Title)
		}
		return nil
	},
}

var moveCmd = &cobra.Command{
	Use:     "move <doc-id> <group-id>",
	GroupID: "documents",
	Short:   "Move a document to a group",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		doc, err := a.db.Get(ctx, args[0])
		if err != nil {
			return err
		}
		group, err := a.db.GetGroup(ctx, args[1])
		if err != nil {
			return err
		}
		doc.GroupID = group.GroupID
		doc.GroupName = group.Name

		if _, err := a.engine.SaveDocument(ctx, doc); err != nil {
			return err
		}
		fmt.Printf("Moved %s to %s\n", doc.Title, group.Name)
		return nil
	},
}

var tagCmd = &cobra.Command{
	Use:     "tag <doc-id> <tag>...",
	GroupID: "documents",
	Short:   "Add or remove tags on a document",
	Long: `Add tags to a document. Prefix a tag with "-" to remove it.

Example usage:
  inkshelf tag 4f1c… golang sync
  inkshelf tag 4f1c… -obsolete`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		doc, err := a.db.Get(ctx, args[0])
		if err != nil {
			return err
		}

		tags := doc.Tags
		for _, arg := range args[1:] {
			if rm, ok := strings.CutPrefix(arg, "-"); ok {
				tags = removeTag(tags, rm)
			} else {
				tags = append(tags, arg)
			}
		}
		doc.Tags = document.NormalizeTags(tags)

		if _, err := a.engine.SaveDocument(ctx, doc); err != nil {
			return err
		}
		if len(doc.Tags) == 0 {
			fmt.Printf("%s has no tags\n", doc.Title)
		} else {
			fmt.Printf("%s: %s\n", doc.Title, strings.Join(doc.Tags, ", "))
		}
		return nil
	},
}

func removeTag(tags []string, tag string) []string {
	out := tags[:0]
	for _, t := range tags {
		if t != tag {
			out = append(out, t)
		}
	}
	return out
}

func init() {
	addCmd.Flags().String("title", "", "Document title")
	addCmd.Flags().String("url", "", "Source URL")
	addCmd.Flags().String("group", "", "Group ID")
	addCmd.Flags().String("tags", "", "Comma-separated tags")
	addCmd.Flags().Bool("star", false, "Star the document")
	addCmd.Flags().Bool("draft", false, "Save as draft")

	listCmd.Flags().String("group", "", "Filter by group ID")
	listCmd.Flags().String("tag", "", "Filter by tag")
	listCmd.Flags().Bool("starred", false, "Only starred documents")

	rootCmd.AddCommand(addCmd, listCmd, showCmd, deleteCmd, starCmd, moveCmd, tagCmd)
}
