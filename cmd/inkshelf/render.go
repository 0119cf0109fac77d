package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/tanghoong/browser-extension-inkshelf/internal/document"
	"github.com/tanghoong/browser-extension-inkshelf/internal/engine"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	starStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	tagStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75"))
	colorProfile = termenv.ColorProfile()
)

func init() {
	if colorProfile == termenv.Ascii {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

func renderDocumentList(w io.Writer, docs []*document.Document) {
	for _, doc := range docs {
		star := "  "
		if doc.Starred {
			star = starStyle.Render("★ ")
		}

		line := fmt.Sprintf("%s%s  %s", star, titleStyle.Render(doc.Title),
			dimStyle.Render(shortID(doc.DocID)))
		if len(doc.Tags) > 0 {
			line += "  " + tagStyle.Render("#"+strings.Join(doc.Tags, " #"))
		}
		line += "  " + syncBadge(doc.SyncStatus)
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("%d document(s)", len(docs))))
}

func renderDocument(w io.Writer, doc *document.Document) {
	fmt.Fprintln(w, headerStyle.Render(doc.Title))
	fmt.Fprintln(w, dimStyle.Render("id:      ")+doc.DocID)
	if doc.URL != "" {
		fmt.Fprintln(w, dimStyle.Render("url:     ")+doc.URL)
	}
	fmt.Fprintln(w, dimStyle.Render("group:   ")+doc.GroupID)
	if len(doc.Tags) > 0 {
		fmt.Fprintln(w, dimStyle.Render("tags:    ")+strings.Join(doc.Tags, ", "))
	}
	fmt.Fprintln(w, dimStyle.Render("updated: ")+doc.UpdatedAt.Local().Format(time.RFC1123))
	fmt.Fprintln(w, dimStyle.Render("sync:    ")+syncBadge(doc.SyncStatus))
	fmt.Fprintln(w)
	fmt.Fprintln(w, doc.Content)
}

func renderStatus(w io.Writer, s *engine.Status) {
	online := errStyle.Render("offline")
	if s.Online {
		online = okStyle.Render("online")
	}
	session := dimStyle.Render("logged out")
	if s.LoggedIn {
		session = okStyle.Render("logged in")
	}

	fmt.Fprintln(w, headerStyle.Render("InkShelf"))
	fmt.Fprintf(w, "%s %s, %s\n", dimStyle.Render("state:    "), online, session)
	fmt.Fprintf(w, "%s %d\n", dimStyle.Render("documents:"), s.Documents)
	fmt.Fprintf(w, "%s %d pending, %d failed\n", dimStyle.Render("queue:    "),
		s.PendingChanges, s.FailedChanges)

	last := "never"
	if s.LastSyncTimestamp > 0 {
		last = time.UnixMilli(s.LastSyncTimestamp).Local().Format(time.RFC1123)
	}
	fmt.Fprintf(w, "%s %s\n", dimStyle.Render("last sync:"), last)

	if s.Syncing {
		fmt.Fprintln(w, warnStyle.Render("sync in progress"))
	}
}

func syncBadge(status document.SyncStatus) string {
	switch status {
	case document.SyncSynced:
		return okStyle.Render("synced")
	case document.SyncConflict:
		return errStyle.Render("conflict")
	default:
		return warnStyle.Render("pending")
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
