// Package output provides formatters for CLI output.
package output

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"tasksync/internal/mirror"
	"tasksync/internal/screen"
	"tasksync/internal/session"
)

const (
	// Separator is the line between the session line and the items in watch output.
	Separator = "------------"
)

// FormatItem formats an item line.
// Format: "{N:>4}  [x] {TITLE}\n", with " *" appended while the value is
// not yet confirmed by the store.
func FormatItem(w io.Writer, num int, item mirror.Item, pending bool) {
	mark := " "
	if item.IsDone {
		mark = "x"
	}
	line := fmt.Sprintf("%4d  [%s] %s", num, mark, normalizeTitle(item.Title))
	if pending {
		line += " *"
	}
	fmt.Fprintln(w, line)
}

// FormatItems formats every item of a view, numbered from 1.
func FormatItems(w io.Writer, v screen.View) {
	for i, item := range v.Items {
		FormatItem(w, i+1, item, slices.Contains(v.Pending, item.ID))
	}
}

// FormatSession formats the one-line session status.
func FormatSession(w io.Writer, s session.Session) {
	var line string
	switch s.Kind {
	case session.Initializing:
		line = "connecting..."
	case session.Unauthenticated:
		line = "not logged in"
	case session.CreatingAccount:
		line = "creating account"
	case session.Authenticated:
		line = Welcome(s)
	}
	if s.ActionPending {
		line += " (working...)"
	}
	fmt.Fprintln(w, line)
}

// Welcome returns the greeting for an authenticated session.
func Welcome(s session.Session) string {
	if s.Profile == nil {
		return "signed in"
	}
	return "signed in as " + normalizeName(s.Profile.Name())
}

// FormatView formats a full screen: session line, separator, items.
func FormatView(w io.Writer, v screen.View) {
	FormatSession(w, v.Session)
	if v.Session.Kind != session.Authenticated {
		return
	}
	fmt.Fprintln(w, Separator)
	switch {
	case !v.Synced:
		fmt.Fprintln(w, "syncing...")
	case len(v.Items) == 0:
		fmt.Fprintln(w, "no tasks found")
	default:
		FormatItems(w, v)
	}
}

// FormatNotice formats a non-fatal error for stderr.
func FormatNotice(w io.Writer, err error) {
	fmt.Fprintf(w, "warning: %v\n", err)
}

// normalizeTitle normalizes an item title for display.
// - Empty or whitespace-only titles become "(untitled)"
// - Newlines are replaced with spaces
func normalizeTitle(title string) string {
	title = strings.ReplaceAll(title, "\r", " ")
	title = strings.ReplaceAll(title, "\n", " ")

	if strings.TrimSpace(title) == "" {
		return "(untitled)"
	}
	return title
}

// normalizeName trims a profile name; an empty one becomes "(anonymous)".
func normalizeName(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return "(anonymous)"
	}
	return name
}
