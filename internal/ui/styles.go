// Package ui renders notesync output for terminals and asks the user about
// conflicts.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"

	"github.com/mschirtzinger/notesync/internal/engine"
	"github.com/mschirtzinger/notesync/internal/resolver"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	warning   = lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#F5C542"}
	danger    = lipgloss.AdaptiveColor{Light: "#C0292B", Dark: "#FF5F5F"}
	muted     = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"}

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(highlight).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(subtle)

	LabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(highlight)

	PathStyle = lipgloss.NewStyle().
			Bold(true)

	MutedStyle = lipgloss.NewStyle().
			Foreground(muted)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(special)

	WarningStyle = lipgloss.NewStyle().
			Foreground(warning).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(danger).
			Bold(true)

	TagStyle = lipgloss.NewStyle().
			Foreground(special).
			Padding(0, 1).
			Bold(true)

	addedStyle   = lipgloss.NewStyle().Foreground(special)
	removedStyle = lipgloss.NewStyle().Foreground(danger)
)

// DisableColor renders every style as plain text.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// Field renders "label: value" with a styled label.
func Field(label string, value any) string {
	return fmt.Sprintf("%s %v", LabelStyle.Render(label+":"), value)
}

// Ago renders t relative to now, e.g. "3 hours ago".
func Ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// Bytes renders a size, e.g. "1.2 kB".
func Bytes(n int64) string {
	return humanize.Bytes(uint64(max(n, 0)))
}

// RenderDiff renders a line diff with + and - markers.
func RenderDiff(lines []resolver.DiffLine) string {
	var b strings.Builder
	for _, l := range lines {
		switch l.Op {
		case resolver.DiffInsert:
			b.WriteString(addedStyle.Render("+ " + l.Text))
		case resolver.DiffDelete:
			b.WriteString(removedStyle.Render("- " + l.Text))
		default:
			b.WriteString(MutedStyle.Render("  " + l.Text))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// FormatEvent renders one engine event as a single line.
func FormatEvent(ev engine.Event) string {
	ts := MutedStyle.Render(ev.Time.Format("15:04:05"))
	path := PathStyle.Render(ev.Path)
	var line string
	switch ev.Type {
	case engine.EventNoteRenamed:
		line = fmt.Sprintf("renamed %s -> %s", ev.OldPath, path)
	case engine.EventConflict:
		line = WarningStyle.Render("conflict") + " " + path
	case engine.EventConflictUpdated:
		line = WarningStyle.Render("conflict updated") + " " + path
	case engine.EventError:
		line = ErrorStyle.Render("error") + " " + path
	case engine.EventDegraded:
		line = WarningStyle.Render("degraded")
	case engine.EventRestored:
		line = SuccessStyle.Render("restored") + " " + path
	default:
		line = strings.ReplaceAll(string(ev.Type), "_", " ") + " " + path
	}
	if ev.Message != "" {
		line += MutedStyle.Render(" (" + ev.Message + ")")
	}
	if ev.Err != nil {
		line += " " + ErrorStyle.Render(ev.Err.Error())
	}
	return ts + " " + line
}
