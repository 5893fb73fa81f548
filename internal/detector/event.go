package detector

import (
	"fmt"
	"time"
)

// Kind is the type of change observed for a note file.
type Kind int

const (
	// Created indicates a note file appeared.
	Created Kind = iota
	// Modified indicates an existing note file changed.
	Modified
	// Removed indicates a note file disappeared and stayed gone.
	Removed
	// Renamed indicates a note moved from OldPath to Path.
	Renamed
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Source identifies which producer observed the change.
type Source int

const (
	// SourceWatcher events come from file system notifications.
	SourceWatcher Source = iota
	// SourceScanner events come from a periodic full scan.
	SourceScanner
)

// String returns a human-readable representation of the source.
func (s Source) String() string {
	if s == SourceScanner {
		return "scanner"
	}
	return "watcher"
}

// Event is a single observed change. Paths are note paths relative to the
// folder root.
type Event struct {
	// Seq is assigned by the Queue and increases monotonically.
	Seq uint64

	Path    string
	OldPath string // set for Renamed only
	Kind    Kind

	// Fingerprint and ModTime describe the file as observed. Both are zero
	// for Removed events.
	Fingerprint string
	ModTime     time.Time

	Source Source
}

func (e Event) String() string {
	if e.Kind == Renamed {
		return fmt.Sprintf("#%d %s %s -> %s (%s)", e.Seq, e.Kind, e.OldPath, e.Path, e.Source)
	}
	return fmt.Sprintf("#%d %s %s (%s)", e.Seq, e.Kind, e.Path, e.Source)
}
