// Package resolver reconciles in-memory note edits against external changes
// reported by the detector.
//
// Every open note window owns a Session, an explicit state machine:
//
//	Clean              -> EditedLocally       user typed
//	Clean              -> ModifiedExternally  disk changed, reloaded, back to Clean
//	EditedLocally      -> ConflictPending     disk changed under local edits
//	ConflictPending    -> Resolved            user chose keep mine or accept theirs
//	Resolved           -> Clean               caller saved or settled the disk
//
// The resolver never writes files. It tells the caller what to do through
// Outcome and Action values, and the caller reports back with NotifySaved
// or Settle once the disk matches.
package resolver

import (
	"errors"
	"fmt"
	"strings"
)

// State is the position of a note in the conflict state machine.
type State int

const (
	Clean State = iota
	EditedLocally
	ModifiedExternally
	ConflictPending
	Resolved
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case EditedLocally:
		return "edited_locally"
	case ModifiedExternally:
		return "modified_externally"
	case ConflictPending:
		return "conflict_pending"
	case Resolved:
		return "resolved"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrConflictUnresolved is returned when a save is attempted while a
	// conflict on the same note is waiting for a user decision. It blocks
	// only that note.
	ErrConflictUnresolved = errors.New("conflict awaiting user decision")

	// ErrNotOpen is returned for operations on a path with no session.
	ErrNotOpen = errors.New("note is not open")

	// ErrNoConflict is returned by Resolve when nothing is pending.
	ErrNoConflict = errors.New("no pending conflict")

	// ErrUnknownChoice is returned by Resolve for an unrecognized choice.
	ErrUnknownChoice = errors.New("unknown conflict choice")
)

// Policy pre-selects the answer to external changes on edited notes.
type Policy int

const (
	// PolicyPrompt asks the user each time.
	PolicyPrompt Policy = iota
	// PolicyAlwaysAcceptExternal discards local edits in favour of disk.
	PolicyAlwaysAcceptExternal
	// PolicyAlwaysIgnoreExternal keeps local edits and overwrites disk.
	PolicyAlwaysIgnoreExternal
)

func (p Policy) String() string {
	switch p {
	case PolicyPrompt:
		return "prompt"
	case PolicyAlwaysAcceptExternal:
		return "accept_external"
	case PolicyAlwaysIgnoreExternal:
		return "ignore_external"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy accepts the names produced by Policy.String plus a few
// shorthand spellings used in config files.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "prompt", "ask":
		return PolicyPrompt, nil
	case "accept_external", "accept-external", "accept", "theirs":
		return PolicyAlwaysAcceptExternal, nil
	case "ignore_external", "ignore-external", "ignore", "mine":
		return PolicyAlwaysIgnoreExternal, nil
	default:
		return PolicyPrompt, fmt.Errorf("unknown conflict policy %q", s)
	}
}

// Choice is a user decision on a pending conflict.
type Choice int

const (
	// KeepMine overwrites disk with the in-memory content.
	KeepMine Choice = iota + 1
	// AcceptTheirs discards the in-memory edits and reloads from disk.
	AcceptTheirs
	// ViewDiff returns a line diff and leaves the conflict pending.
	ViewDiff
)

func (c Choice) String() string {
	switch c {
	case KeepMine:
		return "keep_mine"
	case AcceptTheirs:
		return "accept_theirs"
	case ViewDiff:
		return "view_diff"
	default:
		return fmt.Sprintf("choice(%d)", int(c))
	}
}

// OutcomeKind classifies how an external change was handled.
type OutcomeKind int

const (
	// Noop means the change carried nothing new (for example the echo of
	// our own save).
	Noop OutcomeKind = iota
	// Reloaded means the editor should show Content; there were no local edits.
	Reloaded
	// AutoResolved means both sides matched after normalization.
	AutoResolved
	// ConflictRaised means a new conflict is now pending.
	ConflictRaised
	// ConflictUpdated means an already pending conflict now carries newer
	// disk content.
	ConflictUpdated
	// KeptMine means the ignore-external policy kept the local edits; the
	// caller must save Content.
	KeptMine
	// AcceptedTheirs means the accept-external policy replaced the local
	// edits with disk content.
	AcceptedTheirs
)

func (k OutcomeKind) String() string {
	switch k {
	case Noop:
		return "noop"
	case Reloaded:
		return "reloaded"
	case AutoResolved:
		return "auto_resolved"
	case ConflictRaised:
		return "conflict"
	case ConflictUpdated:
		return "conflict_updated"
	case KeptMine:
		return "kept_mine"
	case AcceptedTheirs:
		return "accepted_theirs"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}
