package engine

import (
	"errors"
	"fmt"

	"github.com/mschirtzinger/notesync/internal/lock"
	"github.com/mschirtzinger/notesync/internal/note"
	"github.com/mschirtzinger/notesync/internal/remote"
	"github.com/mschirtzinger/notesync/internal/resolver"
	"github.com/mschirtzinger/notesync/internal/store"
	"github.com/mschirtzinger/notesync/internal/trash"
)

var (
	// ErrFolderInaccessible is returned when the folder root is missing or
	// not a directory. It is the only error that stops the engine; the user
	// has to pick another folder.
	ErrFolderInaccessible = errors.New("note folder inaccessible")

	// ErrNotRunning is returned by operations that need a started engine.
	ErrNotRunning = errors.New("engine not running")

	// ErrAlreadyRunning is returned by a second Start.
	ErrAlreadyRunning = errors.New("engine already running")

	// ErrDestinationExists is reported per item when a move or copy target
	// is occupied.
	ErrDestinationExists = errors.New("destination already exists")

	// ErrUnsavedEdits is reported when an operation would close an open
	// note whose buffer is not on disk.
	ErrUnsavedEdits = errors.New("note has unsaved edits")
)

// FolderError reports why a folder root could not be used.
type FolderError struct {
	Root string
	Err  error
}

func (e *FolderError) Error() string {
	return fmt.Sprintf("note folder %s: %v", e.Root, e.Err)
}

func (e *FolderError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrFolderInaccessible) true for any FolderError.
func (e *FolderError) Is(target error) bool { return target == ErrFolderInaccessible }

// IsFatal reports whether err stops the engine.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFolderInaccessible)
}

// IsRecoverable reports whether the engine keeps working after err, possibly
// degraded: per-note I/O failures, a cache running in memory, an unreachable
// server or a missing server feature, a restore that had to rename.
func IsRecoverable(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	return errors.Is(err, note.ErrFileIO) ||
		errors.Is(err, store.ErrStorageOpen) ||
		errors.Is(err, remote.ErrRemoteTransport) ||
		errors.Is(err, remote.ErrRemoteCapabilityMissing) ||
		errors.Is(err, remote.ErrRemoteNotFound) ||
		errors.Is(err, trash.ErrRestoreCollision) ||
		errors.Is(err, ErrDestinationExists)
}

// IsUserActionRequired reports whether err can only be cleared by the user.
func IsUserActionRequired(err error) bool {
	return errors.Is(err, ErrFolderInaccessible) ||
		errors.Is(err, resolver.ErrConflictUnresolved) ||
		errors.Is(err, ErrUnsavedEdits) ||
		errors.Is(err, remote.ErrRemoteAuth) ||
		errors.Is(err, remote.ErrNotConfigured) ||
		errors.Is(err, note.ErrNoPassphrase) ||
		errors.Is(err, note.ErrWrongPassphrase) ||
		errors.Is(err, lock.ErrLocked)
}

// NextStep returns a short instruction for the user, or "".
func NextStep(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFolderInaccessible):
		return "Select an existing note folder."
	case errors.Is(err, lock.ErrLocked):
		return "Close the other notesync instance using this folder."
	case errors.Is(err, resolver.ErrConflictUnresolved):
		return "Resolve the conflict first: keep your version or accept the file on disk."
	case errors.Is(err, ErrUnsavedEdits):
		return "Save or close the note first."
	case errors.Is(err, note.ErrNoPassphrase):
		return "Unlock encrypted notes with your passphrase."
	case errors.Is(err, note.ErrWrongPassphrase):
		return "Check the passphrase and try again."
	case errors.Is(err, store.ErrStorageOpen):
		return "The cache is running in memory; changes to tags and trash are lost on exit."
	case errors.Is(err, trash.ErrRestoreCollision):
		return "The note was restored under a new name next to the existing file."
	}
	if step := remote.NextStep(err); step != "" {
		return step
	}
	if errors.Is(err, note.ErrFileIO) {
		return "Check that the file is not locked by another program, then retry."
	}
	return ""
}
