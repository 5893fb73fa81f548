package note

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// EncryptionState describes how a note's content is stored at rest.
type EncryptionState int

const (
	// Plaintext notes are stored as-is.
	Plaintext EncryptionState = iota
	// Encrypted notes are stored as an encryption envelope.
	Encrypted
)

// String returns a human-readable representation of the state.
func (e EncryptionState) String() string {
	switch e {
	case Plaintext:
		return "plaintext"
	case Encrypted:
		return "encrypted"
	default:
		return "unknown"
	}
}

// Note is a single note file as seen by the engine.
type Note struct {
	// Path is the slash-separated path relative to the note folder root.
	Path string

	// Name is the display name: the base name without extension.
	Name string

	// Content is the decoded text. For encrypted notes this is the plaintext
	// once unlocked, otherwise the raw envelope.
	Content string

	// Fingerprint of the bytes on disk. Empty for zero-byte or unreadable files.
	Fingerprint string

	// FileModTime is the modification time reported by the file system.
	FileModTime time.Time

	// CachedAt is when the metadata store last recorded this note.
	CachedAt time.Time

	// Dirty is set while the editor holds unsaved changes.
	Dirty bool

	Encryption EncryptionState
}

// New builds a Note for the given relative path and raw file content.
func New(relPath string, raw []byte, modTime time.Time) *Note {
	n := &Note{
		Path:        CleanPath(relPath),
		Content:     string(raw),
		Fingerprint: Fingerprint(raw),
		FileModTime: modTime,
	}
	n.Name = DisplayName(n.Path)
	if IsEncrypted(n.Content) {
		n.Encryption = Encrypted
	}
	return n
}

// DisplayName returns the base name of a note path without its extension.
func DisplayName(relPath string) string {
	base := path.Base(CleanPath(relPath))
	return strings.TrimSuffix(base, path.Ext(base))
}

// CleanPath normalizes a relative note path to slash form without a leading
// "./" or "/".
func CleanPath(relPath string) string {
	p := path.Clean(filepath.ToSlash(relPath))
	p = strings.TrimPrefix(p, "./")
	return strings.TrimPrefix(p, "/")
}

// ValidatePath rejects paths that escape the folder root.
func ValidatePath(relPath string) error {
	if relPath == "" {
		return fmt.Errorf("note path is required")
	}
	p := CleanPath(relPath)
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return fmt.Errorf("note path %q escapes the folder root", relPath)
	}
	return nil
}

// Abs resolves a relative note path against the folder root.
func Abs(root, relPath string) string {
	return filepath.Join(root, filepath.FromSlash(CleanPath(relPath)))
}

// Rel converts an absolute file path below root into a note path.
func Rel(root, absPath string) (string, error) {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return "", fmt.Errorf("failed to relativize %s: %w", absPath, err)
	}
	if err := ValidatePath(rel); err != nil {
		return "", err
	}
	return CleanPath(rel), nil
}
