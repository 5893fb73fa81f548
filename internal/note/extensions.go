package note

import (
	"path"
	"sort"
	"strings"
)

// DefaultExtension is the extension used for newly composed notes.
const DefaultExtension = "md"

// Extensions is the set of file extensions treated as notes.
// The zero value recognizes only DefaultExtension.
type Extensions struct {
	set map[string]struct{}
}

// NewExtensions returns a set containing DefaultExtension plus extra.
// Leading dots and case are ignored.
func NewExtensions(extra ...string) Extensions {
	e := Extensions{set: map[string]struct{}{DefaultExtension: {}}}
	for _, ext := range extra {
		e.Register(ext)
	}
	return e
}

// Register adds an extension to the set.
func (e *Extensions) Register(ext string) {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext == "" {
		return
	}
	if e.set == nil {
		e.set = map[string]struct{}{DefaultExtension: {}}
	}
	e.set[ext] = struct{}{}
}

// Matches reports whether name has a registered note extension.
func (e Extensions) Matches(name string) bool {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if ext == "" {
		return false
	}
	if e.set == nil {
		return ext == DefaultExtension
	}
	_, ok := e.set[ext]
	return ok
}

// List returns the registered extensions in sorted order.
func (e Extensions) List() []string {
	if e.set == nil {
		return []string{DefaultExtension}
	}
	out := make([]string, 0, len(e.set))
	for ext := range e.set {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
