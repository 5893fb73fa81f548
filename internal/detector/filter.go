package detector

import (
	"path"
	"strings"

	"github.com/mschirtzinger/notesync/internal/note"
)

// Reserved directory names below a folder root.
const (
	TrashDirName = ".trash"
	CacheDirName = ".notesync"
)

// Filter decides which files under a folder root are notes.
type Filter struct {
	Extensions note.Extensions
	Subfolders bool
}

// AcceptFile reports whether the relative path names a note file.
func (f Filter) AcceptFile(rel string) bool {
	rel = note.CleanPath(rel)
	if !f.AcceptDir(path.Dir(rel)) {
		return false
	}
	base := path.Base(rel)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	return f.Extensions.Matches(base)
}

// AcceptDir reports whether the relative directory should be walked or
// watched. The root itself is always accepted.
func (f Filter) AcceptDir(rel string) bool {
	rel = note.CleanPath(rel)
	if rel == "." || rel == "" {
		return true
	}
	if !f.Subfolders {
		return false
	}
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") || part == TrashDirName || part == CacheDirName {
			return false
		}
	}
	return true
}
