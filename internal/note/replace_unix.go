//go:build !windows

package note

import (
	"path/filepath"

	"github.com/google/renameio/v2"
)

// replaceFile writes data next to absPath, syncs it and renames it into
// place. The temporary file is a dotfile, which the detector ignores.
func replaceFile(absPath string, data []byte) error {
	return renameio.WriteFile(absPath, data, 0644, renameio.WithTempDir(filepath.Dir(absPath)))
}
