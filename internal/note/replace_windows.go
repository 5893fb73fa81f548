//go:build windows

package note

import (
	"os"
	"path/filepath"
)

// replaceFile writes data to a temporary file beside absPath and renames it
// over absPath. renameio does not build on windows.
func replaceFile(absPath string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(absPath), ".notesync-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), absPath)
}
