package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FolderFileName is the per-folder settings file at the folder root.
const FolderFileName = ".notesync.toml"

// FolderSettings are the keys a note folder may set for itself:
//
//	extensions = ["txt", "org"]
//	line_endings = "unix"
//	conflict_policy = "prompt"
//	retention_days = 14
//
//	[remote]
//	url = "https://notes.example.com"
//	username = "me"
//
// Credentials other than the username stay in the user config.
type FolderSettings struct {
	Extensions     []string `toml:"extensions"`
	Subfolders     bool     `toml:"subfolders"`
	LineEndings    string   `toml:"line_endings"`
	ConflictPolicy string   `toml:"conflict_policy"`
	RetentionDays  int      `toml:"retention_days"`
	Snapshots      bool     `toml:"snapshots"`
	Remote         struct {
		URL      string `toml:"url"`
		Username string `toml:"username"`
	} `toml:"remote"`
}

// ApplyFolder merges <s.Folder>/.notesync.toml into s. Only keys present in
// the file override. A missing file is not an error.
func (s *Settings) ApplyFolder() (applied bool, err error) {
	if s.Folder == "" {
		return false, nil
	}
	path := filepath.Join(s.Folder, FolderFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var fsettings FolderSettings
	md, err := toml.Decode(string(data), &fsettings)
	if err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return false, fmt.Errorf("%s: unknown keys %v", path, undecoded)
	}

	if md.IsDefined("extensions") {
		s.Extensions = append(s.Extensions, fsettings.Extensions...)
	}
	if md.IsDefined("subfolders") {
		s.Subfolders = fsettings.Subfolders
	}
	if md.IsDefined("line_endings") {
		s.LineEndings = fsettings.LineEndings
	}
	if md.IsDefined("conflict_policy") {
		s.ConflictPolicy = fsettings.ConflictPolicy
	}
	if md.IsDefined("retention_days") {
		s.RetentionDays = fsettings.RetentionDays
	}
	if md.IsDefined("snapshots") {
		s.Snapshots = fsettings.Snapshots
	}
	if md.IsDefined("remote", "url") {
		s.Remote.URL = fsettings.Remote.URL
	}
	if md.IsDefined("remote", "username") {
		s.Remote.Username = fsettings.Remote.Username
	}
	return true, nil
}
