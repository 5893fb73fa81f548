package trash

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mschirtzinger/notesync/internal/note"
)

// VersionsDirName is the snapshot directory inside the trash.
const VersionsDirName = "versions"

// Version is a local snapshot of a note taken before a save replaced it.
type Version struct {
	ID        string
	Path      string
	CreatedAt time.Time
	Size      int64
}

func (m *Manager) versionsRoot() string {
	return filepath.Join(m.dir, VersionsDirName)
}

func (m *Manager) versionDir(notePath string) string {
	return filepath.Join(m.versionsRoot(), filepath.FromSlash(note.CleanPath(notePath)))
}

// Snapshot stores content as a new version of notePath. The bytes are kept
// exactly as given.
func (m *Manager) Snapshot(ctx context.Context, notePath, content string) (*Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := note.ValidatePath(notePath); err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate version id: %w", err)
	}

	dir := m.versionDir(notePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &note.FileError{Op: "write", Path: dir, Err: err}
	}
	file := filepath.Join(dir, id.String())
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		return nil, &note.FileError{Op: "write", Path: file, Err: err}
	}

	m.logger.Debug("version snapshot written", "path", notePath, "version", id.String())
	return &Version{
		ID:        id.String(),
		Path:      note.CleanPath(notePath),
		CreatedAt: m.now(),
		Size:      int64(len(content)),
	}, nil
}

// ListVersions returns the snapshots of notePath, newest first.
func (m *Manager) ListVersions(notePath string) ([]Version, error) {
	dir := m.versionDir(notePath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &note.FileError{Op: "read", Path: dir, Err: err}
	}

	var versions []Version
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		versions = append(versions, Version{
			ID:        e.Name(),
			Path:      note.CleanPath(notePath),
			CreatedAt: info.ModTime(),
			Size:      info.Size(),
		})
	}
	// v7 ids sort by creation time, so the id breaks mtime ties.
	sort.Slice(versions, func(i, j int) bool {
		if !versions[i].CreatedAt.Equal(versions[j].CreatedAt) {
			return versions[i].CreatedAt.After(versions[j].CreatedAt)
		}
		return versions[i].ID > versions[j].ID
	})
	return versions, nil
}

// ReadVersion returns the content of one snapshot.
func (m *Manager) ReadVersion(notePath, id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("invalid version id %q: %w", id, err)
	}
	snap, err := note.ReadFile(filepath.Join(m.versionDir(notePath), id))
	if err != nil {
		return "", err
	}
	return string(snap.Data), nil
}

// PruneVersions deletes snapshots older than retentionDays and returns how
// many were removed. Emptied per-note directories are removed as well.
func (m *Manager) PruneVersions(ctx context.Context, retentionDays int) (int, error) {
	root := m.versionsRoot()
	cutoff := m.cutoff(retentionDays)

	var dirs []string
	pruned := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			if p != root {
				dirs = append(dirs, p)
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &note.FileError{Op: "remove", Path: p, Err: err}
		}
		pruned++
		return nil
	})
	if err != nil {
		return pruned, err
	}

	// Deepest first so parents empty out after their children.
	for i := len(dirs) - 1; i >= 0; i-- {
		_ = os.Remove(dirs[i]) // fails harmlessly on non-empty dirs
	}
	if pruned > 0 {
		m.logger.Info("version snapshots pruned", "count", pruned, "retention_days", retentionDays)
	}
	return pruned, nil
}
