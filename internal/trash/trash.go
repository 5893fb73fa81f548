// Package trash implements soft delete for a note folder.
//
// Trashed notes are moved into the reserved .trash directory under the
// folder root and recorded in the metadata store. Restores move them back
// and never overwrite an existing file. Expired entries are purged on a
// schedule, one entry at a time, so an interrupted purge leaves the rest of
// the trash intact.
//
// The same directory holds local version snapshots under .trash/versions,
// written before a save replaces different content.
package trash

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mschirtzinger/notesync/internal/note"
	"github.com/mschirtzinger/notesync/internal/store"
)

// DirName is the trash directory below the folder root.
const DirName = ".trash"

// ErrRestoreCollision marks a restore whose original path was occupied. The
// note was restored under a disambiguated name instead.
var ErrRestoreCollision = errors.New("restore target occupied")

// maxRestoreSuffix bounds the search for a free "(restored N)" name.
const maxRestoreSuffix = 1000

// Config configures a Manager.
type Config struct {
	Root     string
	FolderID int64
	// VersionRetentionDays bounds the age of local version snapshots.
	// Zero keeps them until removed by hand.
	VersionRetentionDays int
	// Exec runs a scheduled purge cycle on the goroutine that owns cache
	// writes. Nil runs it on the scheduling goroutine.
	Exec   func(ctx context.Context, fn func() error) error
	Logger *slog.Logger
}

// Manager moves notes in and out of a folder's trash.
type Manager struct {
	store    *store.Store
	root     string
	dir      string
	folderID int64
	logger   *slog.Logger
	now      func() time.Time
	exec     func(ctx context.Context, fn func() error) error

	versionRetention int

	// afterPurge runs after each purged entry. Tests use it to interrupt.
	afterPurge func(id string)
}

// New creates a Manager for the folder rooted at cfg.Root.
func New(s *store.Store, cfg Config) (*Manager, error) {
	if s == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Root == "" {
		return nil, fmt.Errorf("folder root is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    s,
		root:     cfg.Root,
		dir:      filepath.Join(cfg.Root, DirName),
		folderID: cfg.FolderID,
		logger:   logger.With("component", "trash"),
		now:      time.Now,
		exec:     cfg.Exec,

		versionRetention: cfg.VersionRetentionDays,
	}, nil
}

// Dir returns the absolute trash directory.
func (m *Manager) Dir() string { return m.dir }

// trashName builds "<name>.<id>.<ext>" for a note path.
func trashName(notePath, id string) string {
	base := path.Base(notePath)
	ext := path.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return name + "." + id + ext
}

// Trash moves the note at notePath into the trash, records the entry and
// marks the note deleted in the cache.
func (m *Manager) Trash(ctx context.Context, notePath string) (*store.TrashEntry, error) {
	if err := note.ValidatePath(notePath); err != nil {
		return nil, err
	}
	notePath = note.CleanPath(notePath)
	src := note.Abs(m.root, notePath)

	if _, err := os.Stat(src); err != nil {
		return nil, &note.FileError{Op: "stat", Path: src, Err: err}
	}
	// An unreadable note can still be trashed, just without a fingerprint.
	var fingerprint string
	if snap, err := note.ReadFile(src); err == nil {
		fingerprint = snap.Fingerprint
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate trash id: %w", err)
	}
	entry := &store.TrashEntry{
		ID:           id.String(),
		FolderID:     m.folderID,
		OriginalPath: notePath,
		TrashPath:    trashName(notePath, id.String()),
		TrashedAt:    m.now(),
		Fingerprint:  fingerprint,
	}
	dst := filepath.Join(m.dir, entry.TrashPath)

	if err := note.MoveFile(src, dst); err != nil {
		return nil, err
	}
	if err := m.store.InsertTrashEntry(ctx, entry); err != nil {
		// Put the file back so nothing is stranded without an entry.
		if undoErr := note.MoveFile(dst, src); undoErr != nil {
			m.logger.Error("failed to undo trash move", "path", notePath, "trash_path", entry.TrashPath, "error", undoErr)
		}
		return nil, err
	}
	if err := m.store.MarkDeleted(ctx, m.folderID, notePath); err != nil {
		m.logger.Warn("failed to mark trashed note deleted", "path", notePath, "error", err)
	}

	m.logger.Info("note trashed", "path", notePath, "entry", entry.ID)
	return entry, nil
}

// RestoreResult describes a completed restore.
type RestoreResult struct {
	Entry store.TrashEntry
	// Path is where the note was restored to.
	Path string
	// Collision is set when Path differs from the original path because the
	// original was occupied.
	Collision bool
}

// Warning returns an ErrRestoreCollision describing a renamed restore, or nil.
func (r RestoreResult) Warning() error {
	if !r.Collision {
		return nil
	}
	return fmt.Errorf("%s restored as %s: %w", r.Entry.OriginalPath, r.Path, ErrRestoreCollision)
}

// Restore moves the entry back into the folder. The entry is removed only
// after the file is in place. The cache is left to the detector, which sees
// the file reappear.
func (m *Manager) Restore(ctx context.Context, id string) (RestoreResult, error) {
	entry, err := m.store.GetTrashEntry(ctx, id)
	if err != nil {
		return RestoreResult{}, err
	}
	src := filepath.Join(m.dir, entry.TrashPath)
	if _, err := os.Stat(src); err != nil {
		return RestoreResult{}, &note.FileError{Op: "stat", Path: src, Err: err}
	}

	target, collision, err := AvailablePath(m.root, entry.OriginalPath)
	if err != nil {
		return RestoreResult{}, err
	}
	if err := note.MoveFile(src, note.Abs(m.root, target)); err != nil {
		return RestoreResult{}, err
	}

	result := RestoreResult{Entry: *entry, Path: target, Collision: collision}
	if err := m.store.DeleteTrashEntry(ctx, id); err != nil {
		return result, err
	}

	if collision {
		m.logger.Warn("restore target occupied, renamed", "original", entry.OriginalPath, "restored", target)
	} else {
		m.logger.Info("note restored", "path", target, "entry", id)
	}
	return result, nil
}

// AvailablePath returns notePath if nothing exists there, otherwise the
// first free "<name> (restored N).<ext>" next to it.
func AvailablePath(root, notePath string) (string, bool, error) {
	notePath = note.CleanPath(notePath)
	if !note.Exists(note.Abs(root, notePath)) {
		return notePath, false, nil
	}
	dir := path.Dir(notePath)
	base := path.Base(notePath)
	ext := path.Ext(base)
	name := strings.TrimSuffix(base, ext)
	for n := 1; n <= maxRestoreSuffix; n++ {
		candidate := path.Join(dir, fmt.Sprintf("%s (restored %d)%s", name, n, ext))
		if !note.Exists(note.Abs(root, candidate)) {
			return candidate, true, nil
		}
	}
	return "", true, &note.FileError{Op: "move", Path: notePath, Err: fs.ErrExist}
}

// List returns the folder's trash entries, newest first.
func (m *Manager) List(ctx context.Context) ([]*store.TrashEntry, error) {
	return m.store.ListTrashEntries(ctx, m.folderID)
}

// Count returns the number of entries in the trash.
func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.store.CountTrashEntries(ctx, m.folderID)
}

// Read returns the content of a trashed note without restoring it.
func (m *Manager) Read(ctx context.Context, id string) (string, error) {
	entry, err := m.store.GetTrashEntry(ctx, id)
	if err != nil {
		return "", err
	}
	snap, err := note.ReadFile(filepath.Join(m.dir, entry.TrashPath))
	if err != nil {
		return "", err
	}
	return string(snap.Data), nil
}
