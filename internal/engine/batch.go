package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/mschirtzinger/notesync/internal/note"
	"github.com/mschirtzinger/notesync/internal/resolver"
	"github.com/mschirtzinger/notesync/internal/store"
	"github.com/mschirtzinger/notesync/internal/trash"
)

// ItemError is the failure of one item in a batch.
type ItemError struct {
	Path string
	Err  error
}

func (e ItemError) Error() string { return e.Path + ": " + e.Err.Error() }

func (e ItemError) Unwrap() error { return e.Err }

// Tally is the per-item result of a batch operation. A failed item never
// stops the others.
type Tally struct {
	Succeeded []string
	Failed    []ItemError
}

func (t *Tally) ok(path string) { t.Succeeded = append(t.Succeeded, path) }

func (t *Tally) fail(path string, err error) {
	t.Failed = append(t.Failed, ItemError{Path: path, Err: err})
}

// OK reports whether every item succeeded.
func (t Tally) OK() bool { return len(t.Failed) == 0 }

// Err joins the item failures, or returns nil.
func (t Tally) Err() error {
	if len(t.Failed) == 0 {
		return nil
	}
	errs := make([]error, len(t.Failed))
	for i, f := range t.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

func (t Tally) String() string {
	return fmt.Sprintf("%d succeeded, %d failed", len(t.Succeeded), len(t.Failed))
}

// batch runs each item on the loop in turn. Items after a cancellation
// fail with the context error; the item in flight completes.
func (e *Engine) batch(ctx context.Context, paths []string, each func(ctx context.Context, path string) (string, error)) (Tally, error) {
	var t Tally
	err := e.call(ctx, func() error {
		wctx := context.WithoutCancel(ctx)
		for _, p := range paths {
			if err := ctx.Err(); err != nil {
				t.fail(p, err)
				continue
			}
			clean, err := cleanNotePath(p)
			if err != nil {
				t.fail(p, err)
				continue
			}
			done, err := each(wctx, clean)
			if err != nil {
				t.fail(clean, err)
				continue
			}
			t.ok(done)
		}
		return nil
	})
	if err != nil {
		return Tally{}, err
	}
	return t, nil
}

// cleanDir validates a destination directory relative to the root. "" and
// "." mean the root itself.
func cleanDir(dir string) (string, error) {
	if dir == "" || dir == "." || dir == "/" {
		return "", nil
	}
	if err := note.ValidatePath(dir); err != nil {
		return "", err
	}
	return note.CleanPath(dir), nil
}

func (e *Engine) checkNoConflict(path string) error {
	if s, ok := e.resolver.Session(path); ok && s.State() == resolver.ConflictPending {
		return fmt.Errorf("%s: %w", path, resolver.ErrConflictUnresolved)
	}
	return nil
}

// checkClosable refuses a note that is open with edits not on disk.
func (e *Engine) checkClosable(path string) error {
	if err := e.checkNoConflict(path); err != nil {
		return err
	}
	if s, ok := e.resolver.Session(path); ok && (s.State() != resolver.Clean || s.Dirty()) {
		return fmt.Errorf("%s: %w", path, ErrUnsavedEdits)
	}
	return nil
}

// MoveNotes moves notes into destDir, keeping their names. Tags and open
// editor sessions follow the notes. Occupied targets fail with
// ErrDestinationExists.
func (e *Engine) MoveNotes(ctx context.Context, paths []string, destDir string) (Tally, error) {
	dir, err := cleanDir(destDir)
	if err != nil {
		return Tally{}, err
	}
	return e.batch(ctx, paths, func(ctx context.Context, p string) (string, error) {
		target := path.Join(dir, path.Base(p))
		if target == p {
			return p, nil
		}
		if err := e.checkNoConflict(p); err != nil {
			return "", err
		}
		src, dst := note.Abs(e.root, p), note.Abs(e.root, target)
		if note.Exists(dst) {
			return "", fmt.Errorf("%s: %w", target, ErrDestinationExists)
		}
		if err := note.MoveFile(src, dst); err != nil {
			return "", err
		}
		snap, err := note.ReadFile(dst)
		if err != nil {
			return "", err
		}
		if _, err := e.store.RenameNote(ctx, e.folder.ID, p, target, snap.Fingerprint, snap.ModTime); err != nil {
			return "", err
		}
		e.rekey(p, target)
		e.emit(Event{Type: EventNoteRenamed, Path: target, OldPath: p})
		return target, nil
	})
}

// CopyNotes copies notes into destDir byte for byte. Manually applied tags
// are copied along with the content.
func (e *Engine) CopyNotes(ctx context.Context, paths []string, destDir string) (Tally, error) {
	dir, err := cleanDir(destDir)
	if err != nil {
		return Tally{}, err
	}
	return e.batch(ctx, paths, func(ctx context.Context, p string) (string, error) {
		target := path.Join(dir, path.Base(p))
		dst := note.Abs(e.root, target)
		if target == p || note.Exists(dst) {
			return "", fmt.Errorf("%s: %w", target, ErrDestinationExists)
		}
		src, err := note.ReadFile(note.Abs(e.root, p))
		if err != nil {
			return "", err
		}
		snap, err := note.WriteBytes(dst, src.Data)
		if err != nil {
			return "", err
		}
		id, err := e.store.UpsertNote(ctx, e.folder.ID, target, snap.Fingerprint, snap.ModTime)
		if err != nil {
			return "", err
		}

		content := string(src.Data)
		var fromHeader []string
		if !note.IsEncrypted(content) {
			e.syncTags(ctx, id, target, content)
			if fm, err := note.ParseFrontMatter(content); err == nil {
				fromHeader = fm.Tags
			}
		}
		if orig, err := e.cached(ctx, p); err == nil && orig != nil {
			tags, err := e.store.TagsForNote(ctx, orig.ID)
			if err != nil {
				return "", err
			}
			for _, tag := range tags {
				if containsFold(fromHeader, tag.Name) {
					continue
				}
				if err := e.store.TagNote(ctx, id, tag.ID); err != nil {
					return "", err
				}
			}
		}
		e.emit(Event{Type: EventNoteChanged, Path: target})
		return target, nil
	})
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// ApplyTag links every note in paths to the tag named name, creating the
// tag if needed.
func (e *Engine) ApplyTag(ctx context.Context, paths []string, name string) (Tally, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Tally{}, fmt.Errorf("tag name is required")
	}
	var tag *store.Tag
	return e.batch(ctx, paths, func(ctx context.Context, p string) (string, error) {
		if tag == nil {
			t, err := e.store.GetTagByName(ctx, e.folder.ID, name)
			if errors.Is(err, store.ErrNotFound) {
				t, err = e.store.CreateTag(ctx, e.folder.ID, name, "", 0)
			}
			if err != nil {
				return "", err
			}
			tag = t
		}
		n, err := e.cached(ctx, p)
		if err != nil {
			return "", err
		}
		if n == nil {
			return "", fmt.Errorf("%s: %w", p, fs.ErrNotExist)
		}
		if err := e.store.TagNote(ctx, n.ID, tag.ID); err != nil {
			return "", err
		}
		return p, nil
	})
}

// TrashNotes moves notes into the local trash. An open note without
// unsaved edits is closed; one with edits or a pending conflict fails with
// ErrUnsavedEdits or resolver.ErrConflictUnresolved and stays in place.
func (e *Engine) TrashNotes(ctx context.Context, paths []string) (Tally, error) {
	return e.batch(ctx, paths, func(ctx context.Context, p string) (string, error) {
		if err := e.checkClosable(p); err != nil {
			return "", err
		}
		entry, err := e.trash.Trash(ctx, p)
		if err != nil {
			return "", err
		}
		if e.resolver.IsOpen(p) {
			e.resolver.Close(p)
			delete(e.encrypted, p)
		}
		e.emit(Event{Type: EventTrashed, Path: p, Message: entry.ID})
		return p, nil
	})
}

// RestoreTrash moves a trashed note back. When the original path is taken
// the note lands under a "(restored N)" name and the result's Warning is
// set.
func (e *Engine) RestoreTrash(ctx context.Context, id string) (trash.RestoreResult, error) {
	var result trash.RestoreResult
	err := e.call(ctx, func() error {
		wctx := context.WithoutCancel(ctx)
		r, err := e.trash.Restore(wctx, id)
		if err != nil {
			return err
		}
		result = r
		snap, err := note.ReadFile(note.Abs(e.root, r.Path))
		if err != nil {
			// The detector records the note once it is readable.
			e.logger.Warn("restored note not readable", "path", r.Path, "error", err)
		} else if nid, err := e.store.UpsertNote(wctx, e.folder.ID, r.Path, snap.Fingerprint, snap.ModTime); err == nil {
			if raw := string(snap.Data); !note.IsEncrypted(raw) {
				e.syncTags(wctx, nid, r.Path, raw)
			}
		}
		msg := ""
		if w := r.Warning(); w != nil {
			msg = w.Error()
		}
		e.emit(Event{Type: EventRestored, Path: r.Path, OldPath: r.Entry.OriginalPath, Message: msg})
		return nil
	})
	if err != nil {
		return trash.RestoreResult{}, err
	}
	return result, nil
}

// PurgeTrash deletes trash entries older than retentionDays now.
func (e *Engine) PurgeTrash(ctx context.Context, retentionDays int) (trash.PurgeResult, error) {
	var (
		result   trash.PurgeResult
		purgeErr error
	)
	err := e.call(ctx, func() error {
		result, purgeErr = e.trash.PurgeExpired(ctx, retentionDays)
		return nil
	})
	if err != nil {
		return trash.PurgeResult{}, err
	}
	return result, purgeErr
}

// ListTrash returns the local trash entries, newest first.
func (e *Engine) ListTrash(ctx context.Context) ([]*store.TrashEntry, error) {
	if e.trash == nil {
		return nil, ErrNotRunning
	}
	return e.trash.List(ctx)
}
