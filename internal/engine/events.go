package engine

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/mschirtzinger/notesync/internal/detector"
	"github.com/mschirtzinger/notesync/internal/note"
	"github.com/mschirtzinger/notesync/internal/resolver"
	"github.com/mschirtzinger/notesync/internal/store"
)

// drainEvents applies every queued detector event. It runs on the loop.
func (e *Engine) drainEvents() {
	ctx := context.WithoutCancel(e.ctx)
	for _, ev := range e.detector.Queue().Drain() {
		if err := e.applyEvent(ctx, ev); err != nil {
			e.logger.Warn("failed to apply change", "event", ev.String(), "error", err)
			e.emit(Event{Type: EventError, Path: ev.Path, Message: "failed to apply change", Err: err})
		}
	}
}

func (e *Engine) applyEvent(ctx context.Context, ev detector.Event) error {
	switch ev.Kind {
	case detector.Created, detector.Modified:
		return e.applyWrite(ctx, ev)
	case detector.Removed:
		return e.applyRemove(ctx, ev)
	case detector.Renamed:
		return e.applyRename(ctx, ev)
	}
	return nil
}

// cached returns the live cache row for path, or nil.
func (e *Engine) cached(ctx context.Context, path string) (*store.Note, error) {
	n, err := e.store.GetByPath(ctx, e.folder.ID, path)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return n, err
}

// sameAsCache reports whether an observation is already what the cache
// holds. Duplicate reports from the watcher and the scanner, and echoes of
// the engine's own writes, end here.
func sameAsCache(cached *store.Note, fingerprint string, modTime time.Time) bool {
	return cached != nil && fingerprint == cached.Fingerprint && modTime.Equal(cached.ModTime)
}

func (e *Engine) applyWrite(ctx context.Context, ev detector.Event) error {
	cached, err := e.cached(ctx, ev.Path)
	if err != nil {
		return err
	}
	if sameAsCache(cached, ev.Fingerprint, ev.ModTime) {
		e.logger.Debug("discarding duplicate event", "event", ev.String())
		return nil
	}

	// The file is read afresh, so an event that arrives out of order never
	// rolls the cache back to what it reported.
	snap, err := note.ReadFile(note.Abs(e.root, ev.Path))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Gone again; the removal arrives as its own event.
		return nil
	case err != nil:
		// Unreadable: record what the detector saw so the note is listed,
		// and leave any open session alone.
		if _, uerr := e.store.UpsertNote(ctx, e.folder.ID, ev.Path, ev.Fingerprint, ev.ModTime); uerr != nil {
			return uerr
		}
		return err
	}
	if sameAsCache(cached, snap.Fingerprint, snap.ModTime) {
		return nil
	}

	id, err := e.store.UpsertNote(ctx, e.folder.ID, ev.Path, snap.Fingerprint, snap.ModTime)
	if err != nil {
		return err
	}
	raw := string(snap.Data)
	if !note.IsEncrypted(raw) {
		e.syncTags(ctx, id, ev.Path, raw)
	}
	e.emit(Event{Type: EventNoteChanged, Path: ev.Path})

	if !e.resolver.IsOpen(ev.Path) {
		return nil
	}
	text, err := e.editorText(ev.Path, raw)
	if err != nil {
		return err
	}
	outcome, err := e.resolver.NotifyExternalChange(ev.Path, text)
	if err != nil {
		return err
	}
	return e.applyOutcome(ctx, ev.Path, outcome)
}

// applyOutcome carries out what the resolver decided for an external change.
// Prompts for conflicts are already sent by the resolver.
func (e *Engine) applyOutcome(ctx context.Context, path string, o resolver.Outcome) error {
	switch o.Kind {
	case resolver.Reloaded, resolver.AutoResolved, resolver.AcceptedTheirs:
		e.emit(Event{Type: EventNoteReloaded, Path: path, Content: o.Content})
	case resolver.KeptMine:
		return e.save(ctx, path, o.Content, encryptKeep)
	}
	return nil
}

func (e *Engine) applyRemove(ctx context.Context, ev detector.Event) error {
	if note.Exists(note.Abs(e.root, ev.Path)) {
		e.logger.Debug("discarding stale removal", "path", ev.Path)
		return nil
	}
	cached, err := e.cached(ctx, ev.Path)
	if err != nil || cached == nil {
		return err
	}
	if err := e.store.MarkDeleted(ctx, e.folder.ID, ev.Path); err != nil {
		return err
	}
	msg := ""
	if e.resolver.IsOpen(ev.Path) {
		// The buffer stays; saving it recreates the file.
		msg = "open note deleted on disk"
	}
	e.emit(Event{Type: EventNoteRemoved, Path: ev.Path, Message: msg})
	return nil
}

func (e *Engine) applyRename(ctx context.Context, ev detector.Event) error {
	if !note.Exists(note.Abs(e.root, ev.Path)) {
		return nil
	}
	cached, err := e.cached(ctx, ev.Path)
	if err != nil {
		return err
	}
	if sameAsCache(cached, ev.Fingerprint, ev.ModTime) {
		// Already applied, typically by MoveNotes.
		return nil
	}
	if _, err := e.store.RenameNote(ctx, e.folder.ID, ev.OldPath, ev.Path, ev.Fingerprint, ev.ModTime); err != nil {
		return err
	}
	e.rekey(ev.OldPath, ev.Path)
	e.emit(Event{Type: EventNoteRenamed, Path: ev.Path, OldPath: ev.OldPath})
	return nil
}

func (e *Engine) rekey(oldPath, newPath string) {
	if !e.resolver.Rekey(oldPath, newPath) {
		return
	}
	if e.encrypted[oldPath] {
		e.encrypted[newPath] = true
	}
	delete(e.encrypted, oldPath)
}

// editorText turns file content into what the editor shows, decrypting
// envelopes with the session passphrase.
func (e *Engine) editorText(path, raw string) (string, error) {
	if !note.IsEncrypted(raw) {
		return raw, nil
	}
	e.encrypted[path] = true
	if e.passphrase == "" {
		return "", note.ErrNoPassphrase
	}
	return note.Decrypt(raw, e.passphrase)
}

// syncTags replaces the front-matter tags of a note. A malformed header
// keeps the previous tags.
func (e *Engine) syncTags(ctx context.Context, id int64, path, content string) {
	fm, err := note.ParseFrontMatter(content)
	if err != nil {
		e.logger.Warn("ignoring front matter", "path", path, "error", err)
		return
	}
	if err := e.store.SetNoteTags(ctx, e.folder.ID, id, fm.Tags); err != nil {
		e.logger.Warn("failed to update tags", "path", path, "error", err)
	}
}
