package engine

import (
	"context"
	"fmt"

	"github.com/mschirtzinger/notesync/internal/note"
	"github.com/mschirtzinger/notesync/internal/remote"
	"github.com/mschirtzinger/notesync/internal/resolver"
)

var _ remote.Saver = (*Engine)(nil)

type encryptMode int

const (
	encryptKeep encryptMode = iota // encrypt if the note is encrypted now
	encryptOn
	encryptOff
)

func cleanNotePath(path string) (string, error) {
	if err := note.ValidatePath(path); err != nil {
		return "", err
	}
	return note.CleanPath(path), nil
}

// OpenNote reads a note for editing and starts tracking it. Opening a note
// that is already open returns the current editor buffer. Encrypted notes
// need Unlock first.
func (e *Engine) OpenNote(ctx context.Context, path string) (*note.Note, error) {
	path, err := cleanNotePath(path)
	if err != nil {
		return nil, err
	}
	var out *note.Note
	err = e.call(ctx, func() error {
		snap, err := note.ReadFile(note.Abs(e.root, path))
		if err != nil {
			return err
		}
		n := note.New(path, snap.Data, snap.ModTime)
		text, err := e.editorText(path, n.Content)
		if err != nil {
			return err
		}
		n.Content = text
		if !e.resolver.IsOpen(path) {
			// The session's base must be what the cache records, or a later
			// save could not tell an unreported external change.
			if err := e.record(ctx, path, snap); err != nil {
				return err
			}
		}
		if c, err := e.cached(ctx, path); err == nil && c != nil {
			n.CachedAt = c.CachedAt
		}

		s := e.resolver.Open(path, text)
		n.Content = s.Buffer()
		n.Dirty = s.Dirty()
		out = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EditNote records the editor buffer of an open note.
func (e *Engine) EditNote(ctx context.Context, path, content string) error {
	path, err := cleanNotePath(path)
	if err != nil {
		return err
	}
	return e.call(ctx, func() error {
		return e.resolver.NotifyEdit(path, content)
	})
}

// BeginEdit marks an open note as having local edits before the first
// buffer is known, as when the note is handed to an external editor. Any
// external change from then on is a conflict.
func (e *Engine) BeginEdit(ctx context.Context, path string) error {
	path, err := cleanNotePath(path)
	if err != nil {
		return err
	}
	return e.call(ctx, func() error {
		return e.resolver.NotifyEditStarted(path)
	})
}

// SaveNote writes content to path the way an editor save does: it is refused
// while a conflict is pending, applies the line-ending policy, keeps the note
// encrypted if it was, snapshots the replaced content and updates the cache.
// For an open note content also becomes the editor buffer, and a change on
// disk that no event has reported yet is handled first: over local edits it
// raises a conflict and the save fails with resolver.ErrConflictUnresolved.
func (e *Engine) SaveNote(ctx context.Context, path, content string) error {
	path, err := cleanNotePath(path)
	if err != nil {
		return err
	}
	return e.call(ctx, func() error {
		return e.save(context.WithoutCancel(ctx), path, content, encryptKeep)
	})
}

// RestoreNote writes restored content, such as a server or local version,
// to path. A closed or unedited note is saved as SaveNote does and an open
// one shows the restored content. Over unsaved edits the content is written
// to disk as an external change, so the edits meet it as a conflict rather
// than being replaced. A pending conflict refuses the restore.
func (e *Engine) RestoreNote(ctx context.Context, path, content string) error {
	path, err := cleanNotePath(path)
	if err != nil {
		return err
	}
	return e.call(ctx, func() error {
		wctx := context.WithoutCancel(ctx)
		s, open := e.resolver.Session(path)
		if !open {
			return e.save(wctx, path, content, encryptKeep)
		}
		if err := e.resolver.CanSave(path); err != nil {
			return err
		}
		if s.State() == resolver.Clean && !s.Dirty() {
			if err := e.save(wctx, path, content, encryptKeep); err != nil {
				return err
			}
			e.emit(Event{Type: EventNoteReloaded, Path: path, Content: content})
			return nil
		}

		o, changed, err := e.catchUp(wctx, path)
		if err != nil {
			return err
		}
		if changed && (o.Kind == resolver.ConflictRaised || o.Kind == resolver.ConflictUpdated) {
			return fmt.Errorf("restore %s: %w", path, resolver.ErrConflictUnresolved)
		}
		if _, err := e.writeNote(wctx, path, content, encryptKeep); err != nil {
			return err
		}
		o, err = e.resolver.NotifyExternalChange(path, content)
		if err != nil {
			return err
		}
		return e.applyOutcome(wctx, path, o)
	})
}

func (e *Engine) save(ctx context.Context, path, content string, mode encryptMode) error {
	if err := e.resolver.CanSave(path); err != nil {
		return err
	}
	open := e.resolver.IsOpen(path)
	if open {
		if err := e.resolver.NotifyEdit(path, content); err != nil {
			return err
		}
		o, changed, err := e.catchUp(ctx, path)
		if err != nil {
			return err
		}
		if changed {
			switch o.Kind {
			case resolver.ConflictRaised, resolver.ConflictUpdated:
				return fmt.Errorf("save %s: %w", path, resolver.ErrConflictUnresolved)
			case resolver.Reloaded, resolver.AutoResolved, resolver.AcceptedTheirs:
				// Disk already holds what the editor ends up showing.
				e.emit(Event{Type: EventNoteReloaded, Path: path, Content: o.Content})
				return nil
			}
		}
	}
	if _, err := e.writeNote(ctx, path, content, mode); err != nil {
		return err
	}
	if open {
		return e.resolver.NotifySaved(path, content)
	}
	return nil
}

// catchUp compares the file under an open note with the cache. A difference
// is an external change the detector has not delivered yet; it is recorded
// and handed to the resolver as if it had been. changed reports whether
// there was one.
func (e *Engine) catchUp(ctx context.Context, path string) (o resolver.Outcome, changed bool, err error) {
	abs := note.Abs(e.root, path)
	if !note.Exists(abs) {
		return o, false, nil
	}
	snap, err := note.ReadFile(abs)
	if err != nil {
		return o, false, err
	}
	cached, err := e.cached(ctx, path)
	if err != nil {
		return o, false, err
	}
	if cached != nil && cached.Fingerprint == snap.Fingerprint {
		return o, false, nil
	}
	e.logger.Info("unreported change on disk", "path", path, "fingerprint", note.Short(snap.Fingerprint))
	if err := e.record(ctx, path, snap); err != nil {
		return o, false, err
	}
	text, err := e.editorText(path, string(snap.Data))
	if err != nil {
		return o, false, err
	}
	o, err = e.resolver.NotifyExternalChange(path, text)
	return o, true, err
}

// record puts an observed file into the cache, applying front-matter tags.
func (e *Engine) record(ctx context.Context, path string, snap *note.Snapshot) error {
	cached, err := e.cached(ctx, path)
	if err != nil {
		return err
	}
	if sameAsCache(cached, snap.Fingerprint, snap.ModTime) {
		return nil
	}
	id, err := e.store.UpsertNote(ctx, e.folder.ID, path, snap.Fingerprint, snap.ModTime)
	if err != nil {
		return err
	}
	if raw := string(snap.Data); !note.IsEncrypted(raw) {
		e.syncTags(ctx, id, path, raw)
	}
	e.emit(Event{Type: EventNoteChanged, Path: path})
	return nil
}

// writeNote puts text on disk and in the cache. It runs on the loop.
func (e *Engine) writeNote(ctx context.Context, path, text string, mode encryptMode) (*note.Snapshot, error) {
	abs := note.Abs(e.root, path)

	var prev *note.Snapshot
	if note.Exists(abs) {
		p, err := note.ReadFile(abs)
		if err != nil {
			e.logger.Warn("could not read note before save", "path", path, "error", err)
		} else {
			prev = p
		}
	}

	encrypt := false
	switch mode {
	case encryptOn:
		encrypt = true
	case encryptKeep:
		encrypt = e.encrypted[path] || (prev != nil && note.IsEncrypted(string(prev.Data)))
	}

	disk := text
	if encrypt {
		sealed, err := note.Encrypt(text, e.passphrase)
		if err != nil {
			return nil, fmt.Errorf("save %s: %w", path, err)
		}
		disk = sealed
	}
	data := e.config.LineEnding.Apply(disk)

	if e.config.Snapshots && prev != nil && len(prev.Data) > 0 && prev.Fingerprint != note.Fingerprint([]byte(data)) {
		if _, err := e.trash.Snapshot(ctx, path, string(prev.Data)); err != nil {
			e.logger.Warn("failed to snapshot previous version", "path", path, "error", err)
		}
	}

	snap, err := note.WriteBytes(abs, []byte(data))
	if err != nil {
		return nil, err
	}
	if encrypt {
		e.encrypted[path] = true
	} else {
		delete(e.encrypted, path)
	}

	// A failed cache update is repaired when the detector reports the write.
	id, err := e.store.UpsertNote(ctx, e.folder.ID, path, snap.Fingerprint, snap.ModTime)
	if err != nil {
		e.logger.Warn("saved note not cached", "path", path, "error", err)
	} else if !encrypt {
		e.syncTags(ctx, id, path, text)
	}

	e.logger.Debug("note saved", "path", path, "fingerprint", note.Short(snap.Fingerprint), "encrypted", encrypt)
	e.emit(Event{Type: EventNoteSaved, Path: path})
	return snap, nil
}

// CloseNote stops tracking path. A pending conflict is abandoned and the
// unsaved buffer discarded.
func (e *Engine) CloseNote(ctx context.Context, path string) error {
	path, err := cleanNotePath(path)
	if err != nil {
		return err
	}
	return e.call(ctx, func() error {
		e.resolver.Close(path)
		delete(e.encrypted, path)
		return nil
	})
}

// ResolveConflict applies a user decision to the conflict on path. KeepMine
// writes the editor buffer; AcceptTheirs replaces the buffer with the disk
// content; ViewDiff only returns the diff.
func (e *Engine) ResolveConflict(ctx context.Context, path string, choice resolver.Choice) (resolver.Action, error) {
	path, err := cleanNotePath(path)
	if err != nil {
		return resolver.Action{}, err
	}
	var act resolver.Action
	err = e.call(ctx, func() error {
		wctx := context.WithoutCancel(ctx)
		a, err := e.resolver.Resolve(path, choice)
		if err != nil {
			return err
		}
		act = a
		switch {
		case act.Save:
			// A failed write leaves the session Resolved; SaveNote retries it.
			if err := e.save(wctx, path, act.Content, encryptKeep); err != nil {
				return err
			}
		case choice == resolver.AcceptTheirs:
			if err := e.resolver.Settle(path, act.Content); err != nil {
				return err
			}
			e.emit(Event{Type: EventNoteReloaded, Path: path, Content: act.Content})
		}
		if s, ok := e.resolver.Session(path); ok {
			act.State = s.State()
		}
		return nil
	})
	if err != nil {
		return resolver.Action{}, err
	}
	return act, nil
}

// PendingConflicts lists conflicts waiting for a decision.
func (e *Engine) PendingConflicts(ctx context.Context) ([]resolver.Conflict, error) {
	var out []resolver.Conflict
	err := e.call(ctx, func() error {
		out = e.resolver.Pending()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetConflictPolicy changes how external changes over unsaved edits are
// handled for the rest of the session.
func (e *Engine) SetConflictPolicy(ctx context.Context, p resolver.Policy) error {
	return e.call(ctx, func() error {
		e.resolver.SetPolicy(p)
		return nil
	})
}

// Unlock holds passphrase in memory for opening and saving encrypted notes.
// It is never written anywhere.
func (e *Engine) Unlock(ctx context.Context, passphrase string) error {
	if passphrase == "" {
		return note.ErrNoPassphrase
	}
	return e.call(ctx, func() error {
		e.passphrase = passphrase
		return nil
	})
}

// Lock forgets the passphrase.
func (e *Engine) Lock(ctx context.Context) error {
	return e.call(ctx, func() error {
		e.passphrase = ""
		return nil
	})
}

// EncryptNote rewrites path as an encryption envelope. For an open note the
// editor buffer is what gets encrypted.
func (e *Engine) EncryptNote(ctx context.Context, path string) error {
	return e.rewriteEncryption(ctx, path, encryptOn)
}

// DecryptNote rewrites an encrypted note as plaintext.
func (e *Engine) DecryptNote(ctx context.Context, path string) error {
	return e.rewriteEncryption(ctx, path, encryptOff)
}

func (e *Engine) rewriteEncryption(ctx context.Context, path string, mode encryptMode) error {
	path, err := cleanNotePath(path)
	if err != nil {
		return err
	}
	return e.call(ctx, func() error {
		if e.passphrase == "" {
			return note.ErrNoPassphrase
		}
		wctx := context.WithoutCancel(ctx)
		if s, ok := e.resolver.Session(path); ok {
			return e.save(wctx, path, s.Buffer(), mode)
		}

		snap, err := note.ReadFile(note.Abs(e.root, path))
		if err != nil {
			return err
		}
		raw := string(snap.Data)
		if note.IsEncrypted(raw) == (mode == encryptOn) {
			return nil
		}
		text := raw
		if mode == encryptOff {
			text, err = note.Decrypt(raw, e.passphrase)
			if err != nil {
				return fmt.Errorf("decrypt %s: %w", path, err)
			}
		}
		return e.save(wctx, path, text, mode)
	})
}
