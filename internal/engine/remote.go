package engine

import (
	"context"

	"github.com/mschirtzinger/notesync/internal/remote"
)

// goRemote runs work off the loop and posts the function it returns to the
// loop. After cancel the result is dropped, so callbacks never run for a
// dialog that was closed.
func (e *Engine) goRemote(work func(ctx context.Context, gw *remote.Gateway) func()) (context.CancelFunc, error) {
	gw, err := e.Gateway()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if !e.started || e.stopped || e.group == nil {
		e.mu.Unlock()
		return nil, ErrNotRunning
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.remoteCalls.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.remoteCalls.Done()
		deliver := work(ctx, gw)
		posted := e.loop.Post(func() {
			defer cancel()
			if ctx.Err() != nil {
				return
			}
			deliver()
		})
		if !posted {
			cancel()
		}
	}()
	return cancel, nil
}

// FetchVersionListAsync fetches the server's versions of path. done runs on
// the loop.
func (e *Engine) FetchVersionListAsync(path string, done func([]remote.VersionEntry, error)) (context.CancelFunc, error) {
	path, err := cleanNotePath(path)
	if err != nil {
		return nil, err
	}
	return e.goRemote(func(ctx context.Context, gw *remote.Gateway) func() {
		list, err := gw.FetchVersionList(ctx, path)
		return func() { done(list, err) }
	})
}

// FetchTrashListAsync fetches the server trash. done runs on the loop.
func (e *Engine) FetchTrashListAsync(done func([]remote.TrashEntry, error)) (context.CancelFunc, error) {
	return e.goRemote(func(ctx context.Context, gw *remote.Gateway) func() {
		list, err := gw.FetchTrashList(ctx)
		return func() { done(list, err) }
	})
}

// RestoreVersionAsync downloads a version and writes it with RestoreNote:
// unsaved edits of an open note meet it as a conflict, and a pending
// conflict refuses it with resolver.ErrConflictUnresolved. done runs on the
// loop.
func (e *Engine) RestoreVersionAsync(entry remote.VersionEntry, done func(error)) (context.CancelFunc, error) {
	return e.goRemote(func(ctx context.Context, gw *remote.Gateway) func() {
		err := gw.RestoreVersion(ctx, entry)
		if err != nil {
			e.logger.Warn("version restore failed", "path", entry.Path, "version", entry.ID, "error", err)
		}
		return func() { done(err) }
	})
}

// RestoreFromRemoteTrashAsync recreates a note from the server trash. The
// file is written directly; the detector reports it as created. done runs on
// the loop.
func (e *Engine) RestoreFromRemoteTrashAsync(entry remote.TrashEntry, done func(remote.RemoteRestore, error)) (context.CancelFunc, error) {
	return e.goRemote(func(ctx context.Context, gw *remote.Gateway) func() {
		result, err := gw.RestoreFromRemoteTrash(ctx, entry)
		return func() {
			if err == nil {
				msg := ""
				if result.Collision {
					msg = "restored under a new name"
				}
				e.emit(Event{Type: EventRestored, Path: result.Path, OldPath: entry.Path, Message: msg, Err: result.AckErr})
			}
			done(result, err)
		}
	})
}
