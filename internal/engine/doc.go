// Package engine keeps a note folder, its metadata cache and the notes open
// in an editor consistent with each other.
//
// The files on disk are the source of truth. The engine mirrors them into
// the cache, reconciles external changes against unsaved edits, and routes
// every write (editor saves, conflict decisions, restored versions, batch
// moves) through one save path.
//
// # Architecture
//
// The engine wires these components together:
//
//   - Loop: one goroutine that owns editor state and every cache write
//   - detector.Detector: watcher and periodic scanner feeding one event queue
//   - resolver.Manager: per-note conflict state machines
//   - trash.Manager: local trash, version snapshots, scheduled purge
//   - remote.Gateway: optional server with version history and trash
//
// Detector events, editor calls and remote results all end up as functions
// run by the Loop, in the order they arrive:
//
//	detector ──► queue ──┐
//	editor calls ────────┼──► Loop ──► cache, resolver, files
//	remote results ──────┘
//
// # Usage
//
//	cfg := engine.DefaultConfig("/home/me/notes")
//	cfg.Prompter = myPrompter
//
//	e, err := engine.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := e.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Stop()
//
//	n, err := e.OpenNote(ctx, "ideas.md")
//	...
//	err = e.EditNote(ctx, "ideas.md", n.Content+"\nmore")
//	err = e.SaveNote(ctx, "ideas.md", n.Content+"\nmore")
//
// # Events
//
// A detector event identical to the cached row is discarded. That removes
// duplicates reported by both producers and the echo of the engine's own
// saves. Other events are applied from a fresh read of the file, so one
// arriving late cannot roll the cache back. For an open note the new disk
// content goes to the resolver; a conflict stays pending until the user
// decides, and SaveNote refuses to write meanwhile. Every write to an open
// note first compares the file with the cache, so a change the detector has
// not reported yet is handled the same way instead of being overwritten.
//
// # Remote calls
//
// Network calls never run on the Loop. The Async methods start them on
// their own goroutine and post the result back; the returned cancel
// function drops the result once the dialog that asked for it is gone.
//
// # Errors
//
// Only ErrFolderInaccessible stops the engine. Everything else is reported
// per operation or per item (see Tally) and classified by IsRecoverable and
// IsUserActionRequired.
package engine
