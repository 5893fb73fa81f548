package detector

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mschirtzinger/notesync/internal/note"
)

// WatcherConfig holds configuration for the file system watcher.
type WatcherConfig struct {
	// Debounce is how long a file must stay quiet after a write before it
	// is read and reported. This batches rapid saves together.
	Debounce time.Duration

	// RenameWindow is how long a removed file waits for a create with the
	// same fingerprint before it is reported as Removed.
	RenameWindow time.Duration

	Logger *slog.Logger
}

// DefaultWatcherConfig returns sensible defaults.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Debounce:     100 * time.Millisecond,
		RenameWindow: 2 * time.Second,
	}
}

type dirtyFile struct {
	created bool
	last    time.Time
}

type goneFile struct {
	fingerprint string
	at          time.Time
}

// Watcher turns fsnotify notifications below a folder root into queued
// events. It watches subdirectories when the filter allows them and picks up
// directories created while running.
type Watcher struct {
	root   string
	filter Filter
	cache  Cache
	queue  *Queue
	config WatcherConfig

	watcher *fsnotify.Watcher
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	dirty   map[string]*dirtyFile
	gone    map[string]*goneFile
}

// NewWatcher creates a Watcher. It must be started with Start before it
// emits events.
func NewWatcher(root string, filter Filter, cache Cache, queue *Queue, config WatcherConfig) (*Watcher, error) {
	if config.Debounce <= 0 {
		config.Debounce = DefaultWatcherConfig().Debounce
	}
	if config.RenameWindow <= 0 {
		config.RenameWindow = DefaultWatcherConfig().RenameWindow
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		root:    root,
		filter:  filter,
		cache:   cache,
		queue:   queue,
		config:  config,
		watcher: fsw,
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		dirty:   make(map[string]*dirtyFile),
		gone:    make(map[string]*goneFile),
	}, nil
}

// Start adds watches for the root and, when enabled, every accepted
// subdirectory, then begins processing events.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if err := w.watcher.Add(w.root); err != nil {
		w.watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}
	if w.filter.Subfolders {
		if err := w.addTree(w.root); err != nil {
			w.watcher.Close()
			return err
		}
	}

	w.running = true
	w.wg.Add(2)
	go w.processEvents()
	go w.flushLoop()
	return nil
}

// Stop closes the underlying watcher and blocks until the goroutines exit.
// Pending debounced writes are discarded; the next scan picks them up.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	close(w.errors)

	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Errors returns the channel that emits watcher errors.
// This channel is closed when the watcher is stopped.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// IsRunning returns true if the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// addTree watches every accepted directory below dir.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			if abs == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() || abs == w.root {
			return nil
		}
		rel, relErr := note.Rel(w.root, abs)
		if relErr != nil || !w.filter.AcceptDir(rel) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(abs); err != nil {
			return fmt.Errorf("failed to watch %s: %w", abs, err)
		}
		return nil
	})
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.reportError(err)
		}
	}
}

func (w *Watcher) reportError(err error) {
	w.config.Logger.Warn("file watcher error", "error", err)
	select {
	case w.errors <- err:
	default:
	}
}

// handle records an fsnotify event. Reads happen later in flush so that a
// burst of writes to one file costs a single read.
func (w *Watcher) handle(event fsnotify.Event) {
	rel, err := note.Rel(w.root, event.Name)
	if err != nil {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.filter.Subfolders && w.filter.AcceptDir(rel) {
				w.watchNewDir(event.Name)
			}
			return
		}
	}

	if !w.filter.AcceptFile(rel) {
		return
	}

	now := time.Now()

	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.mu.Lock()
		d, ok := w.dirty[rel]
		if !ok {
			d = &dirtyFile{}
			w.dirty[rel] = d
		}
		d.created = d.created || event.Has(fsnotify.Create)
		d.last = now
		w.mu.Unlock()

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		fingerprint := ""
		if entry, ok, err := w.cache.Lookup(context.Background(), rel); err == nil && ok {
			fingerprint = entry.Fingerprint
		}

		w.mu.Lock()
		delete(w.dirty, rel)
		if _, ok := w.gone[rel]; !ok {
			w.gone[rel] = &goneFile{fingerprint: fingerprint, at: now}
		}
		w.mu.Unlock()

	default:
		// Chmod only.
	}
}

// watchNewDir adds a watch for a directory created at runtime and marks the
// notes already inside it, which were written before the watch existed.
func (w *Watcher) watchNewDir(abs string) {
	if err := w.addTree(abs); err != nil {
		w.reportError(err)
		return
	}

	now := time.Now()
	_ = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := note.Rel(w.root, p)
		if relErr != nil || !w.filter.AcceptFile(rel) {
			return nil
		}
		w.mu.Lock()
		w.dirty[rel] = &dirtyFile{created: true, last: now}
		w.mu.Unlock()
		return nil
	})
}

func (w *Watcher) flushLoop() {
	defer w.wg.Done()

	interval := w.config.Debounce / 2
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case now := <-ticker.C:
			w.flush(now)
		}
	}
}

// flush emits events for files that have been quiet for the debounce
// interval and for removals whose rename window expired.
func (w *Watcher) flush(now time.Time) {
	w.mu.Lock()
	var ready []string
	for rel, d := range w.dirty {
		if now.Sub(d.last) >= w.config.Debounce {
			ready = append(ready, rel)
		}
	}
	w.mu.Unlock()

	for _, rel := range sortedStrings(ready) {
		w.emitChange(rel)
	}

	w.mu.Lock()
	var expired []string
	for rel, g := range w.gone {
		if now.Sub(g.at) >= w.config.RenameWindow {
			expired = append(expired, rel)
		}
	}
	for _, rel := range expired {
		delete(w.gone, rel)
	}
	w.mu.Unlock()

	for _, rel := range sortedStrings(expired) {
		if note.Exists(note.Abs(w.root, rel)) {
			// Re-created under the same name; the create was reported.
			continue
		}
		w.queue.Push(Event{Path: rel, Kind: Removed, Source: SourceWatcher})
	}
}

func (w *Watcher) emitChange(rel string) {
	w.mu.Lock()
	d, ok := w.dirty[rel]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.dirty, rel)
	w.mu.Unlock()

	abs := note.Abs(w.root, rel)
	ev := Event{Path: rel, Kind: Modified, Source: SourceWatcher}
	if d.created {
		ev.Kind = Created
	}

	snap, err := note.ReadFile(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Gone again before we got to it. A Remove event covers it.
		return
	case err != nil:
		w.config.Logger.Warn("note unreadable, recording empty fingerprint", "path", rel, "error", err)
		if info, statErr := os.Stat(abs); statErr == nil {
			ev.ModTime = info.ModTime()
		}
	default:
		ev.Fingerprint = snap.Fingerprint
		ev.ModTime = snap.ModTime
	}

	w.mu.Lock()
	if _, ok := w.gone[rel]; ok {
		// Deleted and re-created under the same name.
		delete(w.gone, rel)
		ev.Kind = Modified
	} else if ev.Kind == Created && ev.Fingerprint != "" {
		if old, ok := w.matchGone(ev.Fingerprint); ok {
			delete(w.gone, old)
			ev.Kind = Renamed
			ev.OldPath = old
		}
	}
	w.mu.Unlock()

	w.queue.Push(ev)
}

// matchGone finds a removed file with the given fingerprint. Callers hold w.mu.
func (w *Watcher) matchGone(fingerprint string) (string, bool) {
	var match string
	var at time.Time
	for rel, g := range w.gone {
		if g.fingerprint != fingerprint {
			continue
		}
		// Prefer the most recent removal.
		if match == "" || g.at.After(at) {
			match, at = rel, g.at
		}
	}
	return match, match != ""
}

func sortedStrings(s []string) []string {
	m := make(map[string]struct{}, len(s))
	for _, v := range s {
		m[v] = struct{}{}
	}
	return sortedKeys(m)
}
