package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mschirtzinger/notesync/internal/detector"
	"github.com/mschirtzinger/notesync/internal/lock"
	"github.com/mschirtzinger/notesync/internal/note"
	"github.com/mschirtzinger/notesync/internal/remote"
	"github.com/mschirtzinger/notesync/internal/resolver"
	"github.com/mschirtzinger/notesync/internal/store"
	"github.com/mschirtzinger/notesync/internal/trash"
)

// StateDir is the per-folder directory holding the cache and the lock.
const StateDir = ".notesync"

// CacheFileName is the cache database inside StateDir.
const CacheFileName = "cache.db"

// Config holds configuration for the engine.
type Config struct {
	// Root is the note folder. It must exist.
	Root string

	// CachePath overrides <Root>/.notesync/cache.db.
	CachePath string
	// Memory keeps the cache in memory for the session only.
	Memory bool
	// AllowMemoryFallback continues in memory when the cache file cannot
	// be opened instead of failing Start.
	AllowMemoryFallback bool

	Extensions   note.Extensions
	Subfolders   bool
	ScanInterval time.Duration
	RenameWindow time.Duration
	Debounce     time.Duration
	// ScanOnly disables the file watcher; changes are found by scans.
	ScanOnly bool
	// Passive starts neither the detector nor the purge schedule. Short
	// lived commands use it and call Scan when they need a fresh cache.
	Passive bool

	LineEnding note.LineEnding

	// RetentionDays is how long trashed notes are kept.
	RetentionDays int
	// PurgeInterval is how often expired trash is purged.
	PurgeInterval time.Duration
	// VersionRetentionDays bounds local version snapshots. Zero keeps them.
	VersionRetentionDays int
	// Snapshots enables a local version snapshot before each save that
	// replaces different content.
	Snapshots bool

	ConflictPolicy resolver.Policy
	// Prompter shows conflict prompts. Nil leaves conflicts to
	// ResolveConflict callers.
	Prompter resolver.Prompter

	// Remote configures the optional note server. An empty URL disables
	// remote features.
	Remote remote.ClientConfig

	Observers []Observer
	Logger    *slog.Logger
}

// DefaultConfig returns sensible defaults for root.
func DefaultConfig(root string) Config {
	return Config{
		Root:                root,
		AllowMemoryFallback: true,
		Extensions:          note.NewExtensions(),
		Subfolders:          true,
		ScanInterval:        30 * time.Second,
		RenameWindow:        2 * time.Second,
		Debounce:            100 * time.Millisecond,
		LineEnding:          note.LineEndingNative,
		RetentionDays:       30,
		PurgeInterval:       time.Hour,
		Snapshots:           true,
		ConflictPolicy:      resolver.PolicyPrompt,
	}
}

// Engine keeps one note folder, its metadata cache and the open notes
// consistent. An Engine runs once: Start, then Stop.
type Engine struct {
	config    Config
	logger    *slog.Logger
	loop      *Loop
	observers []Observer

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	stopErr error

	remoteCalls sync.WaitGroup

	// Set by Start and read-only afterwards.
	root     string
	store    *store.Store
	folder   *store.Folder
	trash    *trash.Manager
	detector *detector.Detector
	gateway  *remote.Gateway
	lock     *lock.Lock
	ctx      context.Context

	// Owned by the loop goroutine.
	resolver   *resolver.Manager
	passphrase string
	encrypted  map[string]bool
}

// New validates config and creates an engine. Nothing touches the folder
// until Start.
func New(config Config) (*Engine, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("root cannot be empty")
	}
	root, err := filepath.Abs(config.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", config.Root, err)
	}
	config.Root = root
	if config.LineEnding == "" {
		config.LineEnding = note.LineEndingNative
	}
	if config.RetentionDays < 0 {
		return nil, fmt.Errorf("retention days cannot be negative")
	}
	if config.PurgeInterval <= 0 {
		config.PurgeInterval = DefaultConfig(root).PurgeInterval
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	logger := config.Logger.With("component", "engine")

	e := &Engine{
		config:    config,
		logger:    logger,
		loop:      NewLoop(),
		observers: append([]Observer(nil), config.Observers...),
		root:      root,
		encrypted: make(map[string]bool),
	}
	e.resolver = resolver.NewManager(resolver.Config{
		Policy:   config.ConflictPolicy,
		Prompter: prompter{e: e, next: config.Prompter},
		Logger:   config.Logger,
	})
	return e, nil
}

// Start activates the folder and starts the background work: the loop, the
// detector and the purge schedule. It returns once the engine accepts
// calls. Background work stops when ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.started = true
	e.mu.Unlock()

	if err := e.activate(ctx); err != nil {
		e.deactivate()
		e.mu.Lock()
		e.stopped = true
		e.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	e.ctx = gctx

	queue := e.detector.Queue()
	g.Go(func() error {
		e.loop.Run(gctx, queue.Notify(), e.drainEvents)
		return nil
	})

	if !e.config.Passive {
		g.Go(func() error {
			if err := e.detector.Run(gctx); err != nil && gctx.Err() == nil {
				// Only the initial scan fails Run; the engine keeps serving
				// calls and a later Scan retries.
				e.logger.Error("detector stopped", "error", err)
				e.emit(Event{Type: EventError, Message: "change detection stopped", Err: err})
			}
			return nil
		})
		g.Go(func() error {
			return e.trash.Schedule(gctx, e.config.PurgeInterval, e.config.RetentionDays)
		})
	}

	e.mu.Lock()
	e.cancel = cancel
	e.group = g
	e.mu.Unlock()

	e.logger.Info("engine started",
		"root", e.root,
		"cache", e.store.Path(),
		"passive", e.config.Passive,
		"remote", e.gateway != nil)
	return nil
}

// Run starts the engine and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return e.Stop()
}

// Stop cancels background work, waits for it and releases the folder.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.started || e.stopped {
		err := e.stopErr
		e.mu.Unlock()
		return err
	}
	e.stopped = true
	cancel, g := e.cancel, e.group
	e.mu.Unlock()

	var err error
	if cancel != nil {
		cancel()
		err = g.Wait()
	}
	e.remoteCalls.Wait()
	err = errors.Join(err, e.deactivate())

	e.mu.Lock()
	e.stopErr = err
	e.mu.Unlock()
	e.logger.Info("engine stopped")
	return err
}

// activate checks the root, takes the lock, opens the cache and builds the
// components that depend on it.
func (e *Engine) activate(ctx context.Context) error {
	info, err := os.Stat(e.root)
	if err != nil {
		return &FolderError{Root: e.root, Err: err}
	}
	if !info.IsDir() {
		return &FolderError{Root: e.root, Err: fmt.Errorf("not a directory")}
	}

	l, err := lock.Acquire(filepath.Join(e.root, StateDir, lock.FileName))
	if err != nil {
		return err
	}
	e.lock = l

	s, err := e.openStore()
	if err != nil {
		return err
	}
	e.store = s

	folder, err := s.EnsureFolder(ctx, &store.Folder{
		Root:           e.root,
		Name:           filepath.Base(e.root),
		RemoteURL:      e.config.Remote.URL,
		RemoteUsername: e.config.Remote.Username,
		SyncInterval:   e.config.ScanInterval,
		Subfolders:     e.config.Subfolders,
	})
	if err != nil {
		return fmt.Errorf("failed to register folder: %w", err)
	}
	e.folder = folder

	e.trash, err = trash.New(s, trash.Config{
		Root:                 e.root,
		FolderID:             folder.ID,
		VersionRetentionDays: e.config.VersionRetentionDays,
		Exec:                 e.loop.Call,
		Logger:               e.config.Logger,
	})
	if err != nil {
		return err
	}

	e.detector, err = detector.New(detector.Config{
		Root:         e.root,
		Extensions:   e.config.Extensions,
		Subfolders:   e.config.Subfolders,
		ScanInterval: e.config.ScanInterval,
		RenameWindow: e.config.RenameWindow,
		Debounce:     e.config.Debounce,
		ScanOnly:     e.config.ScanOnly,
		Logger:       e.config.Logger,
	}, storeCache{store: s, folderID: folder.ID})
	if err != nil {
		return err
	}

	if e.config.Remote.URL != "" {
		rc := e.config.Remote
		if rc.Logger == nil {
			rc.Logger = e.config.Logger
		}
		client, err := remote.NewClient(rc)
		if err != nil {
			// A bad server setting disables remote features only.
			e.logger.Warn("remote server disabled", "error", err)
			e.emit(Event{Type: EventDegraded, Message: "remote server disabled", Err: err})
		} else {
			e.gateway, err = remote.NewGateway(client, remote.GatewayConfig{
				Root:       e.root,
				FolderID:   folder.ID,
				Store:      s,
				Saver:      e,
				Filter:     &detector.Filter{Extensions: e.config.Extensions, Subfolders: e.config.Subfolders},
				LineEnding: e.config.LineEnding,
				Logger:     e.config.Logger,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) openStore() (*store.Store, error) {
	if e.config.Memory {
		return store.OpenMemory(e.config.Logger)
	}
	path := e.config.CachePath
	if path == "" {
		path = filepath.Join(e.root, StateDir, CacheFileName)
	}
	s, err := store.Open(path, e.config.Logger)
	if err == nil {
		return s, nil
	}
	if !e.config.AllowMemoryFallback {
		return nil, err
	}
	e.logger.Warn("cache unavailable, continuing in memory", "path", path, "error", err)
	e.emit(Event{Type: EventDegraded, Message: "cache running in memory", Err: err})
	return store.OpenMemory(e.config.Logger)
}

func (e *Engine) deactivate() error {
	var errs []error
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	if e.lock != nil {
		errs = append(errs, e.lock.Release())
	}
	return errors.Join(errs...)
}

// call runs fn on the loop of a started engine.
func (e *Engine) call(ctx context.Context, fn func() error) error {
	e.mu.Lock()
	running := e.started && !e.stopped && e.group != nil
	e.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	return e.loop.Call(ctx, fn)
}

// Root returns the absolute folder root.
func (e *Engine) Root() string { return e.root }

// Store returns the metadata store of a started engine. Callers outside
// the loop may read from it but must not write.
func (e *Engine) Store() *store.Store { return e.store }

// Folder returns the cached folder row.
func (e *Engine) Folder() *store.Folder { return e.folder }

// Trash returns the local trash manager.
func (e *Engine) Trash() *trash.Manager { return e.trash }

// Gateway returns the remote gateway, or ErrNotConfigured.
func (e *Engine) Gateway() (*remote.Gateway, error) {
	if e.gateway == nil {
		return nil, remote.ErrNotConfigured
	}
	return e.gateway, nil
}

// AddObserver registers o for future events.
func (e *Engine) AddObserver(o Observer) {
	e.loop.Post(func() { e.observers = append(e.observers, o) })
}

// Scan runs a full scan and waits until its events are applied.
func (e *Engine) Scan(ctx context.Context) (detector.ScanResult, error) {
	var (
		result detector.ScanResult
		err    error
	)
	if e.config.Passive {
		result, err = e.detector.Scan(ctx)
	} else {
		result, err = e.detector.Rescan(ctx)
	}
	if err != nil {
		return result, err
	}
	err = e.call(ctx, func() error {
		e.drainEvents()
		return nil
	})
	return result, err
}

// Status summarizes the engine for display.
type Status struct {
	Root       string
	CachePath  string
	InMemory   bool
	Watching   bool
	Notes      int
	Trashed    int
	Policy     resolver.Policy
	Open       []string
	Pending    []resolver.Conflict
	Unlocked   bool
	RemoteURL  string
	RemoteCaps *remote.Capabilities
}

// Status collects a Status. Remote capabilities are reported only when
// already cached; Status never probes the server.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	var st Status
	err := e.call(ctx, func() error {
		notes, err := e.store.CountNotes(ctx, e.folder.ID)
		if err != nil {
			return err
		}
		trashed, err := e.trash.Count(ctx)
		if err != nil {
			return err
		}
		st = Status{
			Root:      e.root,
			CachePath: e.store.Path(),
			InMemory:  e.store.IsMemory(),
			Watching:  e.detector.Watching(),
			Notes:     notes,
			Trashed:   trashed,
			Policy:    e.resolver.Policy(),
			Open:      e.resolver.OpenPaths(),
			Pending:   e.resolver.Pending(),
			Unlocked:  e.passphrase != "",
			RemoteURL: e.config.Remote.URL,
		}
		return nil
	})
	if err != nil {
		return Status{}, err
	}
	if e.gateway != nil {
		if conn, err := e.store.GetConnection(ctx, e.folder.ID); err == nil {
			st.RemoteCaps = &remote.Capabilities{
				ServerURL:  conn.ServerURL,
				APIVersion: conn.APIVersion,
				Versions:   conn.Versions,
				Trash:      conn.Trash,
				ProbedAt:   conn.ProbedAt,
			}
		}
	}
	return st, nil
}
