package detector

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mschirtzinger/notesync/internal/note"
)

// Config holds configuration for the detector.
type Config struct {
	// Root is the note folder root. It is made absolute by New.
	Root string

	Extensions note.Extensions
	Subfolders bool

	// ScanInterval is how often a full scan runs. Zero disables periodic
	// scans; the initial scan and Rescan still run.
	ScanInterval time.Duration

	// RenameWindow bounds how long a removal may wait to be paired with a
	// create of the same content.
	RenameWindow time.Duration

	// Debounce is how long the watcher waits for writes to settle.
	Debounce time.Duration

	// ScanOnly disables the fsnotify watcher.
	ScanOnly bool

	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for root.
func DefaultConfig(root string) Config {
	return Config{
		Root:         root,
		Extensions:   note.NewExtensions(),
		Subfolders:   true,
		ScanInterval: 30 * time.Second,
		RenameWindow: 2 * time.Second,
		Debounce:     100 * time.Millisecond,
	}
}

// Detector merges the watcher and the periodic scanner into one Queue.
//
// Both producers are correct on their own. The watcher gives low latency
// while it works; the scanner catches everything the watcher missed (events
// dropped by the OS, changes made while the engine was not running, network
// file systems without notifications).
type Detector struct {
	config  Config
	cache   Cache
	queue   *Queue
	scanner *Scanner
	watcher atomic.Pointer[Watcher]
	rescan  chan chan scanReply
	logger  *slog.Logger
}

type scanReply struct {
	result ScanResult
	err    error
}

// New creates a detector. Call Run to start producing events.
func New(config Config, cache Cache) (*Detector, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("root cannot be empty")
	}
	if cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	root, err := filepath.Abs(config.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", config.Root, err)
	}
	config.Root = root
	if config.RenameWindow <= 0 {
		config.RenameWindow = DefaultConfig(root).RenameWindow
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	logger := config.Logger.With("component", "detector")

	queue := NewQueue()
	filter := Filter{Extensions: config.Extensions, Subfolders: config.Subfolders}

	return &Detector{
		config:  config,
		cache:   cache,
		queue:   queue,
		scanner: NewScanner(root, filter, cache, queue, config.RenameWindow, logger),
		rescan:  make(chan chan scanReply),
		logger:  logger,
	}, nil
}

// Queue returns the merged event queue.
func (d *Detector) Queue() *Queue { return d.queue }

// Root returns the absolute folder root.
func (d *Detector) Root() string { return d.config.Root }

// Watching reports whether the fsnotify watcher is active.
func (d *Detector) Watching() bool {
	w := d.watcher.Load()
	return w != nil && w.IsRunning()
}

// Scan runs one full scan synchronously without starting the watcher.
func (d *Detector) Scan(ctx context.Context) (ScanResult, error) {
	return d.scanner.Scan(ctx)
}

// Run performs an initial scan, starts the watcher and runs periodic scans
// until ctx is cancelled. When fsnotify is unavailable it degrades to
// scan-only operation. The queue is closed when Run returns.
func (d *Detector) Run(ctx context.Context) error {
	defer d.queue.Close()

	d.logger.Info("starting detector", "root", d.config.Root, "scan_interval", d.config.ScanInterval)

	if _, err := d.scanner.Scan(ctx); err != nil {
		return fmt.Errorf("initial scan failed: %w", err)
	}

	if !d.config.ScanOnly {
		filter := Filter{Extensions: d.config.Extensions, Subfolders: d.config.Subfolders}
		w, err := NewWatcher(d.config.Root, filter, d.cache, d.queue, WatcherConfig{
			Debounce:     d.config.Debounce,
			RenameWindow: d.config.RenameWindow,
			Logger:       d.logger,
		})
		if err == nil {
			err = w.Start()
		}
		if err != nil {
			d.logger.Warn("file watching unavailable, falling back to periodic scans", "error", err)
		} else {
			d.watcher.Store(w)
			defer w.Stop()
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var tick <-chan time.Time
		if d.config.ScanInterval > 0 {
			ticker := time.NewTicker(d.config.ScanInterval)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
				if _, err := d.scanner.Scan(ctx); err != nil && ctx.Err() == nil {
					d.logger.Error("periodic scan failed", "error", err)
				}
			case reply := <-d.rescan:
				result, err := d.scanner.Scan(ctx)
				reply <- scanReply{result: result, err: err}
			}
		}
	})

	if w := d.watcher.Load(); w != nil {
		errs := w.Errors()
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case _, ok := <-errs:
					if !ok {
						return nil
					}
					// Events may have been dropped; a scan recovers them.
					if _, err := d.scanner.Scan(ctx); err != nil && ctx.Err() == nil {
						d.logger.Error("recovery scan failed", "error", err)
					}
				}
			}
		})
	}

	err := g.Wait()
	d.logger.Info("detector stopped")
	return err
}

// Rescan asks a running detector for an immediate full scan and waits for
// its result.
func (d *Detector) Rescan(ctx context.Context) (ScanResult, error) {
	reply := make(chan scanReply, 1)
	select {
	case d.rescan <- reply:
	case <-ctx.Done():
		return ScanResult{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.result, r.err
	case <-ctx.Done():
		return ScanResult{}, ctx.Err()
	}
}
