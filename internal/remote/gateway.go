package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mschirtzinger/notesync/internal/detector"
	"github.com/mschirtzinger/notesync/internal/note"
	"github.com/mschirtzinger/notesync/internal/store"
	"github.com/mschirtzinger/notesync/internal/trash"
)

// Capabilities is the result of a capability probe.
type Capabilities struct {
	ServerURL  string
	APIVersion string
	Versions   bool
	Trash      bool
	ProbedAt   time.Time
}

// VersionEntry is one server-side revision of a note. Its content is
// fetched on demand and never cached.
type VersionEntry struct {
	ID        string
	Path      string
	Timestamp time.Time
	Label     string
}

// TrashEntry is a note deleted on the server.
type TrashEntry struct {
	ID        string
	Path      string
	DeletedAt time.Time
	Size      int64
}

// Saver writes restored note content so that it takes part in conflict
// detection: unsaved edits of an open note are never silently replaced.
type Saver interface {
	RestoreNote(ctx context.Context, path, content string) error
}

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	Root     string
	FolderID int64
	// Store caches probed capabilities. Optional.
	Store      *store.Store
	Saver      Saver
	// Filter limits where server trash entries may be restored. Nil
	// accepts default note extensions in any visible subfolder.
	Filter     *detector.Filter
	LineEnding note.LineEnding
	Logger     *slog.Logger
}

// Gateway turns remote responses into local operations. Its methods may be
// called from any goroutine.
type Gateway struct {
	client   *Client
	root     string
	folderID int64
	store    *store.Store
	saver    Saver
	filter   detector.Filter
	le       note.LineEnding
	logger   *slog.Logger

	mu   sync.Mutex
	caps *Capabilities
}

// NewGateway wraps client for the folder described by cfg.
func NewGateway(client *Client, cfg GatewayConfig) (*Gateway, error) {
	if client == nil {
		return nil, ErrNotConfigured
	}
	if cfg.Root == "" {
		return nil, fmt.Errorf("folder root is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	le := cfg.LineEnding
	if le == "" {
		le = note.LineEndingNative
	}
	filter := detector.Filter{Extensions: note.NewExtensions(), Subfolders: true}
	if cfg.Filter != nil {
		filter = *cfg.Filter
	}
	return &Gateway{
		client:   client,
		filter:   filter,
		root:     cfg.Root,
		folderID: cfg.FolderID,
		store:    cfg.Store,
		saver:    cfg.Saver,
		le:       le,
		logger:   logger.With("component", "remote"),
	}, nil
}

// SetSaver installs the save path used by RestoreVersion.
func (g *Gateway) SetSaver(s Saver) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saver = s
}

// Probe queries the server's capabilities and caches the answer.
func (g *Gateway) Probe(ctx context.Context) (*Capabilities, error) {
	caps, err := g.client.fetchCapabilities(ctx)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.caps = caps
	g.mu.Unlock()

	if g.store != nil {
		conn := &store.Connection{
			FolderID:   g.folderID,
			ServerURL:  caps.ServerURL,
			APIVersion: caps.APIVersion,
			Versions:   caps.Versions,
			Trash:      caps.Trash,
			ProbedAt:   caps.ProbedAt,
		}
		if err := g.store.SaveConnection(ctx, conn); err != nil {
			g.logger.Warn("failed to cache capabilities", "error", err)
		}
	}
	g.logger.Info("server capabilities probed",
		"server", caps.ServerURL,
		"api_version", caps.APIVersion,
		"versions", caps.Versions,
		"trash", caps.Trash)
	return caps, nil
}

// Capabilities returns the cached capabilities, probing only when nothing
// is cached for the configured server.
func (g *Gateway) Capabilities(ctx context.Context) (*Capabilities, error) {
	g.mu.Lock()
	caps := g.caps
	g.mu.Unlock()
	if caps != nil {
		return caps, nil
	}

	if g.store != nil {
		conn, err := g.store.GetConnection(ctx, g.folderID)
		switch {
		case err == nil && conn.ServerURL == g.client.BaseURL():
			caps = &Capabilities{
				ServerURL:  conn.ServerURL,
				APIVersion: conn.APIVersion,
				Versions:   conn.Versions,
				Trash:      conn.Trash,
				ProbedAt:   conn.ProbedAt,
			}
			g.mu.Lock()
			g.caps = caps
			g.mu.Unlock()
			return caps, nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			g.logger.Warn("failed to read cached capabilities", "error", err)
		}
	}
	return g.Probe(ctx)
}

// RefreshCapabilities drops the cached capabilities and probes again.
func (g *Gateway) RefreshCapabilities(ctx context.Context) (*Capabilities, error) {
	g.mu.Lock()
	g.caps = nil
	g.mu.Unlock()
	return g.Probe(ctx)
}

func (g *Gateway) require(ctx context.Context, op string, has func(*Capabilities) bool, name string) error {
	caps, err := g.Capabilities(ctx)
	if err != nil {
		return err
	}
	if !has(caps) {
		return missing(op, name)
	}
	return nil
}

func hasVersions(c *Capabilities) bool { return c.Versions }
func hasTrash(c *Capabilities) bool    { return c.Trash }

// FetchVersionList returns the server's revisions of notePath, newest first.
// Each call fetches afresh.
func (g *Gateway) FetchVersionList(ctx context.Context, notePath string) ([]VersionEntry, error) {
	if err := note.ValidatePath(notePath); err != nil {
		return nil, err
	}
	if err := g.require(ctx, "list versions", hasVersions, "versioning"); err != nil {
		return nil, err
	}
	return g.client.listVersions(ctx, note.CleanPath(notePath))
}

// FetchVersionContent downloads the content of one revision.
func (g *Gateway) FetchVersionContent(ctx context.Context, entry VersionEntry) (string, error) {
	if err := g.require(ctx, "fetch version", hasVersions, "versioning"); err != nil {
		return "", err
	}
	return g.client.versionContent(ctx, entry.Path, entry.ID)
}

// RestoreVersion downloads entry and hands it to the Saver.
func (g *Gateway) RestoreVersion(ctx context.Context, entry VersionEntry) error {
	g.mu.Lock()
	saver := g.saver
	g.mu.Unlock()
	if saver == nil {
		return fmt.Errorf("restore version: no save path configured")
	}

	content, err := g.FetchVersionContent(ctx, entry)
	if err != nil {
		return err
	}
	if err := saver.RestoreNote(ctx, entry.Path, content); err != nil {
		return fmt.Errorf("restore version %s of %s: %w", entry.ID, entry.Path, err)
	}
	g.logger.Info("version restored", "path", entry.Path, "version", entry.ID)
	return nil
}

// FetchTrashList returns the notes in the server's trash.
func (g *Gateway) FetchTrashList(ctx context.Context) ([]TrashEntry, error) {
	if err := g.require(ctx, "list trash", hasTrash, "trash"); err != nil {
		return nil, err
	}
	return g.client.listTrash(ctx)
}

// RemoteRestore describes a note recreated from the server trash.
type RemoteRestore struct {
	Entry TrashEntry
	// Path is where the file was written, relative to the folder root.
	Path      string
	Collision bool
	// AckErr is set when the file was recreated but the server could not be
	// told; the entry then stays in the server trash.
	AckErr error
}

// RestoreFromRemoteTrash recreates entry as a file under the folder root.
// The cache is not touched: the detector picks the file up as Created. An
// occupied path is never overwritten; the file gets a "(restored N)" name.
func (g *Gateway) RestoreFromRemoteTrash(ctx context.Context, entry TrashEntry) (RemoteRestore, error) {
	if err := note.ValidatePath(entry.Path); err != nil {
		return RemoteRestore{}, err
	}
	if !g.filter.AcceptFile(entry.Path) {
		return RemoteRestore{}, fmt.Errorf("restore trashed note %s: %w", entry.Path, ErrUntrackedPath)
	}
	if err := g.require(ctx, "restore trashed note", hasTrash, "trash"); err != nil {
		return RemoteRestore{}, err
	}

	content, err := g.client.trashContent(ctx, entry.ID)
	if err != nil {
		return RemoteRestore{}, err
	}
	// A cancelled dialog stops here; past this point the restore completes.
	if err := ctx.Err(); err != nil {
		return RemoteRestore{}, err
	}

	target, collision, err := trash.AvailablePath(g.root, entry.Path)
	if err != nil {
		return RemoteRestore{}, err
	}
	if _, err := note.WriteFile(note.Abs(g.root, target), content, g.le); err != nil {
		return RemoteRestore{}, err
	}

	result := RemoteRestore{Entry: entry, Path: target, Collision: collision}
	if err := g.client.restoreTrash(context.WithoutCancel(ctx), entry.ID); err != nil {
		g.logger.Warn("restored locally but server not updated", "path", target, "entry", entry.ID, "error", err)
		result.AckErr = err
	}
	g.logger.Info("note restored from server trash", "path", target, "entry", entry.ID, "collision", collision)
	return result, nil
}
