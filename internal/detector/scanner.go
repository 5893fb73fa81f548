package detector

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mschirtzinger/notesync/internal/note"
)

// CacheEntry is what the metadata cache last recorded for a note.
type CacheEntry struct {
	Fingerprint string
	ModTime     time.Time
}

// Cache is the read side of the metadata store that producers compare
// observations against.
type Cache interface {
	// Snapshot returns every live note keyed by note path.
	Snapshot(ctx context.Context) (map[string]CacheEntry, error)
	// Lookup returns the entry for one note path.
	Lookup(ctx context.Context, path string) (CacheEntry, bool, error)
}

// removalCandidate is a cached note that was not found on disk.
type removalCandidate struct {
	fingerprint string
	firstMissed time.Time
	misses      int
}

// ScanResult summarizes one full scan.
type ScanResult struct {
	Files      int
	Created    int
	Modified   int
	Removed    int
	Renamed    int
	Unreadable int
	Duration   time.Duration
}

// Changes returns the number of events the scan produced.
func (r ScanResult) Changes() int {
	return r.Created + r.Modified + r.Removed + r.Renamed
}

type observation struct {
	fingerprint string
	modTime     time.Time
}

// Scanner walks a folder root and reports differences from the cache.
//
// A cached note missing from disk becomes a removal candidate. It is
// reported Removed only when it is still missing on the next scan, which
// absorbs editors that delete and re-create files while saving. A new file
// whose fingerprint matches a candidate missed within the rename window is
// reported as Renamed instead.
type Scanner struct {
	root         string
	filter       Filter
	cache        Cache
	queue        *Queue
	renameWindow time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu      sync.Mutex // serializes Scan
	pending map[string]*removalCandidate
}

// NewScanner creates a scanner pushing into queue.
func NewScanner(root string, filter Filter, cache Cache, queue *Queue, renameWindow time.Duration, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		root:         root,
		filter:       filter,
		cache:        cache,
		queue:        queue,
		renameWindow: renameWindow,
		logger:       logger,
		now:          time.Now,
		pending:      make(map[string]*removalCandidate),
	}
}

// Scan performs one full walk and pushes the resulting events.
func (s *Scanner) Scan(ctx context.Context) (ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.now()
	var result ScanResult

	cached, err := s.cache.Snapshot(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to read cache snapshot: %w", err)
	}

	observed, unreadable, err := s.walk(ctx)
	if err != nil {
		return result, err
	}
	result.Files = len(observed)
	result.Unreadable = unreadable

	now := s.now()

	// Age removal candidates.
	for p, entry := range cached {
		if _, ok := observed[p]; ok {
			continue
		}
		if c, ok := s.pending[p]; ok {
			c.misses++
		} else {
			s.pending[p] = &removalCandidate{fingerprint: entry.Fingerprint, firstMissed: now, misses: 1}
		}
	}
	for p := range s.pending {
		_, back := observed[p]
		_, known := cached[p]
		if back || !known {
			delete(s.pending, p)
		}
	}

	var renames, changes, removals []Event

	for _, p := range sortedKeys(observed) {
		obs := observed[p]
		entry, known := cached[p]
		if known {
			if entry.Fingerprint != obs.fingerprint || !entry.ModTime.Equal(obs.modTime) {
				changes = append(changes, Event{Path: p, Kind: Modified, Fingerprint: obs.fingerprint, ModTime: obs.modTime})
				result.Modified++
			}
			continue
		}

		if old, ok := s.matchRename(obs.fingerprint, now); ok {
			delete(s.pending, old)
			renames = append(renames, Event{Path: p, OldPath: old, Kind: Renamed, Fingerprint: obs.fingerprint, ModTime: obs.modTime})
			result.Renamed++
			continue
		}
		changes = append(changes, Event{Path: p, Kind: Created, Fingerprint: obs.fingerprint, ModTime: obs.modTime})
		result.Created++
	}

	for _, p := range sortedKeys(s.pending) {
		if s.pending[p].misses >= 2 {
			delete(s.pending, p)
			removals = append(removals, Event{Path: p, Kind: Removed})
			result.Removed++
		}
	}

	for _, batch := range [][]Event{renames, changes, removals} {
		for _, ev := range batch {
			ev.Source = SourceScanner
			s.queue.Push(ev)
		}
	}

	result.Duration = s.now().Sub(start)
	s.logger.Debug("scan complete",
		"files", result.Files,
		"created", result.Created,
		"modified", result.Modified,
		"renamed", result.Renamed,
		"removed", result.Removed,
		"pending_removals", len(s.pending),
		"duration", result.Duration)
	return result, nil
}

// matchRename finds a removal candidate with the same fingerprint that was
// missed within the rename window. Empty fingerprints never match.
func (s *Scanner) matchRename(fingerprint string, now time.Time) (string, bool) {
	if fingerprint == "" {
		return "", false
	}
	for _, p := range sortedKeys(s.pending) {
		c := s.pending[p]
		if c.fingerprint == fingerprint && now.Sub(c.firstMissed) <= s.renameWindow {
			return p, true
		}
	}
	return "", false
}

// PendingRemovals returns the paths currently awaiting a second missed scan.
func (s *Scanner) PendingRemovals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.pending)
}

func (s *Scanner) walk(ctx context.Context) (map[string]observation, int, error) {
	observed := make(map[string]observation)
	unreadable := 0

	err := filepath.WalkDir(s.root, func(abs string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if abs == s.root {
				return err
			}
			s.logger.Warn("skipping unreadable path", "path", abs, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := note.Rel(s.root, abs)
		if d.IsDir() {
			if abs == s.root {
				return nil
			}
			if relErr != nil || !s.filter.AcceptDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if relErr != nil || !d.Type().IsRegular() || !s.filter.AcceptFile(rel) {
			return nil
		}

		snap, readErr := note.ReadFile(abs)
		if readErr != nil {
			if errors.Is(readErr, fs.ErrNotExist) {
				return nil
			}
			unreadable++
			s.logger.Warn("note unreadable, recording empty fingerprint", "path", rel, "error", readErr)
			var mtime time.Time
			if info, statErr := os.Stat(abs); statErr == nil {
				mtime = info.ModTime()
			}
			observed[rel] = observation{modTime: mtime}
			return nil
		}
		observed[rel] = observation{fingerprint: snap.Fingerprint, modTime: snap.ModTime}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan %s: %w", s.root, err)
	}
	return observed, unreadable, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
