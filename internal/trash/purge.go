package trash

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/mschirtzinger/notesync/internal/note"
)

// PurgeResult summarizes one purge pass.
type PurgeResult struct {
	Purged   int
	Missing  int // entries whose backing file was already gone
	Failed   int
	Cutoff   time.Time
	Duration time.Duration
	Errors   []error
}

// cutoff returns the instant before which entries expire.
func (m *Manager) cutoff(retentionDays int) time.Time {
	if retentionDays < 0 {
		retentionDays = 0
	}
	return m.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
}

// PurgeExpired permanently deletes entries trashed more than retentionDays
// ago, oldest first. Each entry is finished (file, then row) before the
// context is checked again, so cancelling stops the purge between entries
// and leaves every remaining entry intact. A backing file that is already
// gone counts as purged, which makes a rerun after a crash pick up where
// the previous pass stopped.
func (m *Manager) PurgeExpired(ctx context.Context, retentionDays int) (PurgeResult, error) {
	start := time.Now()
	result := PurgeResult{Cutoff: m.cutoff(retentionDays)}

	// A zero retention purges everything, including entries trashed this
	// very instant.
	cutoff := result.Cutoff
	if retentionDays <= 0 {
		cutoff = cutoff.Add(time.Nanosecond)
	}

	entries, err := m.store.ListTrashEntriesBefore(ctx, m.folderID, cutoff)
	if err != nil {
		return result, err
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}

		// The in-flight entry completes even if ctx is cancelled meanwhile.
		workCtx := context.WithoutCancel(ctx)

		backing := filepath.Join(m.dir, e.TrashPath)
		err := os.Remove(backing)
		switch {
		case err == nil:
		case errors.Is(err, fs.ErrNotExist):
			result.Missing++
		default:
			result.Failed++
			result.Errors = append(result.Errors, &note.FileError{Op: "remove", Path: backing, Err: err})
			m.logger.Warn("failed to purge trash file", "entry", e.ID, "error", err)
			continue
		}

		if err := m.store.DeleteTrashEntry(workCtx, e.ID); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Purged++
		if m.afterPurge != nil {
			m.afterPurge(e.ID)
		}
	}

	result.Duration = time.Since(start)
	if result.Purged > 0 || result.Failed > 0 {
		m.logger.Info("trash purged",
			"purged", result.Purged,
			"missing", result.Missing,
			"failed", result.Failed,
			"retention_days", retentionDays,
			"duration", result.Duration)
	}
	if result.Failed > 0 {
		return result, fmt.Errorf("purge left %d entries: %w", result.Failed, errors.Join(result.Errors...))
	}
	return result, nil
}

// Schedule purges expired entries, and version snapshots older than the
// configured version retention, immediately and then every interval until
// ctx is done. Failures are logged and retried on the next tick.
func (m *Manager) Schedule(ctx context.Context, interval time.Duration, retentionDays int) error {
	if interval <= 0 {
		return fmt.Errorf("purge interval must be positive, got %v", interval)
	}

	cycle := func() error {
		result, err := m.PurgeExpired(ctx, retentionDays)
		if err != nil && ctx.Err() == nil {
			m.logger.Warn("scheduled purge incomplete", "error", err)
		}
		var pruned int
		if m.versionRetention > 0 {
			pruned, err = m.PruneVersions(ctx, m.versionRetention)
			if err != nil && ctx.Err() == nil {
				m.logger.Warn("version prune failed", "error", err)
			}
		}
		m.logger.Debug("purge cycle finished", "purged", result.Purged, "versions", pruned)
		return nil
	}
	run := func() {
		if m.exec == nil {
			cycle()
			return
		}
		if err := m.exec(ctx, cycle); err != nil && ctx.Err() == nil {
			m.logger.Warn("scheduled purge not run", "error", err)
		}
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			run()
		}
	}
}
