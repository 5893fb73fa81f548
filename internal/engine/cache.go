package engine

import (
	"context"
	"errors"

	"github.com/mschirtzinger/notesync/internal/detector"
	"github.com/mschirtzinger/notesync/internal/store"
)

// storeCache is the detector's read-only view of the metadata store.
type storeCache struct {
	store    *store.Store
	folderID int64
}

var _ detector.Cache = storeCache{}

func (c storeCache) Snapshot(ctx context.Context) (map[string]detector.CacheEntry, error) {
	notes, err := c.store.ListNotesInFolder(ctx, c.folderID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]detector.CacheEntry, len(notes))
	for _, n := range notes {
		if n.Deleted {
			continue
		}
		out[n.Path] = detector.CacheEntry{Fingerprint: n.Fingerprint, ModTime: n.ModTime}
	}
	return out, nil
}

func (c storeCache) Lookup(ctx context.Context, path string) (detector.CacheEntry, bool, error) {
	n, err := c.store.GetByPath(ctx, c.folderID, path)
	if errors.Is(err, store.ErrNotFound) {
		return detector.CacheEntry{}, false, nil
	}
	if err != nil {
		return detector.CacheEntry{}, false, err
	}
	return detector.CacheEntry{Fingerprint: n.Fingerprint, ModTime: n.ModTime}, true, nil
}
