package detector

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mschirtzinger/notesync/internal/note"
)

func fingerprintOf(s string) string { return note.Fingerprint([]byte(s)) }

// memCache is an in-memory Cache that tests update the way the engine would.
type memCache struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]CacheEntry)}
}

func (c *memCache) Snapshot(ctx context.Context) (map[string]CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]CacheEntry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out, nil
}

func (c *memCache) Lookup(ctx context.Context, path string) (CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	return e, ok, nil
}

// apply mirrors event application: upsert on create/modify, delete on
// remove, move on rename.
func (c *memCache) apply(events []Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range events {
		switch ev.Kind {
		case Created, Modified:
			c.entries[ev.Path] = CacheEntry{Fingerprint: ev.Fingerprint, ModTime: ev.ModTime}
		case Removed:
			delete(c.entries, ev.Path)
		case Renamed:
			delete(c.entries, ev.OldPath)
			c.entries[ev.Path] = CacheEntry{Fingerprint: ev.Fingerprint, ModTime: ev.ModTime}
		}
	}
}

func writeNote(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// waitForEvent drains q until match returns true or the timeout expires.
// It returns every event seen.
func waitForEvent(t *testing.T, q *Queue, timeout time.Duration, match func(Event) bool) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var seen []Event
	for {
		ev, err := q.Next(ctx)
		if err != nil {
			t.Fatalf("timeout waiting for event; saw %v", seen)
		}
		seen = append(seen, ev)
		if match(ev) {
			return seen
		}
	}
}

func kinds(events []Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Kind == Renamed {
			out = append(out, ev.Kind.String()+":"+ev.OldPath+"->"+ev.Path)
			continue
		}
		out = append(out, ev.Kind.String()+":"+ev.Path)
	}
	return out
}
