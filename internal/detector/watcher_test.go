package detector

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startTestWatcher(t *testing.T, root string, cache *memCache) (*Watcher, *Queue) {
	t.Helper()
	q := NewQueue()
	w, err := NewWatcher(root, Filter{Subfolders: true}, cache, q, WatcherConfig{
		Debounce:     30 * time.Millisecond,
		RenameWindow: 300 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w, q
}

func TestWatcher_StartStop(t *testing.T) {
	root := t.TempDir()
	w, _ := startTestWatcher(t, root, newMemCache())

	if !w.IsRunning() {
		t.Error("Watcher should be running after Start()")
	}
	if err := w.Start(); err == nil {
		t.Error("Start() should fail when already running")
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if w.IsRunning() {
		t.Error("Watcher should not be running after Stop()")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() failed: %v", err)
	}
}

func TestWatcher_StartMissingRoot(t *testing.T) {
	q := NewQueue()
	w, err := NewWatcher(filepath.Join(t.TempDir(), "missing"), Filter{}, newMemCache(), q, WatcherConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err == nil {
		t.Error("expected Start() to fail for a missing root")
	}
}

func TestWatcher_CreateEvent(t *testing.T) {
	root := t.TempDir()
	_, q := startTestWatcher(t, root, newMemCache())

	writeNote(t, root, "new.md", "hello")
	writeNote(t, root, "skip.txt", "not a note")

	seen := waitForEvent(t, q, 2*time.Second, func(ev Event) bool { return ev.Path == "new.md" })
	ev := seen[len(seen)-1]
	if ev.Kind != Created {
		t.Errorf("Kind = %v, want created", ev.Kind)
	}
	if ev.Fingerprint == "" || ev.Source != SourceWatcher {
		t.Errorf("event = %+v", ev)
	}
	for _, e := range seen {
		if e.Path == "skip.txt" {
			t.Error("non-note file reported")
		}
	}
}

func TestWatcher_WriteBurstCoalesces(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "a.md", "v0")
	_, q := startTestWatcher(t, root, newMemCache())

	for i := 1; i <= 5; i++ {
		writeNote(t, root, "a.md", "v"+string(rune('0'+i)))
	}

	seen := waitForEvent(t, q, 2*time.Second, func(ev Event) bool { return ev.Path == "a.md" })
	if len(seen) != 1 {
		t.Errorf("expected one event, got %v", kinds(seen))
	}

	// Let any straggling flush run; nothing else should arrive.
	time.Sleep(150 * time.Millisecond)
	if extra := q.Drain(); len(extra) != 0 {
		t.Errorf("burst produced extra events %v", kinds(extra))
	}
}

func TestWatcher_Rename(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "old.md", "content")
	cache := newMemCache()
	cache.entries["old.md"] = CacheEntry{Fingerprint: fingerprintOf("content")}
	_, q := startTestWatcher(t, root, cache)

	if err := os.Rename(filepath.Join(root, "old.md"), filepath.Join(root, "new.md")); err != nil {
		t.Fatal(err)
	}

	seen := waitForEvent(t, q, 2*time.Second, func(ev Event) bool { return ev.Kind == Renamed })
	ev := seen[len(seen)-1]
	if ev.OldPath != "old.md" || ev.Path != "new.md" {
		t.Errorf("rename = %s -> %s", ev.OldPath, ev.Path)
	}

	// The window expiring must not produce a removal for the renamed file.
	time.Sleep(500 * time.Millisecond)
	for _, e := range q.Drain() {
		if e.Kind == Removed {
			t.Errorf("unexpected removal after rename: %v", e)
		}
	}
}

func TestWatcher_RemoveAfterWindow(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "a.md", "content")
	cache := newMemCache()
	cache.entries["a.md"] = CacheEntry{Fingerprint: fingerprintOf("content")}
	_, q := startTestWatcher(t, root, cache)

	start := time.Now()
	if err := os.Remove(filepath.Join(root, "a.md")); err != nil {
		t.Fatal(err)
	}

	seen := waitForEvent(t, q, 2*time.Second, func(ev Event) bool { return ev.Kind == Removed })
	if seen[len(seen)-1].Path != "a.md" {
		t.Errorf("removed %s", seen[len(seen)-1].Path)
	}
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("removal reported after %v, before the rename window", elapsed)
	}
}

func TestWatcher_DeleteAndRecreateIsModify(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "a.md", "v1")
	cache := newMemCache()
	cache.entries["a.md"] = CacheEntry{Fingerprint: fingerprintOf("v1")}
	_, q := startTestWatcher(t, root, cache)

	os.Remove(filepath.Join(root, "a.md"))
	writeNote(t, root, "a.md", "v2")

	seen := waitForEvent(t, q, 2*time.Second, func(ev Event) bool { return ev.Path == "a.md" })
	if ev := seen[len(seen)-1]; ev.Kind != Modified {
		t.Errorf("Kind = %v, want modified", ev.Kind)
	}

	time.Sleep(500 * time.Millisecond)
	for _, e := range q.Drain() {
		if e.Kind == Removed {
			t.Errorf("unexpected removal: %v", e)
		}
	}
}

func TestWatcher_NewSubdirectory(t *testing.T) {
	root := t.TempDir()
	_, q := startTestWatcher(t, root, newMemCache())

	dir := filepath.Join(root, "projects")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a moment to add the new directory.
	time.Sleep(100 * time.Millisecond)
	writeNote(t, root, "projects/plan.md", "plan")

	waitForEvent(t, q, 2*time.Second, func(ev Event) bool { return ev.Path == "projects/plan.md" })
}
