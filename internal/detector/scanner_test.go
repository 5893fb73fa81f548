package detector

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestScanner(t *testing.T) (string, *memCache, *Queue, *Scanner) {
	t.Helper()
	root := t.TempDir()
	cache := newMemCache()
	q := NewQueue()
	s := NewScanner(root, Filter{Subfolders: true}, cache, q, time.Minute, nil)
	return root, cache, q, s
}

// scanAndApply runs a scan and feeds the events back into the cache.
func scanAndApply(t *testing.T, s *Scanner, cache *memCache, q *Queue) []Event {
	t.Helper()
	if _, err := s.Scan(context.Background()); err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	events := q.Drain()
	cache.apply(events)
	return events
}

func TestScanner_CreatedThenIdempotent(t *testing.T) {
	root, cache, q, s := newTestScanner(t)
	writeNote(t, root, "a.md", "alpha")
	writeNote(t, root, "sub/b.md", "beta")
	writeNote(t, root, "ignored.txt", "x")
	writeNote(t, root, ".trash/c.1.md", "trashed")

	events := scanAndApply(t, s, cache, q)
	if diff := cmp.Diff([]string{"created:a.md", "created:sub/b.md"}, kinds(events)); diff != "" {
		t.Errorf("first scan mismatch (-want +got):\n%s", diff)
	}

	// A scan over an unchanged folder is a no-op.
	again := scanAndApply(t, s, cache, q)
	if len(again) != 0 {
		t.Errorf("second scan produced %v", kinds(again))
	}
}

func TestScanner_Modified(t *testing.T) {
	root, cache, q, s := newTestScanner(t)
	writeNote(t, root, "a.md", "one")
	scanAndApply(t, s, cache, q)

	writeNote(t, root, "a.md", "two")
	events := scanAndApply(t, s, cache, q)
	if diff := cmp.Diff([]string{"modified:a.md"}, kinds(events)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if events[0].Fingerprint == "" {
		t.Error("modified event missing fingerprint")
	}
}

func TestScanner_RemovalNeedsTwoScans(t *testing.T) {
	root, cache, q, s := newTestScanner(t)
	writeNote(t, root, "a.md", "alpha")
	scanAndApply(t, s, cache, q)

	if err := os.Remove(filepath.Join(root, "a.md")); err != nil {
		t.Fatal(err)
	}

	first := scanAndApply(t, s, cache, q)
	if len(first) != 0 {
		t.Fatalf("first scan after delete produced %v", kinds(first))
	}
	if diff := cmp.Diff([]string{"a.md"}, s.PendingRemovals()); diff != "" {
		t.Errorf("pending mismatch: %s", diff)
	}

	second := scanAndApply(t, s, cache, q)
	if diff := cmp.Diff([]string{"removed:a.md"}, kinds(second)); diff != "" {
		t.Errorf("second scan mismatch (-want +got):\n%s", diff)
	}
	if len(s.PendingRemovals()) != 0 {
		t.Error("candidate not cleared after removal")
	}
}

func TestScanner_TransientAbsenceIsNotRemoval(t *testing.T) {
	root, cache, q, s := newTestScanner(t)
	writeNote(t, root, "a.md", "alpha")
	scanAndApply(t, s, cache, q)

	os.Remove(filepath.Join(root, "a.md"))
	scanAndApply(t, s, cache, q)

	// Re-created before the confirming scan, as an editor's save would.
	writeNote(t, root, "a.md", "alpha")
	events := scanAndApply(t, s, cache, q)
	for _, ev := range events {
		if ev.Kind == Removed {
			t.Fatalf("file reported removed: %v", kinds(events))
		}
	}
	if len(s.PendingRemovals()) != 0 {
		t.Error("candidate survived the file coming back")
	}
}

func TestScanner_RenameInOneScan(t *testing.T) {
	root, cache, q, s := newTestScanner(t)
	writeNote(t, root, "old.md", "same content")
	writeNote(t, root, "other.md", "unrelated")
	scanAndApply(t, s, cache, q)

	if err := os.Rename(filepath.Join(root, "old.md"), filepath.Join(root, "new.md")); err != nil {
		t.Fatal(err)
	}

	events := scanAndApply(t, s, cache, q)
	if diff := cmp.Diff([]string{"renamed:old.md->new.md"}, kinds(events)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	// Nothing lingers.
	if more := scanAndApply(t, s, cache, q); len(more) != 0 {
		t.Errorf("follow-up scan produced %v", kinds(more))
	}
}

func TestScanner_RenameOutsideWindow(t *testing.T) {
	root, cache, q, s := newTestScanner(t)
	s.renameWindow = time.Second
	clock := time.Unix(1700000000, 0)
	s.now = func() time.Time { return clock }

	writeNote(t, root, "old.md", "content")
	scanAndApply(t, s, cache, q)

	// Moved out of the folder, then back under a new name much later.
	tmp := filepath.Join(t.TempDir(), "parked.md")
	os.Rename(filepath.Join(root, "old.md"), tmp)
	scanAndApply(t, s, cache, q)

	clock = clock.Add(time.Hour)
	os.Rename(tmp, filepath.Join(root, "new.md"))
	events := scanAndApply(t, s, cache, q)
	if diff := cmp.Diff([]string{"created:new.md", "removed:old.md"}, kinds(events)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestScanner_ZeroByteIsModifiedNotRemoved(t *testing.T) {
	root, cache, q, s := newTestScanner(t)
	writeNote(t, root, "a.md", "content")
	scanAndApply(t, s, cache, q)

	writeNote(t, root, "a.md", "")
	events := scanAndApply(t, s, cache, q)
	if diff := cmp.Diff([]string{"modified:a.md"}, kinds(events)); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if events[0].Fingerprint != "" {
		t.Errorf("fingerprint = %q, want empty", events[0].Fingerprint)
	}

	// Zero-byte file never seen before is Created with empty fingerprint.
	writeNote(t, root, "b.md", "")
	events = scanAndApply(t, s, cache, q)
	if diff := cmp.Diff([]string{"created:b.md"}, kinds(events)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	// Two empty files never pair up as a rename.
	os.Remove(filepath.Join(root, "b.md"))
	writeNote(t, root, "c.md", "")
	events = scanAndApply(t, s, cache, q)
	if diff := cmp.Diff([]string{"created:c.md"}, kinds(events)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestScanner_UnreadableIsModified(t *testing.T) {
	if runtime.GOOS == "windows" || os.Getuid() == 0 {
		t.Skip("permission bits are not enforced here")
	}
	root, cache, q, s := newTestScanner(t)
	writeNote(t, root, "a.md", "content")
	scanAndApply(t, s, cache, q)

	path := filepath.Join(root, "a.md")
	if err := os.Chmod(path, 0000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(path, 0644) })

	result, err := s.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	events := q.Drain()
	if result.Unreadable != 1 {
		t.Errorf("Unreadable = %d, want 1", result.Unreadable)
	}
	if diff := cmp.Diff([]string{"modified:a.md"}, kinds(events)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if events[0].Fingerprint != "" {
		t.Errorf("fingerprint = %q, want empty", events[0].Fingerprint)
	}
}

func TestScanner_FlatFolderIgnoresSubfolders(t *testing.T) {
	root := t.TempDir()
	cache := newMemCache()
	q := NewQueue()
	s := NewScanner(root, Filter{Subfolders: false}, cache, q, time.Minute, nil)

	writeNote(t, root, "top.md", "x")
	writeNote(t, root, "nested/deep.md", "y")

	events := scanAndApply(t, s, cache, q)
	if diff := cmp.Diff([]string{"created:top.md"}, kinds(events)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestScanner_MissingRootFails(t *testing.T) {
	cache := newMemCache()
	s := NewScanner(filepath.Join(t.TempDir(), "gone"), Filter{}, cache, NewQueue(), time.Minute, nil)
	if _, err := s.Scan(context.Background()); err == nil {
		t.Error("expected error for missing root")
	}
}
