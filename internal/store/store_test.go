package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ncruces/go-sqlite3"
)

// testDBPath returns a temporary path for test databases
func testDBPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), ".notesync", "cache.db")
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(testDBPath(t), nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testFolder(t *testing.T, s *Store) *Folder {
	t.Helper()
	f, err := s.EnsureFolder(context.Background(), &Folder{Root: "/notes", Name: "notes", Subfolders: true})
	if err != nil {
		t.Fatalf("EnsureFolder() failed: %v", err)
	}
	return f
}

func TestOpen_Success(t *testing.T) {
	path := testDBPath(t)
	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
	if s.IsMemory() {
		t.Error("file store reported as memory")
	}

	tables := []string{"folders", "notes", "tags", "note_tags", "trash_entries", "connections"}
	for _, table := range tables {
		var count int
		err := s.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}

	var mode string
	if err := s.conn.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestOpen_FailureIsOpenError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Open(filepath.Join(blocker, "cache.db"), nil)
	if !errors.Is(err, ErrStorageOpen) {
		t.Fatalf("expected ErrStorageOpen, got %v", err)
	}
	var oe *OpenError
	if !errors.As(err, &oe) {
		t.Fatalf("expected *OpenError, got %T", err)
	}
}

func TestOpen_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	if err := os.WriteFile(path, []byte("this is not a sqlite database, not even close....."), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, nil); !errors.Is(err, ErrStorageOpen) {
		t.Fatalf("expected ErrStorageOpen for corrupt file, got %v", err)
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("second InitSchema() failed: %v", err)
	}
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("third InitSchema() failed: %v", err)
	}
}

func TestOpenMemory(t *testing.T) {
	s, err := OpenMemory(nil)
	if err != nil {
		t.Fatalf("OpenMemory() failed: %v", err)
	}
	defer s.Close()

	if !s.IsMemory() {
		t.Error("IsMemory() = false")
	}
	ctx := context.Background()
	f := testFolder(t, s)
	if _, err := s.UpsertNote(ctx, f.ID, "a.md", "fp", time.Now()); err != nil {
		t.Fatalf("UpsertNote() failed: %v", err)
	}
	// A second query must see the same database.
	n, err := s.CountNotes(ctx, f.ID)
	if err != nil || n != 1 {
		t.Errorf("CountNotes() = %d, %v; want 1", n, err)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := testDBPath(t)
	ctx := context.Background()
	mtime := time.Unix(1700000000, 123456789)

	s, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	f := testFolder(t, s)
	if _, err := s.UpsertNote(ctx, f.ID, "dir/a.md", "abc", mtime); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	s, err = Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	n, err := s.GetByPath(ctx, f.ID, "dir/a.md")
	if err != nil {
		t.Fatalf("GetByPath() after reopen failed: %v", err)
	}
	if n.Fingerprint != "abc" || !n.ModTime.Equal(mtime) {
		t.Errorf("got fingerprint %q mtime %v", n.Fingerprint, n.ModTime)
	}
}

func TestWithRetry_RetriesBusy(t *testing.T) {
	s := openTestStore(t)

	calls := 0
	err := s.withRetry(context.Background(), "test", func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("exec: %w", sqlite3.BUSY)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry() = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithRetry_GivesUp(t *testing.T) {
	s := openTestStore(t)

	calls := 0
	err := s.withRetry(context.Background(), "test", func() error {
		calls++
		return sqlite3.LOCKED
	})
	if !errors.Is(err, sqlite3.LOCKED) {
		t.Fatalf("expected LOCKED, got %v", err)
	}
	if calls != retryAttempts {
		t.Errorf("calls = %d, want %d", calls, retryAttempts)
	}
}

func TestWithRetry_OtherErrorsNotRetried(t *testing.T) {
	s := openTestStore(t)

	calls := 0
	boom := errors.New("boom")
	if err := s.withRetry(context.Background(), "test", func() error {
		calls++
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestFolders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	f := testFolder(t, s)
	again := testFolder(t, s)
	if f.ID != again.ID {
		t.Errorf("EnsureFolder created a second folder: %d vs %d", f.ID, again.ID)
	}

	f.RemoteURL = "https://cloud.example.com"
	f.RemoteUsername = "alice"
	f.SyncInterval = 5 * time.Minute
	f.Subfolders = false
	if err := s.UpdateFolder(ctx, f); err != nil {
		t.Fatalf("UpdateFolder() failed: %v", err)
	}

	got, err := s.GetFolder(ctx, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(f.RemoteURL, got.RemoteURL); diff != "" {
		t.Errorf("RemoteURL mismatch: %s", diff)
	}
	if got.SyncInterval != 5*time.Minute || got.Subfolders || got.RemoteUsername != "alice" {
		t.Errorf("folder not updated: %+v", got)
	}

	if err := s.UpdateFolder(ctx, &Folder{ID: 999}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateFolder(missing) = %v, want ErrNotFound", err)
	}

	other := &Folder{Root: "/other", Name: "a-other"}
	if err := s.CreateFolder(ctx, other); err != nil {
		t.Fatal(err)
	}
	folders, err := s.ListFolders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(folders) != 2 || folders[0].Root != "/other" {
		t.Errorf("ListFolders() = %d folders, first %q", len(folders), folders[0].Root)
	}
}

func TestConnections(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	f := testFolder(t, s)

	if _, err := s.GetConnection(ctx, f.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	probed := time.Unix(1700000000, 0)
	c := &Connection{FolderID: f.ID, ServerURL: "https://x", APIVersion: "1", Versions: true, ProbedAt: probed}
	if err := s.SaveConnection(ctx, c); err != nil {
		t.Fatal(err)
	}
	c.Trash = true
	if err := s.SaveConnection(ctx, c); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetConnection(ctx, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(c, got); diff != "" {
		t.Errorf("connection mismatch (-want +got):\n%s", diff)
	}

	if err := s.DeleteConnection(ctx, f.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetConnection(ctx, f.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}
