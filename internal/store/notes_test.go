package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestUpsertNote_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	f := testFolder(t, s)
	mtime := time.Unix(1700000000, 0)

	id1, err := s.UpsertNote(ctx, f.ID, "a.md", "fp1", mtime)
	if err != nil {
		t.Fatalf("UpsertNote() failed: %v", err)
	}
	id2, err := s.UpsertNote(ctx, f.ID, "a.md", "fp1", mtime)
	if err != nil {
		t.Fatalf("second UpsertNote() failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("ids differ: %d vs %d", id1, id2)
	}

	count, err := s.CountNotes(ctx, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("CountNotes() = %d, want 1", count)
	}

	if _, err := s.UpsertNote(ctx, f.ID, "a.md", "fp2", mtime.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	n, err := s.GetByPath(ctx, f.ID, "a.md")
	if err != nil {
		t.Fatal(err)
	}
	if n.Fingerprint != "fp2" || !n.ModTime.Equal(mtime.Add(time.Second)) {
		t.Errorf("row not updated: %+v", n)
	}
	if n.ID != id1 {
		t.Errorf("id changed on update: %d vs %d", n.ID, id1)
	}
}

func TestUpsertNote_NullFingerprint(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	f := testFolder(t, s)

	if _, err := s.UpsertNote(ctx, f.ID, "empty.md", "", time.Now()); err != nil {
		t.Fatal(err)
	}
	var isNull bool
	if err := s.conn.QueryRow(`SELECT fingerprint IS NULL FROM notes WHERE path = 'empty.md'`).Scan(&isNull); err != nil {
		t.Fatal(err)
	}
	if !isNull {
		t.Error("empty fingerprint should be stored as NULL")
	}
}

func TestMarkDeleted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	f := testFolder(t, s)

	id, _ := s.UpsertNote(ctx, f.ID, "a.md", "fp", time.Now())

	if err := s.MarkDeleted(ctx, f.ID, "a.md"); err != nil {
		t.Fatalf("MarkDeleted() failed: %v", err)
	}
	if err := s.MarkDeleted(ctx, f.ID, "a.md"); err != nil {
		t.Fatalf("second MarkDeleted() failed: %v", err)
	}
	if err := s.MarkDeleted(ctx, f.ID, "never-existed.md"); err != nil {
		t.Fatalf("MarkDeleted(unknown) failed: %v", err)
	}

	if _, err := s.GetByPath(ctx, f.ID, "a.md"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByPath() after delete = %v, want ErrNotFound", err)
	}
	notes, _ := s.ListNotesInFolder(ctx, f.ID)
	if len(notes) != 0 {
		t.Errorf("ListNotesInFolder() returned %d deleted notes", len(notes))
	}

	// Re-creating the file revives the same row.
	again, err := s.UpsertNote(ctx, f.ID, "a.md", "fp", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if again != id {
		t.Errorf("revived row id = %d, want %d", again, id)
	}
	if _, err := s.GetByPath(ctx, f.ID, "a.md"); err != nil {
		t.Errorf("GetByPath() after revive: %v", err)
	}
}

func TestListNotesInFolder_Ordered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	f := testFolder(t, s)
	other := &Folder{Root: "/other", Name: "other"}
	if err := s.CreateFolder(ctx, other); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{"c.md", "a.md", "sub/b.md"} {
		if _, err := s.UpsertNote(ctx, f.ID, p, "fp", time.Now()); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.UpsertNote(ctx, other.ID, "z.md", "fp", time.Now()); err != nil {
		t.Fatal(err)
	}

	notes, err := s.ListNotesInFolder(ctx, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	var paths []string
	for _, n := range notes {
		paths = append(paths, n.Path)
	}
	if diff := cmp.Diff([]string{"a.md", "c.md", "sub/b.md"}, paths); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
}

func TestRenameNote_TagsFollow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	f := testFolder(t, s)

	id, _ := s.UpsertNote(ctx, f.ID, "old.md", "fp", time.Now())
	tag, err := s.CreateTag(ctx, f.ID, "work", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.TagNote(ctx, id, tag.ID); err != nil {
		t.Fatal(err)
	}

	newID, err := s.RenameNote(ctx, f.ID, "old.md", "new.md", "fp", time.Now())
	if err != nil {
		t.Fatalf("RenameNote() failed: %v", err)
	}
	if newID != id {
		t.Errorf("rename changed id: %d -> %d", id, newID)
	}

	if _, err := s.GetByPath(ctx, f.ID, "old.md"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old path still present: %v", err)
	}
	notes, err := s.NotesForTag(ctx, tag.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 || notes[0].Path != "new.md" {
		t.Errorf("NotesForTag() = %+v, want new.md", notes)
	}
}

func TestRenameNote_ReplacesTargetAndHandlesUnknownSource(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	f := testFolder(t, s)

	s.UpsertNote(ctx, f.ID, "a.md", "fa", time.Now())
	s.UpsertNote(ctx, f.ID, "b.md", "fb", time.Now())

	if _, err := s.RenameNote(ctx, f.ID, "a.md", "b.md", "fa", time.Now()); err != nil {
		t.Fatalf("RenameNote() onto existing failed: %v", err)
	}
	n, err := s.GetByPath(ctx, f.ID, "b.md")
	if err != nil {
		t.Fatal(err)
	}
	if n.Fingerprint != "fa" {
		t.Errorf("b.md fingerprint = %q, want fa", n.Fingerprint)
	}
	if count, _ := s.CountNotes(ctx, f.ID); count != 1 {
		t.Errorf("CountNotes() = %d, want 1", count)
	}

	if _, err := s.RenameNote(ctx, f.ID, "ghost.md", "c.md", "fc", time.Now()); err != nil {
		t.Fatalf("RenameNote() from unknown failed: %v", err)
	}
	if _, err := s.GetByPath(ctx, f.ID, "c.md"); err != nil {
		t.Errorf("c.md not created: %v", err)
	}
}

// A crash between statements must leave either the old or the new row.
// Cancelling the context mid-transaction stands in for the crash.
func TestRenameNote_AtomicOnCancel(t *testing.T) {
	s := openTestStore(t)
	f := testFolder(t, s)
	s.UpsertNote(context.Background(), f.ID, "a.md", "fa", time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.RenameNote(ctx, f.ID, "a.md", "b.md", "fa", time.Now()); err == nil {
		t.Fatal("expected error with cancelled context")
	}

	if _, err := s.GetByPath(context.Background(), f.ID, "a.md"); err != nil {
		t.Errorf("old row lost: %v", err)
	}
	if _, err := s.GetByPath(context.Background(), f.ID, "b.md"); !errors.Is(err, ErrNotFound) {
		t.Errorf("partial rename visible: %v", err)
	}
}
