package engine

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mschirtzinger/notesync/internal/note"
	"github.com/mschirtzinger/notesync/internal/resolver"
	"github.com/mschirtzinger/notesync/internal/store"
	"github.com/mschirtzinger/notesync/internal/trash"
)

func tagNames(t *testing.T, f *fixture, path string) []string {
	t.Helper()
	ctx := context.Background()
	n, err := f.engine.Store().GetByPath(ctx, f.engine.Folder().ID, path)
	if err != nil {
		t.Fatalf("GetByPath(%s) failed: %v", path, err)
	}
	tags, err := f.engine.Store().TagsForNote(ctx, n.ID)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, tag := range tags {
		names = append(names, tag.Name)
	}
	return names
}

func TestMoveNotes_PerItemResults(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.write(t, "a.md", "alpha")
	f.write(t, "b.md", "beta")
	f.write(t, "archive/b.md", "older beta")
	f.scan(t)

	tally, err := f.engine.ApplyTag(ctx, []string{"a.md"}, "keep")
	if err != nil || !tally.OK() {
		t.Fatalf("ApplyTag() = %v, %v", tally, err)
	}

	tally, err = f.engine.MoveNotes(ctx, []string{"a.md", "b.md"}, "archive")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"archive/a.md"}, tally.Succeeded); diff != "" {
		t.Errorf("succeeded (-want +got):\n%s", diff)
	}
	if len(tally.Failed) != 1 || tally.Failed[0].Path != "b.md" || !errors.Is(tally.Failed[0], ErrDestinationExists) {
		t.Fatalf("failed = %+v, want b.md with ErrDestinationExists", tally.Failed)
	}
	if !IsRecoverable(tally.Err()) {
		t.Error("destination collision is not recoverable")
	}

	if got := f.read(t, "archive/b.md"); got != "older beta" {
		t.Errorf("collision overwrote target: %q", got)
	}
	if !note.Exists(note.Abs(f.root, "b.md")) {
		t.Error("failed item was moved anyway")
	}
	f.assertCacheMatchesDisk(t, "archive/a.md")
	if diff := cmp.Diff([]string{"keep"}, tagNames(t, f, "archive/a.md")); diff != "" {
		t.Errorf("tags did not follow the note (-want +got):\n%s", diff)
	}

	// The detector sees nothing new after the move.
	result, err := f.engine.Scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Changes() != 0 {
		t.Errorf("scan after move found %d changes", result.Changes())
	}
}

func TestMoveNotes_RefusesConflictedNote(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.write(t, "a.md", "base")
	f.scan(t)
	f.engine.OpenNote(ctx, "a.md")
	f.engine.EditNote(ctx, "a.md", "mine")
	f.write(t, "a.md", "theirs")
	f.scan(t)

	tally, err := f.engine.MoveNotes(ctx, []string{"a.md"}, "elsewhere")
	if err != nil {
		t.Fatal(err)
	}
	if tally.OK() || !errors.Is(tally.Err(), resolver.ErrConflictUnresolved) {
		t.Errorf("MoveNotes() = %v, want conflict failure", tally)
	}
}

func TestCopyNotes_CopiesManualTags(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.write(t, "src/a.md", "---\ntags: [header]\n---\nbody\n")
	f.scan(t)
	f.engine.ApplyTag(ctx, []string{"src/a.md"}, "manual")

	tally, err := f.engine.CopyNotes(ctx, []string{"src/a.md", "src/a.md"}, "dst")
	if err != nil {
		t.Fatal(err)
	}
	if len(tally.Succeeded) != 1 || len(tally.Failed) != 1 {
		t.Fatalf("CopyNotes() = %v, want the second copy to collide", tally)
	}
	if got, want := f.read(t, "dst/a.md"), f.read(t, "src/a.md"); got != want {
		t.Errorf("copy = %q, want %q", got, want)
	}
	f.assertCacheMatchesDisk(t, "dst/a.md")
	if diff := cmp.Diff([]string{"header", "manual"}, tagNames(t, f, "dst/a.md")); diff != "" {
		t.Errorf("copied tags (-want +got):\n%s", diff)
	}
}

func TestApplyTag_UnknownNoteFails(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.write(t, "a.md", "a")
	f.scan(t)

	tally, err := f.engine.ApplyTag(ctx, []string{"a.md", "missing.md", "../escape.md"}, "work")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a.md"}, tally.Succeeded); diff != "" {
		t.Errorf("succeeded (-want +got):\n%s", diff)
	}
	if len(tally.Failed) != 2 {
		t.Fatalf("failed = %+v, want 2", tally.Failed)
	}
	if !errors.Is(tally.Failed[0], fs.ErrNotExist) {
		t.Errorf("missing note error = %v", tally.Failed[0])
	}
	if _, err := f.engine.ApplyTag(ctx, []string{"a.md"}, "  "); err == nil {
		t.Error("ApplyTag() with blank name succeeded")
	}
}

func TestBatch_CancelledContextFailsItems(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "a.md", "a")
	f.scan(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Either the call is refused or every item fails; nothing is tagged.
	tally, err := f.engine.ApplyTag(ctx, []string{"a.md"}, "x")
	if !errors.Is(err, context.Canceled) && !errors.Is(tally.Err(), context.Canceled) {
		t.Errorf("ApplyTag() with cancelled context = %v, %v", tally, err)
	}
	if len(tally.Succeeded) != 0 {
		t.Errorf("succeeded = %v, want none", tally.Succeeded)
	}
}

func TestTrashNotes_RefusesUnsavedEdits(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.write(t, "draft.md", "base")
	f.write(t, "fight.md", "base")
	f.scan(t)
	f.engine.OpenNote(ctx, "draft.md")
	f.engine.EditNote(ctx, "draft.md", "unsaved")
	f.engine.OpenNote(ctx, "fight.md")
	f.engine.EditNote(ctx, "fight.md", "mine")
	f.write(t, "fight.md", "theirs")
	f.scan(t)

	tally, err := f.engine.TrashNotes(ctx, []string{"draft.md", "fight.md"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tally.Succeeded) != 0 || len(tally.Failed) != 2 {
		t.Fatalf("TrashNotes() = %v, want both refused", tally)
	}
	if !errors.Is(tally.Failed[0], ErrUnsavedEdits) {
		t.Errorf("draft.md error = %v, want ErrUnsavedEdits", tally.Failed[0])
	}
	if !errors.Is(tally.Failed[1], resolver.ErrConflictUnresolved) {
		t.Errorf("fight.md error = %v, want ErrConflictUnresolved", tally.Failed[1])
	}
	if got := f.read(t, "draft.md"); got != "base" {
		t.Errorf("draft.md = %q", got)
	}
	n, err := f.engine.OpenNote(ctx, "draft.md")
	if err != nil || n.Content != "unsaved" {
		t.Errorf("draft.md buffer = %v, %v; want edits kept", n, err)
	}
}

func TestTrashNotes_RestoreWithCollision(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	folder := f.engine.Folder().ID
	f.write(t, "a.md", "original")
	f.scan(t)
	f.engine.OpenNote(ctx, "a.md")

	tally, err := f.engine.TrashNotes(ctx, []string{"a.md", "missing.md"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tally.Succeeded) != 1 || len(tally.Failed) != 1 {
		t.Fatalf("TrashNotes() = %v", tally)
	}
	if !errors.Is(tally.Failed[0], note.ErrFileIO) {
		t.Errorf("missing note error = %v, want ErrFileIO", tally.Failed[0])
	}
	if _, err := f.engine.Store().GetByPath(ctx, folder, "a.md"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("trashed note still live in cache: %v", err)
	}
	st, _ := f.engine.Status(ctx)
	if len(st.Open) != 0 || st.Trashed != 1 {
		t.Errorf("status after trash = %+v", st)
	}

	trashed := f.log.ofType(EventTrashed)
	if len(trashed) != 1 {
		t.Fatalf("trashed events = %d", len(trashed))
	}
	id := trashed[0].Message

	f.write(t, "a.md", "replacement")
	f.scan(t)

	result, err := f.engine.RestoreTrash(ctx, id)
	if err != nil {
		t.Fatalf("RestoreTrash() failed: %v", err)
	}
	if !result.Collision || result.Path != "a (restored 1).md" {
		t.Errorf("restore = %+v, want renamed restore", result)
	}
	if !errors.Is(result.Warning(), trash.ErrRestoreCollision) {
		t.Errorf("Warning() = %v", result.Warning())
	}
	if got := f.read(t, "a.md"); got != "replacement" {
		t.Errorf("restore overwrote the occupying note: %q", got)
	}
	if got := f.read(t, result.Path); got != "original" {
		t.Errorf("restored content = %q", got)
	}
	f.assertCacheMatchesDisk(t, result.Path)

	restored := f.log.ofType(EventRestored)
	if len(restored) != 1 || !strings.Contains(restored[0].Message, "restored as") {
		t.Errorf("restored events = %+v", restored)
	}
	if _, err := f.engine.RestoreTrash(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second restore error = %v, want ErrNotFound", err)
	}
}

func TestPurgeTrash_ZeroRetention(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.write(t, "a.md", "a")
	f.write(t, "b.md", "b")
	f.scan(t)
	if _, err := f.engine.TrashNotes(ctx, []string{"a.md", "b.md"}); err != nil {
		t.Fatal(err)
	}

	result, err := f.engine.PurgeTrash(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if result.Purged != 2 {
		t.Errorf("purged = %d, want 2", result.Purged)
	}
	entries, err := f.engine.ListTrash(ctx)
	if err != nil || len(entries) != 0 {
		t.Errorf("ListTrash() = %v, %v; want empty", entries, err)
	}
}
