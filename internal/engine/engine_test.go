package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mschirtzinger/notesync/internal/lock"
	"github.com/mschirtzinger/notesync/internal/note"
	"github.com/mschirtzinger/notesync/internal/resolver"
	"github.com/mschirtzinger/notesync/internal/store"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() with empty root succeeded")
	}
	cfg := DefaultConfig(t.TempDir())
	cfg.RetentionDays = -1
	if _, err := New(cfg); err == nil {
		t.Error("New() with negative retention succeeded")
	}
}

func TestStart_MissingFolderIsFatal(t *testing.T) {
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "gone"))
	cfg.Memory = true
	cfg.Logger = quietLogger()
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	err = e.Start(context.Background())
	if !errors.Is(err, ErrFolderInaccessible) {
		t.Fatalf("Start() error = %v, want ErrFolderInaccessible", err)
	}
	if !IsFatal(err) || !IsUserActionRequired(err) {
		t.Errorf("IsFatal/IsUserActionRequired = %v/%v, want true/true", IsFatal(err), IsUserActionRequired(err))
	}
	if err := e.SaveNote(context.Background(), "a.md", "x"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("SaveNote() after failed Start error = %v, want ErrNotRunning", err)
	}
}

func TestStart_FolderLockedByOtherEngine(t *testing.T) {
	f := newFixture(t, nil)

	cfg := DefaultConfig(f.root)
	cfg.Memory = true
	cfg.Passive = true
	cfg.Logger = quietLogger()
	second, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	err = second.Start(context.Background())
	if !errors.Is(err, lock.ErrLocked) {
		t.Fatalf("second Start() error = %v, want lock.ErrLocked", err)
	}
	if IsFatal(err) || !IsUserActionRequired(err) {
		t.Errorf("lock error classified fatal=%v userAction=%v", IsFatal(err), IsUserActionRequired(err))
	}
}

func TestStart_CacheFileAndMemoryFallback(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig(root)
	cfg.Passive = true
	cfg.Logger = quietLogger()
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got, want := e.Store().Path(), filepath.Join(root, StateDir, CacheFileName); got != want {
		t.Errorf("cache path = %s, want %s", got, want)
	}
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}

	// A directory where the database file should be makes the open fail.
	blocked := filepath.Join(t.TempDir(), "cache.db")
	if err := os.MkdirAll(filepath.Join(blocked, "x"), 0755); err != nil {
		t.Fatal(err)
	}
	log := &eventLog{}
	cfg.CachePath = blocked
	cfg.Observers = []Observer{log}
	e, err = New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() with fallback failed: %v", err)
	}
	defer e.Stop()
	if !e.Store().IsMemory() {
		t.Error("store is not in memory after fallback")
	}
	if got := log.ofType(EventDegraded); len(got) != 1 || !errors.Is(got[0].Err, store.ErrStorageOpen) {
		t.Errorf("degraded events = %+v, want one ErrStorageOpen", got)
	}
}

func TestScan_PopulatesCacheAndFrontMatterTags(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.write(t, "recipes/soup.md", "---\ntags: [food, winter]\n---\nLeek soup\n")
	f.write(t, "todo.txt", "not a note")

	f.scan(t)

	f.assertCacheMatchesDisk(t, "recipes/soup.md")
	s := f.engine.Store()
	if _, err := s.GetByPath(ctx, f.engine.Folder().ID, "todo.txt"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("todo.txt cached: err = %v", err)
	}

	n, _ := s.GetByPath(ctx, f.engine.Folder().ID, "recipes/soup.md")
	tags, err := s.TagsForNote(ctx, n.ID)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, tag := range tags {
		names = append(names, tag.Name)
	}
	if diff := cmp.Diff([]string{"food", "winter"}, names); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}

	// A second scan of an unchanged folder changes nothing.
	result, err := f.engine.Scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Changes() != 0 {
		t.Errorf("rescan changes = %d, want 0", result.Changes())
	}
}

// An external change to an open note without edits reloads it.
func TestEngine_CleanNoteReloads(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.write(t, "a.md", "first")
	f.scan(t)

	if _, err := f.engine.OpenNote(ctx, "a.md"); err != nil {
		t.Fatal(err)
	}
	f.write(t, "a.md", "second")
	f.scan(t)

	reloads := f.log.ofType(EventNoteReloaded)
	if len(reloads) != 1 || reloads[0].Content != "second" {
		t.Fatalf("reload events = %+v, want one with new content", reloads)
	}
	n, err := f.engine.OpenNote(ctx, "a.md")
	if err != nil {
		t.Fatal(err)
	}
	if n.Content != "second" || n.Dirty {
		t.Errorf("buffer = %q dirty=%v, want %q clean", n.Content, n.Dirty, "second")
	}
	if got := f.log.ofType(EventConflict); len(got) != 0 {
		t.Errorf("unexpected conflicts: %+v", got)
	}
	f.assertCacheMatchesDisk(t, "a.md")
}

// An external change over unsaved edits raises a conflict;
// saves are refused until the user decides.
func TestEngine_ConflictKeepMine(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.write(t, "a.md", "base")
	f.scan(t)

	if _, err := f.engine.OpenNote(ctx, "a.md"); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.EditNote(ctx, "a.md", "mine"); err != nil {
		t.Fatal(err)
	}
	f.write(t, "a.md", "theirs")
	f.scan(t)

	conflicts := f.log.ofType(EventConflict)
	if len(conflicts) != 1 {
		t.Fatalf("conflict events = %d, want 1", len(conflicts))
	}
	if c := conflicts[0].Conflict; c.Mine != "mine" || c.Theirs != "theirs" {
		t.Errorf("conflict = %+v", c)
	}
	f.assertCacheMatchesDisk(t, "a.md")

	err := f.engine.SaveNote(ctx, "a.md", "mine")
	if !errors.Is(err, resolver.ErrConflictUnresolved) {
		t.Fatalf("SaveNote() during conflict error = %v, want ErrConflictUnresolved", err)
	}
	if !IsUserActionRequired(err) {
		t.Error("ErrConflictUnresolved not classified as user action")
	}
	if got := f.read(t, "a.md"); got != "theirs" {
		t.Errorf("disk = %q, conflict must not write", got)
	}

	act, err := f.engine.ResolveConflict(ctx, "a.md", resolver.KeepMine)
	if err != nil {
		t.Fatalf("ResolveConflict(KeepMine) failed: %v", err)
	}
	if act.State != resolver.Clean {
		t.Errorf("state after keep mine = %v, want clean", act.State)
	}
	if got := f.read(t, "a.md"); got != "mine" {
		t.Errorf("disk = %q, want %q", got, "mine")
	}
	f.assertCacheMatchesDisk(t, "a.md")

	// The engine's own write is not an external change.
	f.scan(t)
	if got := f.log.ofType(EventConflict); len(got) != 1 {
		t.Errorf("conflicts after rescan = %d, want 1", len(got))
	}
	pending, err := f.engine.PendingConflicts(ctx)
	if err != nil || len(pending) != 0 {
		t.Errorf("PendingConflicts() = %v, %v; want none", pending, err)
	}
}

// A save never replaces a disk change that no scan has reported yet.
func TestEngine_SaveOverUnreportedChangeRaisesConflict(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.write(t, "plan.md", "base")
	f.scan(t)
	if _, err := f.engine.OpenNote(ctx, "plan.md"); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.EditNote(ctx, "plan.md", "mine"); err != nil {
		t.Fatal(err)
	}
	f.write(t, "plan.md", "theirs")

	err := f.engine.SaveNote(ctx, "plan.md", "mine")
	if !errors.Is(err, resolver.ErrConflictUnresolved) {
		t.Fatalf("SaveNote() error = %v, want ErrConflictUnresolved", err)
	}
	if got := f.read(t, "plan.md"); got != "theirs" {
		t.Errorf("disk = %q, external change overwritten", got)
	}
	f.assertCacheMatchesDisk(t, "plan.md")

	pending, err := f.engine.PendingConflicts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Mine != "mine" || pending[0].Theirs != "theirs" {
		t.Fatalf("pending = %+v, want mine against theirs", pending)
	}

	// The scan that catches up finds nothing new.
	f.scan(t)
	if got := f.log.ofType(EventConflict); len(got) != 1 {
		t.Errorf("conflicts = %d, want 1", len(got))
	}

	if _, err := f.engine.ResolveConflict(ctx, "plan.md", resolver.KeepMine); err != nil {
		t.Fatal(err)
	}
	if got := f.read(t, "plan.md"); got != "mine" {
		t.Errorf("disk after keep mine = %q", got)
	}
	f.assertCacheMatchesDisk(t, "plan.md")
}

func TestEngine_SaveUneditedOverUnreportedChangeReloads(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.write(t, "plan.md", "base")
	f.engine.OpenNote(ctx, "plan.md")
	f.write(t, "plan.md", "theirs")

	if err := f.engine.SaveNote(ctx, "plan.md", "base"); err != nil {
		t.Fatalf("SaveNote() failed: %v", err)
	}
	if got := f.read(t, "plan.md"); got != "theirs" {
		t.Errorf("disk = %q, want the external change kept", got)
	}
	reloads := f.log.ofType(EventNoteReloaded)
	if len(reloads) != 1 || reloads[0].Content != "theirs" {
		t.Errorf("reload events = %+v", reloads)
	}
	n, _ := f.engine.OpenNote(ctx, "plan.md")
	if n.Content != "theirs" || n.Dirty {
		t.Errorf("buffer = %q dirty=%v", n.Content, n.Dirty)
	}
	f.assertCacheMatchesDisk(t, "plan.md")
}

// Keeping mine re-checks the disk: a newer external change becomes a
// fresh conflict instead of being overwritten.
func TestEngine_KeepMineOverUnreportedChange(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.write(t, "a.md", "base")
	f.scan(t)
	f.engine.OpenNote(ctx, "a.md")
	f.engine.EditNote(ctx, "a.md", "mine")
	f.write(t, "a.md", "theirs")
	f.scan(t)
	f.write(t, "a.md", "theirs again")

	_, err := f.engine.ResolveConflict(ctx, "a.md", resolver.KeepMine)
	if !errors.Is(err, resolver.ErrConflictUnresolved) {
		t.Fatalf("ResolveConflict(KeepMine) error = %v, want ErrConflictUnresolved", err)
	}
	if got := f.read(t, "a.md"); got != "theirs again" {
		t.Errorf("disk = %q, external change overwritten", got)
	}
	pending, err := f.engine.PendingConflicts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Mine != "mine" || pending[0].Theirs != "theirs again" {
		t.Errorf("pending = %+v", pending)
	}
	f.assertCacheMatchesDisk(t, "a.md")
}

func TestEngine_ConflictAcceptTheirsAndViewDiff(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.write(t, "a.md", "milk\neggs\n")
	f.scan(t)
	f.engine.OpenNote(ctx, "a.md")
	f.engine.EditNote(ctx, "a.md", "milk\neggs\nflour\n")
	f.write(t, "a.md", "milk\nbread\n")
	f.scan(t)

	diff, err := f.engine.ResolveConflict(ctx, "a.md", resolver.ViewDiff)
	if err != nil {
		t.Fatal(err)
	}
	if len(diff.Diff) == 0 || diff.State != resolver.ConflictPending {
		t.Errorf("ViewDiff = %+v, want a diff with the conflict still pending", diff)
	}

	act, err := f.engine.ResolveConflict(ctx, "a.md", resolver.AcceptTheirs)
	if err != nil {
		t.Fatal(err)
	}
	if act.Content != "milk\nbread\n" || act.State != resolver.Clean {
		t.Errorf("AcceptTheirs = %+v", act)
	}
	if got := f.read(t, "a.md"); got != "milk\nbread\n" {
		t.Errorf("disk changed to %q", got)
	}
	n, _ := f.engine.OpenNote(ctx, "a.md")
	if n.Content != "milk\nbread\n" || n.Dirty {
		t.Errorf("buffer = %q dirty=%v", n.Content, n.Dirty)
	}
}

// Further external changes while the prompt is showing update
// the same conflict.
func TestEngine_RapidExternalChangesCoalesce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.write(t, "a.md", "base")
	f.scan(t)
	f.engine.OpenNote(ctx, "a.md")
	f.engine.EditNote(ctx, "a.md", "mine")

	for _, content := range []string{"theirs 1", "theirs 2", "theirs 3"} {
		f.write(t, "a.md", content)
		f.scan(t)
	}

	if got := f.log.ofType(EventConflict); len(got) != 1 {
		t.Fatalf("conflict raised %d times, want 1", len(got))
	}
	updates := f.log.ofType(EventConflictUpdated)
	if len(updates) != 2 {
		t.Fatalf("conflict updated %d times, want 2", len(updates))
	}
	pending, err := f.engine.PendingConflicts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	c := pending[0]
	if c.Theirs != "theirs 3" || c.Generation != 3 || c.ID != updates[1].Conflict.ID {
		t.Errorf("pending conflict = %+v", c)
	}
	f.assertCacheMatchesDisk(t, "a.md")
}

func TestEngine_SaveIsNotReportedBack(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.write(t, "a.md", "one")
	f.scan(t)
	f.engine.OpenNote(ctx, "a.md")
	f.engine.EditNote(ctx, "a.md", "two")

	if err := f.engine.SaveNote(ctx, "a.md", "two"); err != nil {
		t.Fatalf("SaveNote() failed: %v", err)
	}
	f.scan(t)

	if got := f.log.ofType(EventNoteReloaded); len(got) != 0 {
		t.Errorf("own save reloaded the note: %+v", got)
	}
	n, _ := f.engine.OpenNote(ctx, "a.md")
	if n.Dirty {
		t.Error("note dirty after save")
	}
	f.assertCacheMatchesDisk(t, "a.md")
}

func TestEngine_SavePolicyAndSnapshots(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.LineEnding = note.LineEndingUnix })
	ctx := context.Background()
	f.write(t, "a.md", "old\n")
	f.scan(t)

	if err := f.engine.SaveNote(ctx, "a.md", "new\r\nlines\r\n"); err != nil {
		t.Fatal(err)
	}
	if got := f.read(t, "a.md"); got != "new\nlines\n" {
		t.Errorf("disk = %q, want unix line endings", got)
	}

	versions, err := f.engine.Trash().ListVersions("a.md")
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 1 {
		t.Fatalf("versions = %d, want 1", len(versions))
	}
	old, err := f.engine.Trash().ReadVersion("a.md", versions[0].ID)
	if err != nil || old != "old\n" {
		t.Errorf("snapshot = %q, %v; want previous content", old, err)
	}

	// Saving the same bytes again takes no snapshot.
	if err := f.engine.SaveNote(ctx, "a.md", "new\nlines\n"); err != nil {
		t.Fatal(err)
	}
	if versions, _ := f.engine.Trash().ListVersions("a.md"); len(versions) != 1 {
		t.Errorf("versions after identical save = %d, want 1", len(versions))
	}
}

func TestEngine_IgnoreExternalPolicyWritesBack(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.write(t, "a.md", "base")
	f.scan(t)
	if err := f.engine.SetConflictPolicy(ctx, resolver.PolicyAlwaysIgnoreExternal); err != nil {
		t.Fatal(err)
	}
	f.engine.OpenNote(ctx, "a.md")
	f.engine.EditNote(ctx, "a.md", "mine")
	f.write(t, "a.md", "theirs")
	f.scan(t)

	if got := f.read(t, "a.md"); got != "mine" {
		t.Errorf("disk = %q, want local edits written back", got)
	}
	if got := f.log.ofType(EventConflict); len(got) != 0 {
		t.Errorf("policy raised a conflict: %+v", got)
	}
	f.assertCacheMatchesDisk(t, "a.md")
}

func TestEngine_RenameAndRemove(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	folder := f.engine.Folder().ID
	f.write(t, "old.md", "content that moves")
	f.scan(t)
	f.engine.OpenNote(ctx, "old.md")
	f.engine.EditNote(ctx, "old.md", "edited")

	if err := os.Rename(note.Abs(f.root, "old.md"), note.Abs(f.root, "new.md")); err != nil {
		t.Fatal(err)
	}
	f.scan(t)

	if _, err := f.engine.Store().GetByPath(ctx, folder, "old.md"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("old path still cached: %v", err)
	}
	f.assertCacheMatchesDisk(t, "new.md")
	renames := f.log.ofType(EventNoteRenamed)
	if len(renames) != 1 || renames[0].OldPath != "old.md" || renames[0].Path != "new.md" {
		t.Errorf("rename events = %+v", renames)
	}
	st, err := f.engine.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"new.md"}, st.Open); diff != "" {
		t.Errorf("open notes after rename (-want +got):\n%s", diff)
	}
	n, _ := f.engine.OpenNote(ctx, "new.md")
	if n.Content != "edited" {
		t.Errorf("edits lost across rename: %q", n.Content)
	}

	if err := os.Remove(note.Abs(f.root, "new.md")); err != nil {
		t.Fatal(err)
	}
	// A removal needs two consecutive misses.
	f.scan(t)
	f.scan(t)
	if _, err := f.engine.Store().GetByPath(ctx, folder, "new.md"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("removed note still cached: %v", err)
	}
	if got := f.log.ofType(EventNoteRemoved); len(got) != 1 || got[0].Message == "" {
		t.Errorf("remove events = %+v, want one flagged as open", got)
	}

	// Saving the open buffer recreates the file.
	if err := f.engine.SaveNote(ctx, "new.md", "edited"); err != nil {
		t.Fatal(err)
	}
	f.assertCacheMatchesDisk(t, "new.md")
}

func TestEngine_EncryptedNotes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.write(t, "secret.md", "the plan")
	f.scan(t)

	if err := f.engine.EncryptNote(ctx, "secret.md"); !errors.Is(err, note.ErrNoPassphrase) {
		t.Fatalf("EncryptNote() while locked error = %v, want ErrNoPassphrase", err)
	}
	if err := f.engine.Unlock(ctx, "hunter2"); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.EncryptNote(ctx, "secret.md"); err != nil {
		t.Fatalf("EncryptNote() failed: %v", err)
	}
	if !note.IsEncrypted(f.read(t, "secret.md")) {
		t.Fatal("file not encrypted")
	}
	f.assertCacheMatchesDisk(t, "secret.md")

	n, err := f.engine.OpenNote(ctx, "secret.md")
	if err != nil {
		t.Fatal(err)
	}
	if n.Content != "the plan" || n.Encryption != note.Encrypted {
		t.Errorf("opened = %q (%v), want plaintext of encrypted note", n.Content, n.Encryption)
	}

	// Saves keep the note encrypted.
	if err := f.engine.SaveNote(ctx, "secret.md", "the new plan"); err != nil {
		t.Fatal(err)
	}
	sealed := f.read(t, "secret.md")
	if got, err := note.Decrypt(sealed, "hunter2"); err != nil || got != "the new plan" {
		t.Errorf("Decrypt(disk) = %q, %v", got, err)
	}

	f.engine.CloseNote(ctx, "secret.md")
	f.engine.Lock(ctx)
	if _, err := f.engine.OpenNote(ctx, "secret.md"); !errors.Is(err, note.ErrNoPassphrase) {
		t.Errorf("OpenNote() while locked error = %v, want ErrNoPassphrase", err)
	}

	f.engine.Unlock(ctx, "hunter2")
	if err := f.engine.DecryptNote(ctx, "secret.md"); err != nil {
		t.Fatal(err)
	}
	if got := f.read(t, "secret.md"); got != "the new plan" {
		t.Errorf("decrypted disk = %q", got)
	}
}

func TestEngine_Status(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.write(t, "a.md", "a")
	f.write(t, "b.md", "b")
	f.scan(t)

	st, err := f.engine.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Notes != 2 || !st.InMemory || st.Policy != resolver.PolicyPrompt || st.Unlocked {
		t.Errorf("Status() = %+v", st)
	}
}

func TestEngine_BeginEditTurnsExternalChangeIntoConflict(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.write(t, "a.md", "base")
	f.scan(t)

	if _, err := f.engine.OpenNote(ctx, "a.md"); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.BeginEdit(ctx, "a.md"); err != nil {
		t.Fatal(err)
	}
	f.write(t, "a.md", "theirs")
	f.scan(t)

	if n := len(f.log.ofType(EventNoteReloaded)); n != 0 {
		t.Errorf("reload events = %d, want none while editing", n)
	}
	pending, err := f.engine.PendingConflicts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Mine != "base" || pending[0].Theirs != "theirs" {
		t.Fatalf("pending = %+v", pending)
	}
	if err := f.engine.BeginEdit(ctx, "closed.md"); err == nil {
		t.Error("BeginEdit() on a note that is not open succeeded")
	}
}
