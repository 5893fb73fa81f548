package engine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mschirtzinger/notesync/internal/note"
)

// eventLog records engine events for assertions.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Notify(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofType(t EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	root   string
	engine *Engine
	log    *eventLog
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture starts a passive engine with an in-memory cache over a fresh
// folder. Tests drive change detection with Scan.
func newFixture(t *testing.T, configure func(*Config)) *fixture {
	t.Helper()
	root := t.TempDir()
	log := &eventLog{}

	cfg := DefaultConfig(root)
	cfg.Memory = true
	cfg.Passive = true
	cfg.Logger = quietLogger()
	cfg.Observers = []Observer{log}
	if configure != nil {
		configure(&cfg)
	}

	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() {
		if err := e.Stop(); err != nil {
			t.Errorf("Stop() failed: %v", err)
		}
	})
	return &fixture{root: e.Root(), engine: e, log: log}
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	abs := note.Abs(f.root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(note.Abs(f.root, rel))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func (f *fixture) scan(t *testing.T) {
	t.Helper()
	if _, err := f.engine.Scan(context.Background()); err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
}

// assertCacheMatchesDisk checks that the cached fingerprint of rel is the
// fingerprint of the file on disk.
func (f *fixture) assertCacheMatchesDisk(t *testing.T, rel string) {
	t.Helper()
	ctx := context.Background()
	n, err := f.engine.Store().GetByPath(ctx, f.engine.Folder().ID, rel)
	if err != nil {
		t.Fatalf("GetByPath(%s) failed: %v", rel, err)
	}
	if want := note.Fingerprint([]byte(f.read(t, rel))); n.Fingerprint != want {
		t.Errorf("cached fingerprint of %s = %s, disk = %s", rel, note.Short(n.Fingerprint), note.Short(want))
	}
}
