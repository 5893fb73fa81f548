package engine

import (
	"time"

	"github.com/mschirtzinger/notesync/internal/resolver"
)

// EventType identifies an engine notification.
type EventType string

const (
	EventNoteChanged     EventType = "note_changed"
	EventNoteRemoved     EventType = "note_removed"
	EventNoteRenamed     EventType = "note_renamed"
	EventNoteReloaded    EventType = "note_reloaded"
	EventNoteSaved       EventType = "note_saved"
	EventConflict        EventType = "conflict"
	EventConflictUpdated EventType = "conflict_updated"
	EventConflictCleared EventType = "conflict_cleared"
	EventTrashed         EventType = "trashed"
	EventRestored        EventType = "restored"
	EventDegraded        EventType = "degraded"
	EventError           EventType = "error"
)

// Event is delivered to observers on the engine loop.
type Event struct {
	Type     EventType          `json:"type"`
	Path     string             `json:"path,omitempty"`
	OldPath  string             `json:"old_path,omitempty"`
	Time     time.Time          `json:"time"`
	Message  string             `json:"message,omitempty"`
	Content  string             `json:"-"` // editor content after a reload
	Conflict *resolver.Conflict `json:"conflict,omitempty"`
	Err      error              `json:"-"`
}

// Observer receives engine events. Notify runs on the engine loop and must
// not block.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(e Event) { f(e) }

func (e *Engine) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	for _, o := range e.observers {
		o.Notify(ev)
	}
}

// prompter forwards resolver prompts to the configured prompter and to
// observers.
type prompter struct {
	e    *Engine
	next resolver.Prompter
}

func (p prompter) ConflictRaised(c resolver.Conflict) {
	if p.next != nil {
		p.next.ConflictRaised(c)
	}
	p.e.emit(Event{Type: EventConflict, Path: c.Path, Conflict: &c})
}

func (p prompter) ConflictUpdated(c resolver.Conflict) {
	if p.next != nil {
		p.next.ConflictUpdated(c)
	}
	p.e.emit(Event{Type: EventConflictUpdated, Path: c.Path, Conflict: &c})
}

func (p prompter) ConflictCleared(path string, id int64) {
	if p.next != nil {
		p.next.ConflictCleared(path, id)
	}
	p.e.emit(Event{Type: EventConflictCleared, Path: path})
}
