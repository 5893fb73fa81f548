package resolver

import "time"

// Conflict is the pending disagreement between the editor buffer and disk.
// Repeated external changes update it in place: the ID stays the same and
// Generation increases.
type Conflict struct {
	ID         int64
	Path       string
	Mine       string // editor buffer
	Theirs     string // latest disk content
	Base       string // disk content the edits started from
	Generation int
	DetectedAt time.Time
	UpdatedAt  time.Time
}

// Session is the state of one open note window.
type Session struct {
	path     string
	state    State
	base     string
	buffer   string
	conflict *Conflict

	// awaitingSave is set while Resolved after a keep-mine decision: the
	// disk still holds theirs until the caller saves the buffer.
	awaitingSave bool

	openedAt time.Time
}

func newSession(path, content string, now time.Time) *Session {
	return &Session{
		path:     path,
		state:    Clean,
		base:     content,
		buffer:   content,
		openedAt: now,
	}
}

// Path returns the note path the session is keyed by.
func (s *Session) Path() string { return s.path }

// State returns the current state.
func (s *Session) State() State { return s.state }

// Buffer returns the in-memory content.
func (s *Session) Buffer() string { return s.buffer }

// Base returns the content last known to be on disk.
func (s *Session) Base() string { return s.base }

// Dirty reports whether the buffer holds edits not yet on disk.
func (s *Session) Dirty() bool { return s.buffer != s.base }

// OpenedAt returns when the note was opened.
func (s *Session) OpenedAt() time.Time { return s.openedAt }

// Conflict returns a copy of the pending conflict, or nil.
func (s *Session) Conflict() *Conflict {
	if s.conflict == nil {
		return nil
	}
	c := *s.conflict
	return &c
}
