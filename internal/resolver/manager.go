package resolver

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mschirtzinger/notesync/internal/note"
)

// Resolver is the surface the editor talks to. It carries no knowledge of
// editor widgets: only paths and content cross it.
type Resolver interface {
	NotifyEditStarted(path string) error
	NotifyEdit(path, content string) error
	NotifyExternalChange(path, newContent string) (Outcome, error)
	Resolve(path string, choice Choice) (Action, error)
	NotifySaved(path, content string) error
	Settle(path, diskContent string) error
}

// Prompter is told about conflicts that need a user decision. Calls arrive
// on the goroutine that drives the Manager and must not block; a prompter
// that shows UI hands the conflict off and later calls Resolve.
type Prompter interface {
	// ConflictRaised opens the prompt for a new conflict.
	ConflictRaised(c Conflict)
	// ConflictUpdated replaces the content of the prompt already showing
	// for c.ID.
	ConflictUpdated(c Conflict)
	// ConflictCleared closes the prompt for path without a user decision
	// (the sides converged) or after one.
	ConflictCleared(path string, id int64)
}

// Outcome tells the caller what an external change means for the editor.
type Outcome struct {
	Kind OutcomeKind
	// Content is what the editor should now show, or for KeptMine what
	// must be written back to disk.
	Content string
	// Save is set when the caller has to write Content to disk.
	Save     bool
	Conflict *Conflict
}

// Action is the result of a user decision on a conflict.
type Action struct {
	Choice  Choice
	Content string
	// Save is set for KeepMine: the caller writes Content and then calls
	// NotifySaved.
	Save  bool
	Diff  []DiffLine
	State State
}

// Config configures a Manager.
type Config struct {
	Policy   Policy
	Prompter Prompter
	// OnTransition, if set, observes every state change including the
	// transient ModifiedExternally.
	OnTransition func(path string, from, to State)
	Logger       *slog.Logger
	Now          func() time.Time
}

// Manager implements Resolver over one Session per open note. It is not
// safe for concurrent use; the engine drives it from its loop goroutine.
type Manager struct {
	sessions map[string]*Session
	policy   Policy
	prompter Prompter
	onChange func(path string, from, to State)
	logger   *slog.Logger
	now      func() time.Time
	nextID   int64
}

var _ Resolver = (*Manager)(nil)

// NewManager creates a Manager with no open notes.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		sessions: make(map[string]*Session),
		policy:   cfg.Policy,
		prompter: cfg.Prompter,
		onChange: cfg.OnTransition,
		logger:   logger.With("component", "resolver"),
		now:      now,
	}
}

// Policy returns the active conflict policy.
func (m *Manager) Policy() Policy { return m.policy }

// SetPolicy changes the policy for the rest of the session. Conflicts
// already pending stay pending until the user decides.
func (m *Manager) SetPolicy(p Policy) {
	m.logger.Info("conflict policy changed", "from", m.policy, "to", p)
	m.policy = p
}

// Open starts a session for path with content as read from disk. Opening an
// already open note returns the existing session unchanged.
func (m *Manager) Open(path, content string) *Session {
	if s, ok := m.sessions[path]; ok {
		return s
	}
	s := newSession(path, content, m.now())
	m.sessions[path] = s
	return s
}

// Close drops the session for path. A pending conflict is abandoned; the
// disk side wins because nothing was written.
func (m *Manager) Close(path string) {
	s, ok := m.sessions[path]
	if !ok {
		return
	}
	if s.conflict != nil && m.prompter != nil {
		m.prompter.ConflictCleared(path, s.conflict.ID)
	}
	delete(m.sessions, path)
}

// Session returns the session for path.
func (m *Manager) Session(path string) (*Session, bool) {
	s, ok := m.sessions[path]
	return s, ok
}

// IsOpen reports whether path has a session.
func (m *Manager) IsOpen(path string) bool {
	_, ok := m.sessions[path]
	return ok
}

// OpenPaths lists open note paths in sorted order.
func (m *Manager) OpenPaths() []string {
	out := make([]string, 0, len(m.sessions))
	for p := range m.sessions {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Pending lists the conflicts waiting for a decision, ordered by path.
func (m *Manager) Pending() []Conflict {
	var out []Conflict
	for _, p := range m.OpenPaths() {
		if c := m.sessions[p].conflict; c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// Rekey follows a rename: the session for oldPath continues under newPath.
func (m *Manager) Rekey(oldPath, newPath string) bool {
	s, ok := m.sessions[oldPath]
	if !ok {
		return false
	}
	if _, taken := m.sessions[newPath]; taken {
		return false
	}
	delete(m.sessions, oldPath)
	s.path = newPath
	if s.conflict != nil {
		s.conflict.Path = newPath
	}
	m.sessions[newPath] = s
	return true
}

func (m *Manager) session(path string) (*Session, error) {
	s, ok := m.sessions[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotOpen)
	}
	return s, nil
}

func (m *Manager) transition(s *Session, to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	m.logger.Debug("state transition", "path", s.path, "from", from, "to", to)
	if m.onChange != nil {
		m.onChange(s.path, from, to)
	}
}

// NotifyEditStarted marks path as having local edits.
func (m *Manager) NotifyEditStarted(path string) error {
	s, err := m.session(path)
	if err != nil {
		return err
	}
	if s.state == Clean {
		m.transition(s, EditedLocally)
	}
	return nil
}

// NotifyEdit records the current editor buffer. Typing back to exactly the
// disk content returns a Clean session to Clean.
func (m *Manager) NotifyEdit(path, content string) error {
	s, err := m.session(path)
	if err != nil {
		return err
	}
	s.buffer = content
	switch s.state {
	case Clean:
		if s.Dirty() {
			m.transition(s, EditedLocally)
		}
	case EditedLocally:
		if !s.Dirty() {
			m.transition(s, Clean)
		}
	case ConflictPending:
		s.conflict.Mine = content
		s.conflict.UpdatedAt = m.now()
	}
	return nil
}

// NotifyExternalChange handles new disk content for an open note.
func (m *Manager) NotifyExternalChange(path, newContent string) (Outcome, error) {
	s, err := m.session(path)
	if err != nil {
		return Outcome{}, err
	}

	switch s.state {
	case ConflictPending:
		return m.updateConflict(s, newContent), nil
	case Resolved:
		if s.awaitingSave {
			return m.externalOverEdits(s, newContent), nil
		}
		return m.reload(s, newContent), nil
	case EditedLocally:
		return m.externalOverEdits(s, newContent), nil
	default:
		return m.reload(s, newContent), nil
	}
}

// reload handles a change on a note with no local edits.
func (m *Manager) reload(s *Session, newContent string) Outcome {
	if newContent == s.base && newContent == s.buffer {
		m.transition(s, Clean)
		return Outcome{Kind: Noop, Content: s.buffer}
	}
	m.transition(s, ModifiedExternally)
	s.base = newContent
	s.buffer = newContent
	s.awaitingSave = false
	m.transition(s, Clean)
	return Outcome{Kind: Reloaded, Content: newContent}
}

// externalOverEdits handles a change on a note with unsaved edits.
func (m *Manager) externalOverEdits(s *Session, newContent string) Outcome {
	if newContent == s.base {
		return Outcome{Kind: Noop, Content: s.buffer}
	}
	if note.Equivalent(s.buffer, newContent) {
		s.base = newContent
		s.buffer = newContent
		s.awaitingSave = false
		m.transition(s, Clean)
		m.logger.Info("external change matches local edits", "path", s.path)
		return Outcome{Kind: AutoResolved, Content: newContent}
	}

	switch m.policy {
	case PolicyAlwaysAcceptExternal:
		m.logger.Info("discarding local edits by policy", "path", s.path)
		s.base = newContent
		s.buffer = newContent
		s.awaitingSave = false
		m.transition(s, Clean)
		return Outcome{Kind: AcceptedTheirs, Content: newContent}
	case PolicyAlwaysIgnoreExternal:
		m.logger.Info("keeping local edits by policy", "path", s.path)
		s.base = newContent
		s.awaitingSave = true
		m.transition(s, Resolved)
		return Outcome{Kind: KeptMine, Content: s.buffer, Save: true}
	}

	m.nextID++
	now := m.now()
	s.conflict = &Conflict{
		ID:         m.nextID,
		Path:       s.path,
		Mine:       s.buffer,
		Theirs:     newContent,
		Base:       s.base,
		Generation: 1,
		DetectedAt: now,
		UpdatedAt:  now,
	}
	s.awaitingSave = false
	m.transition(s, ConflictPending)
	m.logger.Warn("conflict detected", "path", s.path, "conflict", s.conflict.ID)
	if m.prompter != nil {
		m.prompter.ConflictRaised(*s.conflict)
	}
	return Outcome{Kind: ConflictRaised, Content: s.buffer, Conflict: s.Conflict()}
}

// updateConflict coalesces a further external change into the pending
// conflict.
func (m *Manager) updateConflict(s *Session, newContent string) Outcome {
	c := s.conflict
	if newContent == c.Theirs {
		return Outcome{Kind: Noop, Content: s.buffer, Conflict: s.Conflict()}
	}
	if note.Equivalent(s.buffer, newContent) {
		id := c.ID
		s.conflict = nil
		s.base = newContent
		s.buffer = newContent
		m.transition(s, Resolved)
		m.transition(s, Clean)
		m.logger.Info("conflict cleared, sides converged", "path", s.path, "conflict", id)
		if m.prompter != nil {
			m.prompter.ConflictCleared(s.path, id)
		}
		return Outcome{Kind: AutoResolved, Content: newContent}
	}

	c.Theirs = newContent
	c.Generation++
	c.UpdatedAt = m.now()
	m.logger.Info("conflict updated", "path", s.path, "conflict", c.ID, "generation", c.Generation)
	if m.prompter != nil {
		m.prompter.ConflictUpdated(*c)
	}
	return Outcome{Kind: ConflictUpdated, Content: s.buffer, Conflict: s.Conflict()}
}

// Resolve applies a user decision to the pending conflict on path.
func (m *Manager) Resolve(path string, choice Choice) (Action, error) {
	s, err := m.session(path)
	if err != nil {
		return Action{}, err
	}
	c := s.conflict
	if c == nil || s.state != ConflictPending {
		return Action{}, fmt.Errorf("%s: %w", path, ErrNoConflict)
	}

	switch choice {
	case ViewDiff:
		return Action{Choice: choice, Diff: LineDiff(c.Mine, c.Theirs), State: s.state}, nil
	case KeepMine:
		s.conflict = nil
		s.base = c.Theirs
		s.awaitingSave = true
		m.transition(s, Resolved)
		m.logger.Info("conflict resolved", "path", path, "conflict", c.ID, "choice", choice)
		if m.prompter != nil {
			m.prompter.ConflictCleared(path, c.ID)
		}
		return Action{Choice: choice, Content: s.buffer, Save: true, State: s.state}, nil
	case AcceptTheirs:
		s.conflict = nil
		s.base = c.Theirs
		s.buffer = c.Theirs
		s.awaitingSave = false
		m.transition(s, Resolved)
		m.logger.Info("conflict resolved", "path", path, "conflict", c.ID, "choice", choice)
		if m.prompter != nil {
			m.prompter.ConflictCleared(path, c.ID)
		}
		return Action{Choice: choice, Content: c.Theirs, State: s.state}, nil
	default:
		return Action{}, fmt.Errorf("%v: %w", choice, ErrUnknownChoice)
	}
}

// CanSave reports whether path may be written now. It fails with
// ErrConflictUnresolved while a conflict is pending.
func (m *Manager) CanSave(path string) error {
	s, ok := m.sessions[path]
	if !ok {
		return nil
	}
	if s.state == ConflictPending {
		return fmt.Errorf("%s: %w", path, ErrConflictUnresolved)
	}
	return nil
}

// NotifySaved records that content is now on disk for path.
func (m *Manager) NotifySaved(path, content string) error {
	s, err := m.session(path)
	if err != nil {
		return err
	}
	if s.state == ConflictPending {
		return fmt.Errorf("%s: %w", path, ErrConflictUnresolved)
	}
	s.base = content
	s.awaitingSave = false
	if s.Dirty() {
		m.transition(s, EditedLocally)
	} else {
		m.transition(s, Clean)
	}
	return nil
}

// Settle records diskContent as what is on disk once an accept-theirs
// decision has been applied to the editor. It also returns a Resolved
// session to Clean when the caller confirms the disk without saving.
func (m *Manager) Settle(path, diskContent string) error {
	s, err := m.session(path)
	if err != nil {
		return err
	}
	if s.state == ConflictPending {
		return fmt.Errorf("%s: %w", path, ErrConflictUnresolved)
	}
	s.base = diskContent
	if s.state == Resolved && s.awaitingSave && s.Dirty() {
		return nil
	}
	s.awaitingSave = false
	if s.Dirty() {
		m.transition(s, EditedLocally)
	} else {
		m.transition(s, Clean)
	}
	return nil
}
