package dashboard

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/mschirtzinger/notesync/internal/engine"
)

// EventData is the payload of a MessageTypeEvent message. ConflictID and
// Generation identify the prompt a conflict event belongs to.
type EventData struct {
	Type       engine.EventType `json:"type"`
	Path       string           `json:"path,omitempty"`
	OldPath    string           `json:"old_path,omitempty"`
	Message    string           `json:"message,omitempty"`
	Error      string           `json:"error,omitempty"`
	ConflictID int64            `json:"conflict_id,omitempty"`
	Generation int              `json:"generation,omitempty"`
}

// StatsData contains running counts since the dashboard started.
type StatsData struct {
	Notes     int  `json:"notes"`
	Changed   int  `json:"changed"`
	Removed   int  `json:"removed"`
	Renamed   int  `json:"renamed"`
	Saved     int  `json:"saved"`
	Trashed   int  `json:"trashed"`
	Restored  int  `json:"restored"`
	Conflicts int  `json:"conflicts"` // currently pending
	Errors    int  `json:"errors"`
	Degraded  bool `json:"degraded"`
}

// Handler turns engine events into dashboard messages. It implements
// engine.Observer and is safe to call from the engine loop: it never blocks.
type Handler struct {
	server *Server
	logger *slog.Logger

	mu    sync.Mutex
	stats StatsData
}

var _ engine.Observer = (*Handler)(nil)

// NewHandler creates a new event handler connected to a dashboard server.
// New clients are greeted with the current statistics.
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{server: server, logger: logger.With("component", "dashboard")}
	server.welcome = h.statsMessage
	return h
}

// Notify implements engine.Observer.
func (h *Handler) Notify(ev engine.Event) {
	h.count(ev)

	data := EventData{
		Type:    ev.Type,
		Path:    ev.Path,
		OldPath: ev.OldPath,
		Message: ev.Message,
	}
	if ev.Err != nil {
		data.Error = ev.Err.Error()
	}
	if ev.Conflict != nil {
		data.ConflictID = ev.Conflict.ID
		data.Generation = ev.Conflict.Generation
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Warn("failed to marshal event", "error", err)
		return
	}

	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	h.server.Broadcast(Message{Type: MessageTypeEvent, Timestamp: ts, Data: dataJSON})
	h.server.Broadcast(h.statsMessage())
}

func (h *Handler) count(ev engine.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch ev.Type {
	case engine.EventNoteChanged:
		h.stats.Changed++
	case engine.EventNoteRemoved:
		h.stats.Removed++
	case engine.EventNoteRenamed:
		h.stats.Renamed++
	case engine.EventNoteSaved:
		h.stats.Saved++
	case engine.EventTrashed:
		h.stats.Trashed++
	case engine.EventRestored:
		h.stats.Restored++
	case engine.EventConflict:
		h.stats.Conflicts++
	case engine.EventConflictCleared:
		if h.stats.Conflicts > 0 {
			h.stats.Conflicts--
		}
	case engine.EventError:
		h.stats.Errors++
	case engine.EventDegraded:
		h.stats.Degraded = true
	}
}

// UpdateStats replaces the folder-wide numbers from an engine status, for
// initialization or periodic refresh.
func (h *Handler) UpdateStats(st engine.Status) {
	h.mu.Lock()
	h.stats.Notes = st.Notes
	h.stats.Conflicts = len(st.Pending)
	h.stats.Degraded = h.stats.Degraded || st.InMemory
	h.mu.Unlock()
	h.server.Broadcast(h.statsMessage())
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) statsMessage() Message {
	stats := h.GetStats()
	dataJSON, err := json.Marshal(stats)
	if err != nil {
		h.logger.Warn("failed to marshal stats", "error", err)
	}
	return Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: dataJSON}
}
