// Package remotetest provides an in-memory note server speaking the remote
// API. Tests run it under httptest; `notesync remote serve-dev` runs it for
// trying remote features against a local folder.
package remotetest

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Options controls which optional components the server offers and which
// credentials it accepts. Empty credentials accept any request.
type Options struct {
	Username string
	Password string
	Token    string

	DisableVersions bool
	DisableTrash    bool
	// NoCapabilities makes the capability endpoint return 404, as a server
	// without the optional component does.
	NoCapabilities bool
	// RequestLog, when true, logs each request through chi's logger.
	RequestLog bool
}

type version struct {
	ID        string
	Path      string
	Timestamp time.Time
	Label     string
	Content   string
}

type trashed struct {
	ID        string
	Path      string
	DeletedAt time.Time
	Content   string
}

// Server is a fake note server. It is safe for concurrent use.
type Server struct {
	opts   Options
	router *chi.Mux

	mu       sync.Mutex
	versions map[string][]version
	trash    map[string]trashed
	restored []string
	requests int
	nextID   int
}

// New creates a server with no data.
func New(opts Options) *Server {
	s := &Server{
		opts:     opts,
		router:   chi.NewRouter(),
		versions: make(map[string][]version),
		trash:    make(map[string]trashed),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	if s.opts.RequestLog {
		s.router.Use(middleware.Logger)
	}
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.countRequests)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/capabilities", s.capabilitiesHandler)

		r.Route("/versions", func(r chi.Router) {
			r.Use(s.requireComponent(func() bool { return !s.opts.DisableVersions }))
			r.Get("/", s.listVersionsHandler)
			r.Get("/content", s.versionContentHandler)
		})

		r.Route("/trash", func(r chi.Router) {
			r.Use(s.requireComponent(func() bool { return !s.opts.DisableTrash }))
			r.Get("/", s.listTrashHandler)
			r.Get("/content", s.trashContentHandler)
			r.Post("/restore", s.restoreTrashHandler)
		})
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// AddVersion records a revision of path and returns its id.
func (s *Server) AddVersion(path, label, content string, at time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("v%d", s.nextID)
	s.versions[path] = append(s.versions[path], version{ID: id, Path: path, Timestamp: at, Label: label, Content: content})
	return id
}

// AddTrash puts a deleted note into the server trash and returns its id.
func (s *Server) AddTrash(path, content string, deletedAt time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("t%d", s.nextID)
	s.trash[id] = trashed{ID: id, Path: path, DeletedAt: deletedAt, Content: content}
	return id
}

// Restored returns the ids clients reported as restored.
func (s *Server) Restored() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.restored...)
}

// Requests returns how many requests the server has handled.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token == "" && s.opts.Username == "" {
			next.ServeHTTP(w, r)
			return
		}

		if s.opts.Token != "" {
			authHeader := r.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && parts[0] == "Bearer" && secureEqual(parts[1], s.opts.Token) {
				next.ServeHTTP(w, r)
				return
			}
		}
		if s.opts.Username != "" {
			user, pass, ok := r.BasicAuth()
			if ok && secureEqual(user, s.opts.Username) && secureEqual(pass, s.opts.Password) {
				next.ServeHTTP(w, r)
				return
			}
		}
		jsonError(w, "invalid credentials", "", http.StatusUnauthorized)
	})
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) requireComponent(enabled func() bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled() {
				http.NotFound(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) capabilitiesHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.NoCapabilities {
		http.NotFound(w, r)
		return
	}
	jsonResponse(w, map[string]any{
		"api_version": "1",
		"versions":    !s.opts.DisableVersions,
		"trash":       !s.opts.DisableTrash,
	}, http.StatusOK)
}

func (s *Server) listVersionsHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		jsonError(w, "path is required", "", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	versions := append([]version(nil), s.versions[path]...)
	s.mu.Unlock()

	sort.Slice(versions, func(i, j int) bool { return versions[i].Timestamp.After(versions[j].Timestamp) })
	out := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		out = append(out, map[string]any{
			"id":        v.ID,
			"path":      v.Path,
			"timestamp": v.Timestamp.Unix(),
			"label":     v.Label,
		})
	}
	jsonResponse(w, map[string]any{"versions": out}, http.StatusOK)
}

func (s *Server) versionContentHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	id := r.URL.Query().Get("id")

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions[path] {
		if v.ID == id {
			jsonResponse(w, map[string]string{"content": v.Content}, http.StatusOK)
			return
		}
	}
	jsonError(w, "version not found", "not_found", http.StatusNotFound)
}

func (s *Server) listTrashHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	entries := make([]trashed, 0, len(s.trash))
	for _, t := range s.trash {
		entries = append(entries, t)
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].DeletedAt.After(entries[j].DeletedAt) })
	out := make([]map[string]any, 0, len(entries))
	for _, t := range entries {
		out = append(out, map[string]any{
			"id":         t.ID,
			"path":       t.Path,
			"deleted_at": t.DeletedAt.Unix(),
			"size":       len(t.Content),
		})
	}
	jsonResponse(w, map[string]any{"entries": out}, http.StatusOK)
}

func (s *Server) trashContentHandler(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")

	s.mu.Lock()
	t, ok := s.trash[id]
	s.mu.Unlock()
	if !ok {
		jsonError(w, "trash entry not found", "not_found", http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]string{"content": t.Content}, http.StatusOK)
}

func (s *Server) restoreTrashHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		jsonError(w, "invalid request body", "", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trash[req.ID]; !ok {
		jsonError(w, "trash entry not found", "not_found", http.StatusNotFound)
		return
	}
	delete(s.trash, req.ID)
	s.restored = append(s.restored, req.ID)
	jsonResponse(w, map[string]string{"status": "restored"}, http.StatusOK)
}

func jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, message, code string, status int) {
	body := map[string]string{"error": message}
	if code != "" {
		body["code"] = code
	}
	jsonResponse(w, body, status)
}
