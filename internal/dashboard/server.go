// Package dashboard serves a live view of a note folder over WebSocket.
//
// Clients connect to /ws and receive JSON messages: one "stats" greeting,
// the most recent events, then every engine event as it is applied followed
// by refreshed statistics. Clients only listen; anything they send closes
// the connection.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType tells clients how to decode Data.
type MessageType string

const (
	// MessageTypeEvent carries an EventData.
	MessageTypeEvent MessageType = "event"
	// MessageTypeStats carries a StatsData.
	MessageTypeStats MessageType = "stats"
)

// Message is one frame sent to clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

const (
	// clientQueueSize bounds the frames waiting for one client. A client
	// that falls this far behind is disconnected.
	clientQueueSize = 64
	// historySize is how many recent event frames a new client receives.
	historySize  = 32
	writeTimeout = 5 * time.Second
)

// Config holds server configuration.
type Config struct {
	// Host to bind. Empty means 127.0.0.1: the dashboard has no
	// authentication.
	Host string
	// Port to listen on. 0 picks a free port.
	Port   int
	Logger *slog.Logger
}

// DefaultConfig returns the loopback address on port 8080.
func DefaultConfig() *Config {
	return &Config{Host: "127.0.0.1", Port: 8080}
}

// client is one connected listener with its own send queue.
type client struct {
	conn *websocket.Conn
	send chan []byte
	gone chan struct{}
	once sync.Once
}

func (c *client) leave() { c.once.Do(func() { close(c.gone) }) }

// Server fans messages out to WebSocket clients.
type Server struct {
	addr   string
	logger *slog.Logger
	// welcome builds the first frame of each connection.
	welcome func() Message

	listener net.Listener
	http     *http.Server
	incoming chan Message
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.RWMutex
	clients map[*client]struct{}
	history [][]byte
}

// NewServer creates a server. Nothing listens until Start.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	host := config.Host
	if host == "" {
		host = "127.0.0.1"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     net.JoinHostPort(host, fmt.Sprint(config.Port)),
		logger:   logger.With("component", "dashboard"),
		incoming: make(chan Message, 256),
		ctx:      ctx,
		cancel:   cancel,
		clients:  make(map[*client]struct{}),
	}
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	s.wg.Add(2)
	go s.fanOut()
	go func() {
		defer s.wg.Done()
		s.logger.Info("dashboard listening", "addr", ln.Addr().String())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("dashboard server failed", "error", err)
		}
	}()
	return nil
}

// Stop disconnects every client and shuts the listener down.
func (s *Server) Stop() error {
	s.cancel()
	var err error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := s.http.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("dashboard shutdown: %w", serr)
		}
	}
	s.mu.Lock()
	for c := range s.clients {
		s.dropLocked(c)
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("dashboard stopped")
	return err
}

// Broadcast queues msg for every client. It never blocks: when the queue is
// full the message is dropped.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.incoming <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Warn("broadcast queue full, dropping message", "type", msg.Type)
	}
}

func encode(msg Message) ([]byte, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return json.Marshal(msg)
}

// fanOut encodes each message once and hands it to every client queue.
func (s *Server) fanOut() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.incoming:
			frame, err := encode(msg)
			if err != nil {
				s.logger.Warn("failed to encode message", "type", msg.Type, "error", err)
				continue
			}
			s.mu.Lock()
			if msg.Type == MessageTypeEvent {
				s.history = append(s.history, frame)
				if len(s.history) > historySize {
					s.history = s.history[len(s.history)-historySize:]
				}
			}
			for c := range s.clients {
				select {
				case c.send <- frame:
				default:
					s.logger.Warn("client too slow, disconnecting")
					s.dropLocked(c)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Server) dropLocked(c *client) {
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		s.logger.Debug("client disconnected", "clients", len(s.clients))
	}
	c.leave()
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	s.dropLocked(c)
	s.mu.Unlock()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{
		conn: conn,
		send: make(chan []byte, clientQueueSize),
		gone: make(chan struct{}),
	}

	greeting := Message{Type: MessageTypeStats}
	if s.welcome != nil {
		greeting = s.welcome()
	}
	if frame, err := encode(greeting); err == nil {
		c.send <- frame
	}
	// History and registration happen under one lock so that every event
	// reaches the client exactly once.
	s.mu.Lock()
	for _, frame := range s.history {
		c.send <- frame
	}
	s.clients[c] = struct{}{}
	s.logger.Debug("client connected", "clients", len(s.clients))
	s.mu.Unlock()

	s.wg.Add(1)
	go s.writeLoop(c)

	// Clients are listen-only; CloseRead ends the connection on any data.
	readCtx := conn.CloseRead(s.ctx)
	select {
	case <-readCtx.Done():
	case <-c.gone:
	}
	s.drop(c)
}

func (s *Server) writeLoop(c *client) {
	defer s.wg.Done()
	for {
		select {
		case <-c.gone:
			_ = c.conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-s.ctx.Done():
			_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case frame := <-c.send:
			ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				s.logger.Debug("write to client failed", "error", err)
				s.drop(c)
				_ = c.conn.CloseNow()
				return
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>notesync</title></head>
<body>
<h1>notesync</h1>
<p>Events: <code>ws://%s/ws</code> &middot; <a href="/health">health</a></p>
<pre id="log"></pre>
<script>
const log = document.getElementById("log");
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = (m) => { log.textContent = m.data + "\n" + log.textContent; };
</script>
</body>
</html>`, r.Host)
}

// GetAddr returns the listening address, or the configured one before Start.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
