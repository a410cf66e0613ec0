package dispatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/roadside-assist/internal/observability"
)

// Event is one message pushed to presentation clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	EventRequest  = "request"
	EventTracking = "tracking"
	EventPosition = "position"
	EventSession  = "session"
)

// WSSession represents a connected presentation client
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(ev)
}

// WSRegistry fans events out to every connected client. A client whose
// write fails is dropped.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[*WSSession]struct{}
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{sessions: make(map[*WSSession]struct{}), logger: logger}
}

// Add registers conn and returns its session. The caller owns the read
// side and calls Remove when the client goes away.
func (r *WSRegistry) Add(conn *websocket.Conn) *WSSession {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	r.sessions[s] = struct{}{}
	r.mu.Unlock()
	observability.WSClients.Inc()
	return s
}

func (r *WSRegistry) Remove(s *WSSession) {
	r.mu.Lock()
	_, ok := r.sessions[s]
	delete(r.sessions, s)
	r.mu.Unlock()
	if ok {
		observability.WSClients.Dec()
		_ = s.conn.Close()
	}
}

func (r *WSRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *WSRegistry) Broadcast(ev Event) {
	r.mu.RLock()
	targets := make([]*WSSession, 0, len(r.sessions))
	for s := range r.sessions {
		targets = append(targets, s)
	}
	r.mu.RUnlock()
	for _, s := range targets {
		if err := s.Send(ev); err != nil {
			r.logger.Warn("ws send error", "type", ev.Type, "error", err)
			r.Remove(s)
		}
	}
}

// Close drops every client.
func (r *WSRegistry) Close() {
	r.mu.RLock()
	targets := make([]*WSSession, 0, len(r.sessions))
	for s := range r.sessions {
		targets = append(targets, s)
	}
	r.mu.RUnlock()
	for _, s := range targets {
		r.Remove(s)
	}
}
