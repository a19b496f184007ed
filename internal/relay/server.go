package relay

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/huddlekit/huddle/pkg/transport"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server exposes the relay over HTTP: WebSocket sessions on /ws and a
// health probe on /healthz.
type Server struct {
	hub    *Hub
	server *http.Server
}

// NewServer creates a relay server with an empty hub.
func NewServer() *Server {
	return &Server{hub: NewHub()}
}

// Handler returns the relay's HTTP handler. Exposed separately so tests can
// mount it on httptest servers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

// Start serves the relay on addr in the background.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 0, // WebSocket connections are long-lived
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("relay: server error: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleHealthz reports liveness and the current room count.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.hub.mu.Lock()
	rooms := len(s.hub.rooms)
	s.hub.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"status": "healthy", "rooms": rooms})
}

// handleWS upgrades the connection, joins the session room, sends the
// welcome frame, and pumps frames until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	if session == "" {
		http.Error(w, "missing session parameter", http.StatusBadRequest)
		return
	}
	nickname := r.URL.Query().Get("nickname")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relay: upgrade failed: %v", err)
		return
	}

	m, snapshot := s.hub.join(session, nickname, conn)
	room := s.hub.room(session)

	// The welcome frame must be the first thing on the wire. The write pump
	// is not running yet, so writing directly here cannot interleave.
	welcome := transport.Frame{Type: transport.FrameWelcome, ClientID: m.id, Snapshot: snapshot}
	if err := conn.WriteJSON(welcome); err != nil {
		log.Printf("relay: failed to welcome %s: %v", m.id, err)
		s.hub.leave(session, m)
		conn.Close()
		return
	}

	go m.writePump()
	s.readPump(session, room, m)
}

func (s *Server) readPump(session string, r *room, m *member) {
	defer func() {
		s.hub.leave(session, m)
		m.conn.Close()
	}()

	for {
		var f transport.Frame
		if err := m.conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("relay: member %s disconnected: %v", m.id, err)
			}
			return
		}
		if err := f.Validate(); err != nil {
			log.Printf("relay: dropping invalid frame from %s: %v", m.id, err)
			continue
		}

		switch f.Type {
		case transport.FrameUpdate:
			r.handleUpdate(*f.Update)
		case transport.FramePresence:
			r.handlePresence(*f.Presence)
		default:
			// Clients never send welcome frames; drop anything else.
		}
	}
}

func (m *member) writePump() {
	for f := range m.send {
		m.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := m.conn.WriteJSON(f); err != nil {
			log.Printf("relay: write to member %s failed: %v", m.id, err)
			m.conn.Close()
			// Keep draining so the sender never blocks; the read pump's exit
			// removes us from the room and closes this channel.
			for range m.send {
			}
			return
		}
	}
}
