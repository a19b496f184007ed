// Package relay implements the Huddle WebSocket relay: a small fan-out
// server that groups connections into session rooms, assigns client ids,
// and rebroadcasts every update and presence frame to all room members,
// the sender included. The relay keeps the latest update per key so late
// joiners receive a state snapshot in their welcome frame. Nothing survives
// the last member leaving a room.
package relay

import (
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/huddlekit/huddle/pkg/statestore"
	"github.com/huddlekit/huddle/pkg/transport"
)

// memberSendBuffer bounds each member's outbound queue. Frames to a member
// that cannot keep up are dropped; the merge rule absorbs the loss.
const memberSendBuffer = 64

// Hub owns all session rooms.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

type room struct {
	name string

	mu      sync.Mutex
	members map[string]*member
	latest  map[string]statestore.Update
}

type member struct {
	id       string
	nickname string
	conn     *websocket.Conn
	send     chan transport.Frame
}

// join registers a new connection in the named room, creating it on first
// use. It returns the member and a snapshot of the room's state taken
// atomically with registration, so no broadcast is lost in between.
func (h *Hub) join(session, nickname string, conn *websocket.Conn) (*member, []statestore.Update) {
	h.mu.Lock()
	r, ok := h.rooms[session]
	if !ok {
		r = &room{
			name:    session,
			members: make(map[string]*member),
			latest:  make(map[string]statestore.Update),
		}
		h.rooms[session] = r
	}
	h.mu.Unlock()

	m := &member{
		id:       uuid.New().String(),
		nickname: nickname,
		conn:     conn,
		send:     make(chan transport.Frame, memberSendBuffer),
	}

	r.mu.Lock()
	snapshot := make([]statestore.Update, 0, len(r.latest))
	for _, u := range r.latest {
		snapshot = append(snapshot, u)
	}
	r.members[m.id] = m
	r.mu.Unlock()

	return m, snapshot
}

// leave removes a member, clears its ephemeral values, announces the
// departure, and deletes the room when it empties.
func (h *Hub) leave(session string, m *member) {
	r := h.room(session)
	if r == nil {
		return
	}

	r.mu.Lock()
	if _, ok := r.members[m.id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.members, m.id)
	close(m.send)
	r.dropOwnedLocked(m.id)
	empty := len(r.members) == 0
	r.mu.Unlock()

	if empty {
		h.mu.Lock()
		// Re-check under the hub lock: a join may have raced the removal.
		r.mu.Lock()
		if len(r.members) == 0 {
			delete(h.rooms, session)
		}
		r.mu.Unlock()
		h.mu.Unlock()
		return
	}

	r.broadcast(transport.Frame{
		Type:     transport.FramePresence,
		Presence: &transport.PresenceEvent{ClientID: m.id, Nickname: m.nickname, Kind: transport.PresenceLeft},
	})
}

func (h *Hub) room(session string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[session]
}

// handleUpdate merges an update into the room's latest-per-key state and
// fans it out to every member, the sender included. Merging server-side uses
// the same last-writer-wins rule as the clients, so the snapshot handed to
// late joiners agrees with what live members converge to.
func (r *room) handleUpdate(u statestore.Update) {
	r.mu.Lock()
	cur, ok := r.latest[u.Key]
	if !ok || wins(u, cur) {
		r.latest[u.Key] = u
	}
	r.mu.Unlock()

	r.broadcast(transport.Frame{Type: transport.FrameUpdate, Update: &u})
}

// handlePresence fans a presence event out to every member. An explicit
// left event also clears the client's ephemeral values from the snapshot.
func (r *room) handlePresence(ev transport.PresenceEvent) {
	if ev.Kind == transport.PresenceLeft {
		r.mu.Lock()
		r.dropOwnedLocked(ev.ClientID)
		r.mu.Unlock()
	}
	r.broadcast(transport.Frame{Type: transport.FramePresence, Presence: &ev})
}

// dropOwnedLocked removes clientID's ephemeral values from the snapshot
// state. Caller must hold r.mu.
func (r *room) dropOwnedLocked(clientID string) {
	for key := range r.latest {
		if owner, ok := statestore.EphemeralOwner(key); ok && owner == clientID {
			delete(r.latest, key)
		}
	}
}

func (r *room) broadcast(f transport.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		select {
		case m.send <- f:
		default:
			log.Printf("relay: dropping frame for slow member %s in room %s", m.id, r.name)
		}
	}
}

// wins reports whether update a beats update b under the store's merge rule.
func wins(a, b statestore.Update) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.ClientID > b.ClientID
}
