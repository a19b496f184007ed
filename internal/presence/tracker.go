// Package presence maintains the live roster of a session: which clients
// are connected, their nicknames, and their liveness. The tracker holds no
// shared state of its own beyond the roster; every derived view (hover
// sets, cursors) is recomputed from the session's value store.
package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/huddlekit/huddle/pkg/statestore"
	"github.com/huddlekit/huddle/pkg/transport"
)

// DefaultTimeout is how long a client may miss heartbeats before eviction.
const DefaultTimeout = 30 * time.Second

// Entry is one client's presence record.
type Entry struct {
	ClientID  string
	Nickname  string
	FirstSeen time.Time
	LastSeen  time.Time
}

// Tracker maintains the roster for one session. It is fed presence events
// from the transport via Apply and evicts silent clients after the
// configured timeout. Safe for concurrent use.
type Tracker struct {
	store   *statestore.Store
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]*Entry
	order   []string

	now func() time.Time // test hook
}

// New creates a tracker over the session's store. A non-positive timeout
// falls back to DefaultTimeout.
func New(store *statestore.Store, timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{
		store:   store,
		timeout: timeout,
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// Apply feeds one transport presence event into the roster.
func (t *Tracker) Apply(ev transport.PresenceEvent) {
	switch ev.Kind {
	case transport.PresenceJoined:
		t.Join(ev.ClientID, ev.Nickname)
	case transport.PresenceHeartbeat:
		t.Heartbeat(ev.ClientID, ev.Nickname)
	case transport.PresenceLeft:
		t.Leave(ev.ClientID)
	}
}

// Join registers a client. Repeat joins are idempotent: they refresh
// liveness and pick up a changed nickname, but keep the first-seen order.
func (t *Tracker) Join(clientID, nickname string) {
	if clientID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touchLocked(clientID, nickname)
}

// Heartbeat refreshes a client's liveness, auto-registering unknown clients
// so a heartbeat that outruns its join event is not lost.
func (t *Tracker) Heartbeat(clientID, nickname string) {
	if clientID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touchLocked(clientID, nickname)
}

func (t *Tracker) touchLocked(clientID, nickname string) {
	now := t.now()
	if e, ok := t.entries[clientID]; ok {
		e.LastSeen = now
		if nickname != "" {
			e.Nickname = nickname
		}
		return
	}
	t.entries[clientID] = &Entry{
		ClientID:  clientID,
		Nickname:  nickname,
		FirstSeen: now,
		LastSeen:  now,
	}
	t.order = append(t.order, clientID)
}

// Leave removes a client and every ephemeral value it owns. A leave for an
// unknown client is a no-op, so duplicate left events are harmless.
func (t *Tracker) Leave(clientID string) {
	t.mu.Lock()
	_, ok := t.entries[clientID]
	if ok {
		delete(t.entries, clientID)
		for i, id := range t.order {
			if id == clientID {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
	}
	t.mu.Unlock()

	if ok {
		t.store.DropOwned(clientID)
	}
}

// Roster returns a snapshot of presence entries in first-seen order.
func (t *Tracker) Roster() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.entries[id])
	}
	return out
}

// IsPresent reports whether a client is currently on the roster.
func (t *Tracker) IsPresent(clientID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[clientID]
	return ok
}

// Nickname resolves a client id to its nickname, falling back to the id
// itself for unknown or anonymous clients.
func (t *Tracker) Nickname(clientID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[clientID]; ok && e.Nickname != "" {
		return e.Nickname
	}
	return clientID
}

// HoverZoneKey returns the ephemeral logical key for a hover zone.
func HoverZoneKey(zone string) string {
	return "hover-" + zone
}

// HoveringOn returns the ids of roster clients whose ephemeral hover flag
// for the zone is currently true. The view is derived entirely from the
// store; it clears automatically when a client leaves, because leaving
// drops the client's ephemeral values.
func (t *Tracker) HoveringOn(zone string) []string {
	prefix := statestore.EphemeralZonePrefix(HoverZoneKey(zone))
	var ids []string
	for _, key := range t.store.Keys(prefix) {
		owner, ok := statestore.EphemeralOwner(key)
		if !ok || !t.IsPresent(owner) {
			continue
		}
		if statestore.Get(t.store, key, false) {
			ids = append(ids, owner)
		}
	}
	return ids
}

// Sweep evicts every client whose last heartbeat is older than the timeout,
// returning the evicted ids. Eviction is the only removal path besides an
// explicit leave.
func (t *Tracker) Sweep(now time.Time) []string {
	t.mu.Lock()
	var evicted []string
	for id, e := range t.entries {
		if now.Sub(e.LastSeen) > t.timeout {
			evicted = append(evicted, id)
		}
	}
	t.mu.Unlock()

	for _, id := range evicted {
		t.Leave(id)
	}
	return evicted
}

// Run sweeps periodically until the context is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	interval := t.timeout / 4
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range t.Sweep(t.now()) {
				log.Printf("presence: evicted %s after %v without a heartbeat", id, t.timeout)
			}
		}
	}
}
