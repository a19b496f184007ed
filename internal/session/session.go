// Package session assembles one client's view of a huddle: the shared value
// store, the transport feeding it, the presence roster, the activity feed,
// and any games running inside the session. A Session owns the background
// goroutines (dispatch, heartbeat, eviction sweep) and tears them all down
// on Close.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/huddlekit/huddle/internal/activity"
	"github.com/huddlekit/huddle/internal/config"
	"github.com/huddlekit/huddle/internal/game"
	"github.com/huddlekit/huddle/internal/presence"
	"github.com/huddlekit/huddle/internal/ratelimit"
	"github.com/huddlekit/huddle/pkg/statestore"
	"github.com/huddlekit/huddle/pkg/transport"
)

// FeedName is the session-wide activity feed every session records into.
const FeedName = "session"

// Schemas enforced at the store boundary for the well-known key families.
// Values under unregistered keys pass through unvalidated.
const (
	cursorSchema = `{
		"type": "object",
		"properties": {
			"x": {"type": "number"},
			"y": {"type": "number"}
		},
		"required": ["x", "y"]
	}`

	activitySchema = `{
		"type": "array",
		"items": {
			"type": "object",
			"properties": {
				"id": {"type": "string"},
				"actor": {"type": "string"},
				"kind": {"type": "string"},
				"at_ms": {"type": "integer"}
			},
			"required": ["id", "actor", "kind", "at_ms"]
		}
	}`
)

// Position is a shared cursor location in the application's own coordinate
// space.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Session is one client's live connection to a huddle.
type Session struct {
	cfg       *config.HuddleConfig
	transport transport.Transport
	store     *statestore.Store
	tracker   *presence.Tracker
	ledger    *activity.Ledger
	cursorRL  *ratelimit.Limiter

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	games     map[string]*game.Engine
	closeOnce sync.Once
	closeErr  error
}

// New connects a session over an already-established transport: it seeds the
// store from the transport's snapshot, announces the local client, and starts
// the dispatch, heartbeat, and eviction loops. The caller owns cfg; it must
// already be validated.
func New(ctx context.Context, cfg *config.HuddleConfig, tr transport.Transport) (*Session, error) {
	validator := statestore.NewValidator()
	if err := validator.Register(statestore.EphemeralZonePrefix("cursor"), cursorSchema); err != nil {
		return nil, fmt.Errorf("failed to register cursor schema: %w", err)
	}
	if err := validator.Register(activity.Key(FeedName), activitySchema); err != nil {
		return nil, fmt.Errorf("failed to register activity schema: %w", err)
	}

	store := statestore.New(tr.ClientID(), tr, validator)
	tracker := presence.New(store, cfg.Presence.Timeout)
	ledger := activity.New(store, FeedName, cfg.Ledger.Capacity)

	cursorRL, err := ratelimit.New(cfg.Cursor.Interval, ratelimit.Policy(cfg.Cursor.Policy))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("invalid cursor rate limit: %w", err)
	}

	// Catch up on whatever the session already holds. Stale entries lose
	// the merge and disappear on their own.
	snapshot, err := tr.Snapshot(ctx)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to fetch session snapshot: %w", err)
	}
	for _, u := range snapshot {
		store.ApplyRemote(u)
	}

	// Announce ourselves before the loops start so peers learn about us even
	// if our first heartbeat is slow.
	join := transport.PresenceEvent{
		ClientID: tr.ClientID(),
		Nickname: cfg.Nickname,
		Kind:     transport.PresenceJoined,
	}
	if err := tr.PublishPresence(ctx, join); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to announce join: %w", err)
	}
	tracker.Join(tr.ClientID(), cfg.Nickname)

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:       cfg,
		transport: tr,
		store:     store,
		tracker:   tracker,
		ledger:    ledger,
		cursorRL:  cursorRL,
		cancel:    cancel,
		games:     make(map[string]*game.Engine),
	}

	s.wg.Add(3)
	go s.dispatch(runCtx)
	go s.heartbeat(runCtx)
	go func() {
		defer s.wg.Done()
		tracker.Run(runCtx)
	}()

	return s, nil
}

// dispatch feeds transport traffic into the store and the roster until both
// feeds close or the session shuts down.
func (s *Session) dispatch(ctx context.Context) {
	defer s.wg.Done()

	updates := s.transport.Updates()
	events := s.transport.Presence()
	for updates != nil || events != nil {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			s.store.ApplyRemote(u)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.tracker.Apply(ev)
		}
	}
}

// heartbeat announces liveness on the configured interval. Heartbeats carry
// the nickname so clients that join after us still learn it.
func (s *Session) heartbeat(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Presence.HeartbeatInterval)
	defer ticker.Stop()

	hb := transport.PresenceEvent{
		ClientID: s.transport.ClientID(),
		Nickname: s.cfg.Nickname,
		Kind:     transport.PresenceHeartbeat,
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.transport.PublishPresence(ctx, hb); err != nil {
				log.Printf("session: heartbeat publish failed: %v", err)
			}
		}
	}
}

// ClientID returns this client's transport-assigned identifier.
func (s *Session) ClientID() string {
	return s.transport.ClientID()
}

// Store exposes the shared value store for application keys.
func (s *Session) Store() *statestore.Store {
	return s.store
}

// Roster returns the current presence entries in first-seen order.
func (s *Session) Roster() []presence.Entry {
	return s.tracker.Roster()
}

// Nickname resolves a client id through the roster.
func (s *Session) Nickname(clientID string) string {
	return s.tracker.Nickname(clientID)
}

// Ledger returns the session's activity feed.
func (s *Session) Ledger() *activity.Ledger {
	return s.ledger
}

// Record notes a local action on the activity feed, attributed to our
// nickname.
func (s *Session) Record(kind string) error {
	actor := s.cfg.Nickname
	if actor == "" {
		actor = s.transport.ClientID()
	}
	return s.ledger.Record(actor, kind)
}

// Increment adds delta to a shared counter key and returns the new local
// value.
func (s *Session) Increment(key string, delta int) (int, error) {
	return statestore.Modify(s.store, key, 0, func(n int) int {
		return n + delta
	})
}

// MoveCursor publishes our cursor position, throttled by the configured
// rate limit policy. The position is an ephemeral value and disappears from
// every peer when we leave.
func (s *Session) MoveCursor(pos Position) {
	key := statestore.EphemeralKey("cursor", s.transport.ClientID())
	s.cursorRL.Do(func() {
		if err := statestore.Set(s.store, key, pos); err != nil {
			log.Printf("session: cursor write rejected: %v", err)
		}
	})
}

// Cursors returns the latest cursor position of every present client that
// has published one, keyed by client id.
func (s *Session) Cursors() map[string]Position {
	out := make(map[string]Position)
	for _, key := range s.store.Keys(statestore.EphemeralZonePrefix("cursor")) {
		owner, ok := statestore.EphemeralOwner(key)
		if !ok || !s.tracker.IsPresent(owner) {
			continue
		}
		out[owner] = statestore.Get(s.store, key, Position{})
	}
	return out
}

// SetHover publishes whether we are hovering over the named zone.
func (s *Session) SetHover(zone string, on bool) error {
	key := statestore.EphemeralKey(presence.HoverZoneKey(zone), s.transport.ClientID())
	return statestore.Set(s.store, key, on)
}

// Hovering returns the client ids currently hovering over the zone.
func (s *Session) Hovering(zone string) []string {
	return s.tracker.HoveringOn(zone)
}

// Game returns the engine for the named game instance, creating it with the
// given slots on first use. Omitting slots gives the stock X/O pair. Slots
// are fixed at creation; a later call with different slots is an error.
func (s *Session) Game(gameKey string, slots ...string) (*game.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.games[gameKey]; ok {
		if len(slots) > 0 && !equalSlots(e.Slots(), slots) {
			return nil, fmt.Errorf("game %q already exists with slots %v", gameKey, e.Slots())
		}
		return e, nil
	}

	if len(slots) == 0 {
		slots = game.DefaultSlots
	}
	e, err := game.New(s.store, s.tracker, gameKey, slots)
	if err != nil {
		return nil, err
	}
	s.games[gameKey] = e
	return e, nil
}

func equalSlots(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Close announces our departure, stops the background loops, and tears down
// the transport and the store. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		left := transport.PresenceEvent{
			ClientID: s.transport.ClientID(),
			Nickname: s.cfg.Nickname,
			Kind:     transport.PresenceLeft,
		}
		ctx, cancelPub := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.store.Flush(ctx); err != nil {
			log.Printf("session: could not flush pending writes: %v", err)
		}
		if err := s.transport.PublishPresence(ctx, left); err != nil {
			log.Printf("session: failed to announce departure: %v", err)
		}
		cancelPub()

		s.cancel()
		s.cursorRL.Stop()
		s.closeErr = s.transport.Close()
		s.wg.Wait()
		s.store.Close()
	})
	return s.closeErr
}
