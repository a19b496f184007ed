package transport

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/huddlekit/huddle/pkg/statestore"
)

// RelayTransport carries a session over a WebSocket connection to a Huddle
// relay. The relay assigns the client id and sends the session snapshot in
// its welcome frame; after that, frames flow both ways until either side
// closes.
type RelayTransport struct {
	conn     *websocket.Conn
	clientID string

	writeMu sync.Mutex

	snapMu   sync.Mutex
	snapshot []statestore.Update

	updates  chan statestore.Update
	presence chan PresenceEvent
	done     chan struct{}
	once     sync.Once
}

// NewRelay dials a relay and joins the given session. relayURL is the ws://
// or wss:// endpoint of the relay's /ws handler.
func NewRelay(ctx context.Context, relayURL, session, nickname string) (*RelayTransport, error) {
	if session == "" {
		return nil, fmt.Errorf("session name cannot be empty")
	}

	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	q := u.Query()
	q.Set("session", session)
	if nickname != "" {
		q.Set("nickname", nickname)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}

	// The relay speaks first: welcome carries our id and the snapshot.
	var welcome Frame
	if err := conn.ReadJSON(&welcome); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read welcome frame: %w", err)
	}
	if welcome.Type != FrameWelcome || welcome.ClientID == "" {
		conn.Close()
		return nil, fmt.Errorf("relay did not send a welcome frame (got %q)", welcome.Type)
	}

	t := &RelayTransport{
		conn:     conn,
		clientID: welcome.ClientID,
		snapshot: welcome.Snapshot,
		updates:  make(chan statestore.Update, feedBuffer),
		presence: make(chan PresenceEvent, feedBuffer),
		done:     make(chan struct{}),
	}
	go t.readPump()

	return t, nil
}

// ClientID returns the id the relay assigned to this connection.
func (t *RelayTransport) ClientID() string {
	return t.clientID
}

// Publish sends an update frame to the relay, which fans it out to every
// session member including this one.
func (t *RelayTransport) Publish(_ context.Context, u statestore.Update) error {
	return t.write(Frame{Type: FrameUpdate, Update: &u})
}

// PublishPresence sends a presence frame to the relay.
func (t *RelayTransport) PublishPresence(_ context.Context, ev PresenceEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	return t.write(Frame{Type: FramePresence, Presence: &ev})
}

// Snapshot returns the state snapshot the relay delivered on join.
func (t *RelayTransport) Snapshot(context.Context) ([]statestore.Update, error) {
	t.snapMu.Lock()
	defer t.snapMu.Unlock()
	out := make([]statestore.Update, len(t.snapshot))
	copy(out, t.snapshot)
	return out, nil
}

// Updates returns the feed of value updates.
func (t *RelayTransport) Updates() <-chan statestore.Update {
	return t.updates
}

// Presence returns the feed of presence events.
func (t *RelayTransport) Presence() <-chan PresenceEvent {
	return t.presence
}

// Close sends a close frame and tears the connection down.
// Safe to call multiple times.
func (t *RelayTransport) Close() error {
	t.once.Do(func() {
		close(t.done)
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		t.conn.Close()
	})
	return nil
}

func (t *RelayTransport) write(f Frame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("failed to send frame to relay: %w", err)
	}
	return nil
}

func (t *RelayTransport) readPump() {
	defer close(t.updates)
	defer close(t.presence)

	for {
		var f Frame
		if err := t.conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("transport: relay connection closed: %v", err)
			}
			return
		}
		switch f.Type {
		case FrameUpdate:
			if f.Update == nil {
				continue
			}
			// Guarded send: the consumer may have stopped draining before
			// the connection drops, and a full feed must not wedge the pump.
			select {
			case t.updates <- *f.Update:
			case <-t.done:
				return
			}
		case FramePresence:
			if f.Presence == nil {
				continue
			}
			select {
			case t.presence <- *f.Presence:
			case <-t.done:
				return
			}
		default:
			log.Printf("transport: skipping unexpected frame type %q", f.Type)
		}
	}
}

var _ Transport = (*RelayTransport)(nil)
