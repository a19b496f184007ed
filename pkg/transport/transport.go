// Package transport defines the session transport contract the Huddle core
// consumes, and provides the two real implementations: Redis Pub/Sub and a
// WebSocket relay client.
//
// A transport delivers value updates and presence events to all members of a
// session, at least once, in no guaranteed order. The core tolerates
// duplicates and reordering by construction (see package statestore), so a
// transport only has to be best-effort.
package transport

import (
	"context"
	"fmt"

	"github.com/huddlekit/huddle/pkg/statestore"
)

// PresenceKind classifies a presence event.
type PresenceKind string

const (
	// PresenceJoined announces a client entering the session.
	PresenceJoined PresenceKind = "joined"

	// PresenceHeartbeat refreshes a client's liveness.
	PresenceHeartbeat PresenceKind = "heartbeat"

	// PresenceLeft announces an orderly departure.
	PresenceLeft PresenceKind = "left"
)

// Validate checks that the kind is a known enum value.
func (k PresenceKind) Validate() error {
	switch k {
	case PresenceJoined, PresenceHeartbeat, PresenceLeft:
		return nil
	default:
		return fmt.Errorf("unknown presence kind: %q", k)
	}
}

// PresenceEvent is one liveness signal from a session member.
type PresenceEvent struct {
	ClientID string       `json:"client_id"`
	Nickname string       `json:"nickname,omitempty"`
	Kind     PresenceKind `json:"kind"`
}

// Validate checks that the event is well-formed.
func (e *PresenceEvent) Validate() error {
	if e.ClientID == "" {
		return fmt.Errorf("presence event client id cannot be empty")
	}
	if err := e.Kind.Validate(); err != nil {
		return fmt.Errorf("invalid presence event: %w", err)
	}
	return nil
}

// Transport is the session/transport collaborator. One instance serves one
// client in one session for the lifetime of that client's participation.
//
// The Updates and Presence channels are closed when the transport shuts
// down, whether through Close or a connection failure.
type Transport interface {
	// ClientID returns the stable opaque identifier assigned to this client
	// for the session's lifetime.
	ClientID() string

	// Publish propagates an accepted local write to all session members,
	// best-effort, at-least-once.
	Publish(ctx context.Context, u statestore.Update) error

	// PublishPresence propagates a presence event to all session members.
	PublishPresence(ctx context.Context, ev PresenceEvent) error

	// Snapshot returns the latest known update per key, for late-joiner
	// catch-up. The caller merges them through the store's usual rule.
	Snapshot(ctx context.Context) ([]statestore.Update, error)

	// Updates is the feed of value updates, own echoes included.
	Updates() <-chan statestore.Update

	// Presence is the feed of presence events, own echoes included.
	Presence() <-chan PresenceEvent

	// Close tears the transport down and closes both feeds.
	Close() error
}
