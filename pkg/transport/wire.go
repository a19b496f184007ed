package transport

import (
	"fmt"

	"github.com/huddlekit/huddle/pkg/statestore"
)

// Relay wire format
//
// The WebSocket relay and its clients exchange JSON frames. Exactly one
// payload field is set, selected by Type. The relay sends a welcome frame
// first on every connection, carrying the assigned client id and a snapshot
// of the latest update per key.

// Frame types.
const (
	FrameWelcome  = "welcome"
	FrameUpdate   = "update"
	FramePresence = "presence"
)

// Frame is the relay wire envelope.
type Frame struct {
	Type     string              `json:"type"`
	ClientID string              `json:"client_id,omitempty"`
	Update   *statestore.Update  `json:"update,omitempty"`
	Presence *PresenceEvent      `json:"presence,omitempty"`
	Snapshot []statestore.Update `json:"snapshot,omitempty"`
}

// Validate checks the frame's type/payload pairing.
func (f *Frame) Validate() error {
	switch f.Type {
	case FrameWelcome:
		if f.ClientID == "" {
			return fmt.Errorf("welcome frame missing client id")
		}
	case FrameUpdate:
		if f.Update == nil {
			return fmt.Errorf("update frame missing update payload")
		}
		if err := f.Update.Validate(); err != nil {
			return fmt.Errorf("invalid update frame: %w", err)
		}
	case FramePresence:
		if f.Presence == nil {
			return fmt.Errorf("presence frame missing presence payload")
		}
		if err := f.Presence.Validate(); err != nil {
			return fmt.Errorf("invalid presence frame: %w", err)
		}
	default:
		return fmt.Errorf("unknown frame type: %q", f.Type)
	}
	return nil
}
