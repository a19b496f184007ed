package statestore

import (
	"encoding/json"
	"errors"
)

// Update is one stamped write to a shared value, in the form it travels
// between peers. The (Timestamp, ClientID) pair orders concurrent writes to
// the same key; the payload is opaque JSON.
type Update struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Timestamp uint64          `json:"ts"`
	ClientID  string          `json:"client_id"`
}

// Validate checks that an update is well-formed enough to merge.
func (u *Update) Validate() error {
	if u.Key == "" {
		return errors.New("update key cannot be empty")
	}
	if u.ClientID == "" {
		return errors.New("update client id cannot be empty")
	}
	if len(u.Value) == 0 {
		return errors.New("update value cannot be empty")
	}
	return nil
}

// VersionedValue is the store's record for a single key: the current JSON
// value plus the stamp of the last accepted write.
type VersionedValue struct {
	Raw       json.RawMessage
	Timestamp uint64
	ClientID  string
}

// beatenBy reports whether a write stamped (ts, clientID) wins against this
// record. Equal stamps from the same client are re-deliveries and never win.
func (v VersionedValue) beatenBy(ts uint64, clientID string) bool {
	if ts != v.Timestamp {
		return ts > v.Timestamp
	}
	return clientID > v.ClientID
}

// ErrTypeMismatch is returned by Modify when the stored value for a key does
// not unmarshal into the caller's type. The fault is local and is never
// propagated to peers.
var ErrTypeMismatch = errors.New("stored value does not match requested type")
