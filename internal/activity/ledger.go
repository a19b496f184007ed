// Package activity derives a bounded, most-recent-first feed of semantic
// actions from shared state transitions. The feed itself is an ordinary
// shared value (an ordered sequence), so it merges between peers with the
// same last-writer-wins rule as everything else.
//
// Known imprecision: two clients appending at the same
// moment race on the whole sequence, and the losing append is silently
// overwritten. For the feed's purpose (ambient "who did what" context) this
// is acceptable; it is documented rather than corrected.
package activity

import (
	"time"

	"github.com/google/uuid"

	"github.com/huddlekit/huddle/pkg/statestore"
)

// DefaultCapacity bounds the feed when no explicit capacity is configured.
const DefaultCapacity = 10

// Entry is one recorded action. AtMs orders entries; ID makes them unique
// across clients.
type Entry struct {
	ID    string `json:"id"`
	Actor string `json:"actor"`
	Kind  string `json:"kind"`
	AtMs  int64  `json:"at_ms"`
}

// Ledger is a bounded activity feed over one store key.
type Ledger struct {
	store    *statestore.Store
	key      string
	capacity int
	now      func() time.Time // test hook
}

// Key returns the store key for a named feed.
// Pattern: activity:{feed}
func Key(feed string) string {
	return "activity:" + feed
}

// New creates a ledger for the named feed. A non-positive capacity falls
// back to DefaultCapacity.
func New(store *statestore.Store, feed string, capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{store: store, key: Key(feed), capacity: capacity, now: time.Now}
}

// Record appends an entry for the local client's action, evicting the
// oldest entry once the feed is full.
func (l *Ledger) Record(actor, kind string) error {
	entry := Entry{
		ID:    uuid.New().String(),
		Actor: actor,
		Kind:  kind,
		AtMs:  l.now().UnixMilli(),
	}
	_, err := statestore.Modify(l.store, l.key, []Entry(nil), func(prev []Entry) []Entry {
		next := make([]Entry, 0, len(prev)+1)
		next = append(next, entry)
		next = append(next, prev...)
		if len(next) > l.capacity {
			next = next[:l.capacity]
		}
		return next
	})
	return err
}

// Entries returns a snapshot of the feed, most recent first.
func (l *Ledger) Entries() []Entry {
	return statestore.Get(l.store, l.key, []Entry(nil))
}

// Subscribe registers fn to run whenever the feed changes, locally or
// remotely. The returned handle unregisters it.
func (l *Ledger) Subscribe(fn func()) (unsubscribe func()) {
	return l.store.Subscribe(l.key, func(string) { fn() })
}
