package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// Publisher is the slice of the transport collaborator the store needs:
// fire-and-forget propagation of accepted local writes to all session peers.
type Publisher interface {
	Publish(ctx context.Context, u Update) error
}

// outboxSize bounds the publication queue. Writes beyond it are dropped
// rather than blocking the caller; the next accepted write re-converges.
const outboxSize = 256

type observer struct {
	pattern string
	prefix  bool
	fn      func(key string)
}

// Store is a session's shared value store. One instance exists per client
// per session; all higher components read and write exclusively through it.
// The store is safe for concurrent use.
type Store struct {
	clientID  string
	pub       Publisher
	validator *Validator

	mu        sync.Mutex
	values    map[string]VersionedValue
	clock     uint64
	observers map[uint64]observer
	nextObs   uint64

	outbox    chan Update
	done      chan struct{}
	closeOnce sync.Once

	pendMu sync.Mutex
	pend   int
}

// New creates a store for the given local client id. Accepted local writes
// are handed to pub in the background. The validator may be nil, in which
// case payloads are not checked at the store boundary.
func New(clientID string, pub Publisher, validator *Validator) *Store {
	s := &Store{
		clientID:  clientID,
		pub:       pub,
		validator: validator,
		values:    make(map[string]VersionedValue),
		observers: make(map[uint64]observer),
		outbox:    make(chan Update, outboxSize),
		done:      make(chan struct{}),
	}
	go s.publishLoop()
	return s
}

// ClientID returns the local client id all writes are stamped with.
func (s *Store) ClientID() string {
	return s.clientID
}

// Close stops the publication loop. In-flight queued writes may be dropped.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *Store) publishLoop() {
	for {
		select {
		case <-s.done:
			return
		case u := <-s.outbox:
			if err := s.pub.Publish(context.Background(), u); err != nil {
				log.Printf("statestore: publish %s failed: %v", u.Key, err)
			}
			s.pendMu.Lock()
			s.pend--
			s.pendMu.Unlock()
		}
	}
}

func (s *Store) enqueue(u Update) {
	s.pendMu.Lock()
	s.pend++
	s.pendMu.Unlock()

	select {
	case s.outbox <- u:
		return
	case <-s.done:
	default:
		log.Printf("statestore: outbox full, dropping publication of %s", u.Key)
	}
	s.pendMu.Lock()
	s.pend--
	s.pendMu.Unlock()
}

// Flush blocks until every queued publication has been handed to the
// publisher, or the context expires. Short-lived callers use it before
// closing so their last writes make it onto the wire.
func (s *Store) Flush(ctx context.Context) error {
	for {
		s.pendMu.Lock()
		n := s.pend
		s.pendMu.Unlock()
		if n <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Raw returns the current merged JSON value for key, if any.
func (s *Store) Raw(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return nil, false
	}
	return v.Raw, true
}

// Version returns the stamp of the last accepted write for key.
func (s *Store) Version(key string) (VersionedValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Keys returns all keys with the given prefix, sorted. Used by derived views
// (hover sets, cursors) that fan out over per-client keys.
func (s *Store) Keys(prefix string) []string {
	s.mu.Lock()
	keys := make([]string, 0, 8)
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	s.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// setRaw applies a local write. apply receives the previous raw value (nil if
// the key is unwritten) and returns the replacement; it runs inside the
// store's critical section so no two local writes interleave.
func (s *Store) setRaw(key string, apply func(prev json.RawMessage) (json.RawMessage, error)) error {
	s.mu.Lock()
	prev := s.values[key].Raw
	raw, err := apply(prev)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if s.validator != nil {
		if verr := s.validator.Validate(key, raw); verr != nil {
			s.mu.Unlock()
			return fmt.Errorf("value for %s rejected: %w", key, verr)
		}
	}
	s.clock++
	u := Update{Key: key, Value: raw, Timestamp: s.clock, ClientID: s.clientID}
	s.values[key] = VersionedValue{Raw: raw, Timestamp: u.Timestamp, ClientID: u.ClientID}
	fns := s.matching(key)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(key)
	}
	s.enqueue(u)
	return nil
}

// ApplyRemote merges a write received from the transport. It returns true if
// the write was accepted and overwrote the local value. Stale writes and
// re-deliveries are dropped silently; malformed or schema-violating payloads
// are dropped with a diagnostic log line.
func (s *Store) ApplyRemote(u Update) bool {
	if err := u.Validate(); err != nil {
		log.Printf("statestore: dropping malformed update: %v", err)
		return false
	}
	if s.validator != nil {
		if err := s.validator.Validate(u.Key, u.Value); err != nil {
			log.Printf("statestore: dropping remote value for %s: %v", u.Key, err)
			return false
		}
	}

	s.mu.Lock()
	// Advance the logical clock past every observed stamp so our next local
	// write wins against everything we have already seen.
	if u.Timestamp > s.clock {
		s.clock = u.Timestamp
	}
	cur, exists := s.values[u.Key]
	if exists && !cur.beatenBy(u.Timestamp, u.ClientID) {
		s.mu.Unlock()
		return false
	}
	s.values[u.Key] = VersionedValue{Raw: u.Value, Timestamp: u.Timestamp, ClientID: u.ClientID}
	fns := s.matching(u.Key)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(u.Key)
	}
	return true
}

// Drop removes a key from the local view without publishing. Ephemeral
// per-user values are removed this way on their owner's departure: every
// peer performs the same drop on the same presence event, so no propagation
// is needed for the views to agree.
func (s *Store) Drop(key string) {
	s.mu.Lock()
	_, ok := s.values[key]
	if ok {
		delete(s.values, key)
	}
	fns := s.matching(key)
	s.mu.Unlock()

	if !ok {
		return
	}
	for _, fn := range fns {
		fn(key)
	}
}

// DropOwned removes every ephemeral value owned by clientID from the local
// view. Called when that client leaves or is evicted.
func (s *Store) DropOwned(clientID string) {
	s.mu.Lock()
	dropped := make([]string, 0, 4)
	for k := range s.values {
		if owner, ok := EphemeralOwner(k); ok && owner == clientID {
			delete(s.values, k)
			dropped = append(dropped, k)
		}
	}
	notify := make(map[string][]func(string), len(dropped))
	for _, k := range dropped {
		notify[k] = s.matching(k)
	}
	s.mu.Unlock()

	for k, fns := range notify {
		for _, fn := range fns {
			fn(k)
		}
	}
}

// Subscribe registers fn to run on every accepted local or remote change to
// key, including drops. The returned handle unregisters it; callers must
// release the handle on teardown.
func (s *Store) Subscribe(key string, fn func(key string)) (unsubscribe func()) {
	return s.subscribe(observer{pattern: key, fn: fn})
}

// SubscribePrefix is Subscribe over every key sharing a prefix. Derived
// views over per-client key fans use it.
func (s *Store) SubscribePrefix(prefix string, fn func(key string)) (unsubscribe func()) {
	return s.subscribe(observer{pattern: prefix, prefix: true, fn: fn})
}

func (s *Store) subscribe(o observer) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = o
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// matching collects observer callbacks for key. Caller must hold s.mu; the
// callbacks themselves are invoked after the lock is released so observers
// may re-enter the store.
func (s *Store) matching(key string) []func(string) {
	var fns []func(string)
	for _, o := range s.observers {
		if o.prefix {
			if strings.HasPrefix(key, o.pattern) {
				fns = append(fns, o.fn)
			}
		} else if o.pattern == key {
			fns = append(fns, o.fn)
		}
	}
	return fns
}
