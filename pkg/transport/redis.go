package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/huddlekit/huddle/pkg/statestore"
)

// feedBuffer sizes the update and presence channels. A slow consumer falls
// behind Redis Pub/Sub (at-most-once per subscriber), which the merge rule
// tolerates.
const feedBuffer = 64

// RedisTransport carries a session over Redis Pub/Sub. Updates are published
// on a session channel and mirrored into a session hash so late joiners can
// catch up with Snapshot. The transport assigns its own client id.
type RedisTransport struct {
	rdb      *redis.Client
	session  string
	clientID string

	updates  chan statestore.Update
	presence chan PresenceEvent
	cancel   func()
	once     sync.Once
}

// NewRedis creates a Redis transport for the given session.
// Returns an error if session is empty.
func NewRedis(redisOpts *redis.Options, session string) (*RedisTransport, error) {
	if session == "" {
		return nil, fmt.Errorf("session name cannot be empty")
	}

	rdb := redis.NewClient(redisOpts)
	ctx, cancel := context.WithCancel(context.Background())

	t := &RedisTransport{
		rdb:      rdb,
		session:  session,
		clientID: uuid.New().String(),
		updates:  make(chan statestore.Update, feedBuffer),
		presence: make(chan PresenceEvent, feedBuffer),
		cancel:   cancel,
	}

	pubsub := rdb.Subscribe(ctx, UpdatesChannel(session), PresenceChannel(session))
	go t.pump(ctx, pubsub)

	return t, nil
}

// ClientID returns the id assigned to this client for the session.
func (t *RedisTransport) ClientID() string {
	return t.clientID
}

// Ping verifies Redis connectivity. Useful for health checks.
func (t *RedisTransport) Ping(ctx context.Context) error {
	return t.rdb.Ping(ctx).Err()
}

// Publish mirrors the update into the session's values hash and announces it
// on the updates channel. The hash write is best-effort: a racing older
// write may land last in the hash, but snapshot consumers re-merge through
// the store's rule, so convergence is unaffected once live updates flow.
func (t *RedisTransport) Publish(ctx context.Context, u statestore.Update) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}

	if err := t.rdb.HSet(ctx, ValuesKey(t.session), u.Key, payload).Err(); err != nil {
		return fmt.Errorf("failed to mirror update to Redis: %w", err)
	}
	if err := t.rdb.Publish(ctx, UpdatesChannel(t.session), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish update: %w", err)
	}
	return nil
}

// PublishPresence announces a presence event. A left event also clears the
// departing client's ephemeral values from the snapshot hash so late
// joiners never see ghost cursors.
func (t *RedisTransport) PublishPresence(ctx context.Context, ev PresenceEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal presence event: %w", err)
	}
	if err := t.rdb.Publish(ctx, PresenceChannel(t.session), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish presence event: %w", err)
	}

	if ev.Kind == PresenceLeft {
		if err := t.clearEphemeral(ctx, ev.ClientID); err != nil {
			log.Printf("transport: failed to clear ephemeral values for %s: %v", ev.ClientID, err)
		}
	}
	return nil
}

func (t *RedisTransport) clearEphemeral(ctx context.Context, clientID string) error {
	fields, err := t.rdb.HKeys(ctx, ValuesKey(t.session)).Result()
	if err != nil {
		return err
	}
	var owned []string
	for _, f := range fields {
		if owner, ok := statestore.EphemeralOwner(f); ok && owner == clientID {
			owned = append(owned, f)
		}
	}
	if len(owned) == 0 {
		return nil
	}
	return t.rdb.HDel(ctx, ValuesKey(t.session), owned...).Err()
}

// Snapshot returns the latest mirrored update per key.
func (t *RedisTransport) Snapshot(ctx context.Context) ([]statestore.Update, error) {
	entries, err := t.rdb.HGetAll(ctx, ValuesKey(t.session)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session snapshot: %w", err)
	}

	updates := make([]statestore.Update, 0, len(entries))
	for field, payload := range entries {
		var u statestore.Update
		if err := json.Unmarshal([]byte(payload), &u); err != nil {
			log.Printf("transport: skipping corrupt snapshot entry %s: %v", field, err)
			continue
		}
		updates = append(updates, u)
	}
	return updates, nil
}

// Updates returns the feed of value updates.
func (t *RedisTransport) Updates() <-chan statestore.Update {
	return t.updates
}

// Presence returns the feed of presence events.
func (t *RedisTransport) Presence() <-chan PresenceEvent {
	return t.presence
}

// Close stops the subscription and closes the Redis connection.
// Safe to call multiple times.
func (t *RedisTransport) Close() error {
	t.once.Do(t.cancel)
	return t.rdb.Close()
}

func (t *RedisTransport) pump(ctx context.Context, pubsub *redis.PubSub) {
	defer close(t.updates)
	defer close(t.presence)
	defer pubsub.Close()

	updatesCh := UpdatesChannel(t.session)
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg.Channel == updatesCh {
				var u statestore.Update
				if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
					log.Printf("transport: skipping malformed update: %v", err)
					continue
				}
				select {
				case t.updates <- u:
				case <-ctx.Done():
					return
				}
			} else {
				var ev PresenceEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Printf("transport: skipping malformed presence event: %v", err)
					continue
				}
				select {
				case t.presence <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

var _ Transport = (*RedisTransport)(nil)
