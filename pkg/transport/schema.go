package transport

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by session name so
// multiple sessions can safely share one Redis server.
//
// Key pattern: huddle:{session}:{entity}
// Channel pattern: huddle:{session}:{feed}

// ValuesKey returns the Redis hash holding the latest update per store key.
// Pattern: huddle:{session}:values
func ValuesKey(session string) string {
	return fmt.Sprintf("huddle:%s:values", session)
}

// UpdatesChannel returns the Pub/Sub channel carrying value updates.
// Pattern: huddle:{session}:updates
func UpdatesChannel(session string) string {
	return fmt.Sprintf("huddle:%s:updates", session)
}

// PresenceChannel returns the Pub/Sub channel carrying presence events.
// Pattern: huddle:{session}:presence
func PresenceChannel(session string) string {
	return fmt.Sprintf("huddle:%s:presence", session)
}
