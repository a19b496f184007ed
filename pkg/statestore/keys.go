package statestore

import "strings"

// Key naming conventions
//
// Shared keys are plain strings chosen by callers. Ephemeral per-user values
// follow a fixed pattern so the store can find and drop everything a client
// owns when it departs.
//
// Ephemeral pattern: ephemeral:{logical_key}:{client_id}

const ephemeralPrefix = "ephemeral:"

// EphemeralKey returns the store key for clientID's ephemeral value under a
// logical key. Only that client may write it.
func EphemeralKey(logicalKey, clientID string) string {
	return ephemeralPrefix + logicalKey + ":" + clientID
}

// EphemeralZonePrefix returns the prefix shared by all clients' ephemeral
// values for one logical key. Used for derived views and subscriptions.
func EphemeralZonePrefix(logicalKey string) string {
	return ephemeralPrefix + logicalKey + ":"
}

// EphemeralOwner extracts the owning client id from an ephemeral key.
// Returns false for keys outside the ephemeral namespace.
func EphemeralOwner(key string) (clientID string, ok bool) {
	if !strings.HasPrefix(key, ephemeralPrefix) {
		return "", false
	}
	idx := strings.LastIndex(key, ":")
	if idx < len(ephemeralPrefix) {
		return "", false
	}
	owner := key[idx+1:]
	if owner == "" {
		return "", false
	}
	return owner, true
}
