// Package statestore provides the shared value store that every Huddle
// component builds on: a mapping from string keys to JSON values, replicated
// across all clients of a session with last-writer-wins merge semantics.
//
// Each write is stamped with a logical timestamp and the writing client's id.
// Two clients that eventually observe the same set of writes converge to the
// same value for every key, regardless of delivery order, because the merge
// rule is total and deterministic: higher timestamp wins, ties broken by the
// lexically greater client id. Re-delivery of the same stamped write is a
// no-op, so at-least-once transports are safe.
//
// The store never blocks on the network. Local writes apply immediately and
// are queued for publication; remote writes arrive through ApplyRemote,
// typically fed from a transport's update channel.
package statestore
