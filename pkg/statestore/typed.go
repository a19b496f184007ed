package statestore

import (
	"encoding/json"
	"fmt"
)

// Get returns the last merged value for key, or def if the key has not been
// written or does not unmarshal into T. Get never fails.
func Get[T any](s *Store, key string, def T) T {
	raw, ok := s.Raw(key)
	if !ok {
		return def
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return def
	}
	return v
}

// Set replaces the value for key. The write applies to the local view
// immediately, observers fire before Set returns, and propagation to peers
// happens in the background.
func Set[T any](s *Store, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value for %s: %w", key, err)
	}
	return s.setRaw(key, func(json.RawMessage) (json.RawMessage, error) {
		return raw, nil
	})
}

// Modify applies a pure read-modify-write function to the value for key,
// starting from def when the key is unwritten. The read, fn, and write run
// as one local critical section: no two local Modify calls interleave. Remote
// writers are reconciled afterwards by the merge rule, not excluded.
//
// Returns ErrTypeMismatch if the stored value does not unmarshal into T; the
// store is left unchanged and nothing is propagated.
func Modify[T any](s *Store, key string, def T, fn func(prev T) T) (T, error) {
	var out T
	err := s.setRaw(key, func(prev json.RawMessage) (json.RawMessage, error) {
		cur := def
		if len(prev) > 0 {
			if uerr := json.Unmarshal(prev, &cur); uerr != nil {
				return nil, fmt.Errorf("%w: key %s: %v", ErrTypeMismatch, key, uerr)
			}
		}
		out = fn(cur)
		raw, merr := json.Marshal(out)
		if merr != nil {
			return nil, fmt.Errorf("failed to marshal updated value for %s: %w", key, merr)
		}
		return raw, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
