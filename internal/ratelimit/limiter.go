// Package ratelimit provides the one rate limiter used for high-frequency
// shared writes (cursor positions, typing activity). Callers pick a policy:
// Drop discards calls arriving inside the interval, Coalesce keeps the
// latest call and runs it when the interval opens.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Policy selects what happens to calls arriving inside the interval.
type Policy string

const (
	// PolicyDrop discards calls until the interval has elapsed.
	PolicyDrop Policy = "drop"

	// PolicyCoalesce remembers the latest call and runs it once the
	// interval opens. Earlier pending calls are replaced, not queued.
	PolicyCoalesce Policy = "coalesce"
)

// Validate checks that the policy is a known enum value.
func (p Policy) Validate() error {
	switch p {
	case PolicyDrop, PolicyCoalesce:
		return nil
	default:
		return fmt.Errorf("unknown rate limit policy: %q", p)
	}
}

// Limiter enforces a minimum interval between executions.
// Safe for concurrent use.
type Limiter struct {
	interval time.Duration
	policy   Policy

	mu      sync.Mutex
	last    time.Time
	pending func()
	timer   *time.Timer
	stopped bool

	now func() time.Time // test hook
}

// New creates a limiter. A non-positive interval means no limiting: every
// call runs immediately.
func New(interval time.Duration, policy Policy) (*Limiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{interval: interval, policy: policy, now: time.Now}, nil
}

// Do runs fn now if the interval since the last execution has elapsed.
// Otherwise the call is dropped or coalesced according to the policy.
// fn runs without the limiter's lock held.
func (l *Limiter) Do(fn func()) {
	if l.interval <= 0 {
		fn()
		return
	}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	now := l.now()
	elapsed := now.Sub(l.last)
	if elapsed >= l.interval {
		l.last = now
		l.mu.Unlock()
		fn()
		return
	}

	if l.policy == PolicyDrop {
		l.mu.Unlock()
		return
	}

	// Coalesce: replace any pending call and make sure a flush is armed.
	l.pending = fn
	if l.timer == nil {
		l.timer = time.AfterFunc(l.interval-elapsed, l.flush)
	}
	l.mu.Unlock()
}

func (l *Limiter) flush() {
	l.mu.Lock()
	l.timer = nil
	fn := l.pending
	l.pending = nil
	if fn == nil || l.stopped {
		l.mu.Unlock()
		return
	}
	l.last = l.now()
	l.mu.Unlock()
	fn()
}

// Stop discards any pending coalesced call and stops the flush timer.
// The limiter must not be used after Stop.
func (l *Limiter) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	l.pending = nil
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}
