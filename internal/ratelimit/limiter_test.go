package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("rejects unknown policy", func(t *testing.T) {
		_, err := New(time.Second, "queue")
		assert.Error(t, err)
	})

	t.Run("accepts both policies", func(t *testing.T) {
		for _, p := range []Policy{PolicyDrop, PolicyCoalesce} {
			_, err := New(time.Second, p)
			assert.NoError(t, err)
		}
	})
}

func TestZeroIntervalRunsEverything(t *testing.T) {
	l, err := New(0, PolicyDrop)
	require.NoError(t, err)

	calls := 0
	for i := 0; i < 5; i++ {
		l.Do(func() { calls++ })
	}
	assert.Equal(t, 5, calls)
}

func TestDropPolicy(t *testing.T) {
	l, err := New(100*time.Millisecond, PolicyDrop)
	require.NoError(t, err)

	base := time.Now()
	l.now = func() time.Time { return base }

	calls := 0
	l.Do(func() { calls++ }) // first call runs
	l.Do(func() { calls++ }) // inside interval: dropped
	assert.Equal(t, 1, calls)

	l.now = func() time.Time { return base.Add(150 * time.Millisecond) }
	l.Do(func() { calls++ }) // interval elapsed: runs
	assert.Equal(t, 2, calls)
}

func TestCoalescePolicy(t *testing.T) {
	l, err := New(50*time.Millisecond, PolicyCoalesce)
	require.NoError(t, err)

	var mu sync.Mutex
	var got []int
	record := func(v int) func() {
		return func() {
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
		}
	}

	l.Do(record(1)) // runs immediately
	l.Do(record(2)) // pending
	l.Do(record(3)) // replaces 2

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 3}, got, "only the latest pending call survives")
}

func TestStopDiscardsPending(t *testing.T) {
	l, err := New(50*time.Millisecond, PolicyCoalesce)
	require.NoError(t, err)

	calls := 0
	l.Do(func() { calls++ })
	l.Do(func() { calls++ })
	l.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, calls, "pending call discarded by Stop")

	l.Do(func() { calls++ })
	assert.Equal(t, 1, calls, "stopped limiter runs nothing")
}
