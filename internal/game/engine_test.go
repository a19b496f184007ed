package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddlekit/huddle/internal/presence"
	"github.com/huddlekit/huddle/pkg/statestore"
)

// capturePublisher records published updates so tests can replay them into
// a peer's store, simulating transport delivery in any order.
type capturePublisher struct {
	mu      sync.Mutex
	updates []statestore.Update
}

func (p *capturePublisher) Publish(_ context.Context, u statestore.Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
	return nil
}

func (p *capturePublisher) drain(t *testing.T, n int) []statestore.Update {
	t.Helper()
	var out []statestore.Update
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		out = append([]statestore.Update(nil), p.updates...)
		return len(out) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return out
}

type client struct {
	id     string
	store  *statestore.Store
	pub    *capturePublisher
	roster *presence.Tracker
	engine *Engine
}

// setupClient builds one simulated client with clients a and b both on its
// roster.
func setupClient(t *testing.T, id string) *client {
	t.Helper()
	pub := &capturePublisher{}
	store := statestore.New(id, pub, nil)
	t.Cleanup(func() { store.Close() })

	roster := presence.New(store, time.Minute)
	roster.Join("client-a", "alpha")
	roster.Join("client-b", "beta")

	engine, err := New(store, roster, "demo", DefaultSlots)
	require.NoError(t, err)

	return &client{id: id, store: store, pub: pub, roster: roster, engine: engine}
}

// setupGame returns an engine for a single-client view with both players
// already holding their slots and the game active.
func setupGame(t *testing.T) *client {
	t.Helper()
	c := setupClient(t, "client-a")
	require.True(t, c.engine.ClaimSlot("X", "client-a").Accepted())
	require.True(t, c.engine.ClaimSlot("O", "client-b").Accepted())
	require.Equal(t, StatusActive, c.engine.State().Status)
	return c
}

func TestNew(t *testing.T) {
	c := setupClient(t, "client-a")

	t.Run("rejects empty game key", func(t *testing.T) {
		_, err := New(c.store, c.roster, "", DefaultSlots)
		assert.Error(t, err)
	})

	t.Run("rejects fewer than two slots", func(t *testing.T) {
		_, err := New(c.store, c.roster, "g", []string{"X"})
		assert.Error(t, err)
	})

	t.Run("rejects duplicate slots", func(t *testing.T) {
		_, err := New(c.store, c.roster, "g", []string{"X", "X"})
		assert.Error(t, err)
	})

	t.Run("rejects empty slot name", func(t *testing.T) {
		_, err := New(c.store, c.roster, "g", []string{"X", ""})
		assert.Error(t, err)
	})
}

func TestClaimSlot(t *testing.T) {
	t.Run("claim and auto-activation", func(t *testing.T) {
		c := setupClient(t, "client-a")

		assert.Equal(t, ClaimAccepted, c.engine.ClaimSlot("X", "client-a"))
		assert.Equal(t, StatusWaiting, c.engine.State().Status, "one empty slot keeps the game waiting")

		assert.Equal(t, ClaimAccepted, c.engine.ClaimSlot("O", "client-b"))
		st := c.engine.State()
		assert.Equal(t, StatusActive, st.Status)
		assert.Equal(t, "X", st.TurnSlot, "first slot moves first")
		assert.Equal(t, "client-a", st.Slots["X"])
		assert.Equal(t, "client-b", st.Slots["O"])
	})

	t.Run("rejections", func(t *testing.T) {
		c := setupClient(t, "client-a")
		require.True(t, c.engine.ClaimSlot("X", "client-a").Accepted())

		assert.Equal(t, ClaimRejectedTaken, c.engine.ClaimSlot("X", "client-b"))
		assert.Equal(t, ClaimRejectedAlreadyHolding, c.engine.ClaimSlot("O", "client-a"))
		assert.Equal(t, ClaimRejectedUnknownSlot, c.engine.ClaimSlot("Z", "client-b"))
		assert.Equal(t, ClaimRejectedNotPresent, c.engine.ClaimSlot("O", "client-ghost"))
	})

	t.Run("re-claim of own slot is idempotent", func(t *testing.T) {
		c := setupClient(t, "client-a")
		require.True(t, c.engine.ClaimSlot("X", "client-a").Accepted())
		assert.Equal(t, ClaimAccepted, c.engine.ClaimSlot("X", "client-a"))
	})
}

// TestClaimSlotRace simulates two clients claiming the same slot
// concurrently: both succeed locally, then the transport delivers each
// side's writes to the other. Exactly one claim must survive on both sides.
func TestClaimSlotRace(t *testing.T) {
	a := setupClient(t, "client-a")
	b := setupClient(t, "client-b")

	require.True(t, a.engine.ClaimSlot("X", "client-a").Accepted())
	require.True(t, b.engine.ClaimSlot("X", "client-b").Accepted())

	// Cross-deliver every published write, in opposite orders.
	for _, u := range b.pub.drain(t, 1) {
		a.store.ApplyRemote(u)
	}
	for _, u := range a.pub.drain(t, 1) {
		b.store.ApplyRemote(u)
	}

	ownerAtA := a.engine.State().Slots["X"]
	ownerAtB := b.engine.State().Slots["X"]
	assert.Equal(t, ownerAtA, ownerAtB, "both sides converge on one holder")
	// Both claims carry the same logical timestamp, so the greater client
	// id wins the tiebreak.
	assert.Equal(t, "client-b", ownerAtA)
}

// TestCrossClaimActivation covers the distributed start: each player claims
// a different slot on their own client before either claim propagates. Once
// the claims merge, both sides hold a fully claimed game and must activate
// without any further local call.
func TestCrossClaimActivation(t *testing.T) {
	a := setupClient(t, "client-a")
	b := setupClient(t, "client-b")

	require.True(t, a.engine.ClaimSlot("X", "client-a").Accepted())
	require.True(t, b.engine.ClaimSlot("O", "client-b").Accepted())
	require.Equal(t, StatusWaiting, a.engine.State().Status)
	require.Equal(t, StatusWaiting, b.engine.State().Status)

	for _, u := range b.pub.drain(t, 1) {
		a.store.ApplyRemote(u)
	}
	for _, u := range a.pub.drain(t, 1) {
		b.store.ApplyRemote(u)
	}

	// Activation runs off the slot observer, so it lands asynchronously.
	for _, c := range []*client{a, b} {
		require.Eventually(t, func() bool {
			return c.engine.State().Status == StatusActive
		}, 2*time.Second, 5*time.Millisecond, "client %s never activated", c.id)
		st := c.engine.State()
		assert.Equal(t, "X", st.TurnSlot)
		assert.Equal(t, "client-a", st.Slots["X"])
		assert.Equal(t, "client-b", st.Slots["O"])
	}
}

func TestApplyMoveLegality(t *testing.T) {
	t.Run("rejected while waiting", func(t *testing.T) {
		c := setupClient(t, "client-a")
		require.True(t, c.engine.ClaimSlot("X", "client-a").Accepted())
		assert.Equal(t, MoveRejectedNotActive, c.engine.ApplyMove("client-a", 0))
	})

	t.Run("rejected out of turn", func(t *testing.T) {
		c := setupGame(t)
		assert.Equal(t, MoveRejectedNotYourTurn, c.engine.ApplyMove("client-b", 0))

		before := c.engine.State()
		require.True(t, c.engine.ApplyMove("client-a", 0).Accepted())
		after := c.engine.State()
		assert.Equal(t, "O", after.TurnSlot)
		assert.NotEqual(t, before.Board, after.Board)
	})

	t.Run("rejected on occupied cell", func(t *testing.T) {
		c := setupGame(t)
		require.True(t, c.engine.ApplyMove("client-a", 4).Accepted())
		assert.Equal(t, MoveRejectedOccupied, c.engine.ApplyMove("client-b", 4))
	})

	t.Run("rejected out of range", func(t *testing.T) {
		c := setupGame(t)
		assert.Equal(t, MoveRejectedOutOfRange, c.engine.ApplyMove("client-a", 9))
		assert.Equal(t, MoveRejectedOutOfRange, c.engine.ApplyMove("client-a", -1))
	})

	t.Run("rejection leaves state unchanged", func(t *testing.T) {
		c := setupGame(t)
		before := c.engine.State()
		c.engine.ApplyMove("client-b", 0) // out of turn
		c.engine.ApplyMove("client-a", 99)
		assert.Equal(t, before, c.engine.State())
	})
}

func TestTerminalDetection(t *testing.T) {
	t.Run("three in a row wins and scores", func(t *testing.T) {
		c := setupGame(t)

		// X takes the top row while O fills 3 and 4.
		for _, mv := range []struct {
			client string
			cell   int
		}{
			{"client-a", 0}, {"client-b", 3},
			{"client-a", 1}, {"client-b", 4},
			{"client-a", 2},
		} {
			require.True(t, c.engine.ApplyMove(mv.client, mv.cell).Accepted(), "move %+v", mv)
		}

		st := c.engine.State()
		assert.Equal(t, StatusFinished, st.Status)
		assert.Equal(t, []string{"X", "X", "X", "O", "O", "", "", "", ""}, st.Board)
		assert.Equal(t, "X", st.Outcome.WinnerSlot)
		assert.Equal(t, "client-a", st.Outcome.WinnerClientID)
		assert.False(t, st.Outcome.Tie)
		assert.Equal(t, map[string]int{"client-a": 1}, st.Scores)

		t.Run("no moves after the game is finished", func(t *testing.T) {
			assert.Equal(t, MoveRejectedNotActive, c.engine.ApplyMove("client-b", 5))
		})
	})

	t.Run("full board with no line is a tie", func(t *testing.T) {
		c := setupGame(t)

		for _, mv := range []struct {
			client string
			cell   int
		}{
			{"client-a", 0}, {"client-b", 1},
			{"client-a", 2}, {"client-b", 4},
			{"client-a", 3}, {"client-b", 5},
			{"client-a", 7}, {"client-b", 6},
			{"client-a", 8},
		} {
			require.True(t, c.engine.ApplyMove(mv.client, mv.cell).Accepted(), "move %+v", mv)
		}

		st := c.engine.State()
		assert.Equal(t, StatusFinished, st.Status)
		assert.True(t, st.Outcome.Tie)
		assert.Empty(t, st.Outcome.WinnerClientID)
		assert.Empty(t, st.Scores, "ties score nothing")
	})
}

func TestReset(t *testing.T) {
	finished := func(t *testing.T) *client {
		c := setupGame(t)
		for _, mv := range []struct {
			client string
			cell   int
		}{
			{"client-a", 0}, {"client-b", 3},
			{"client-a", 1}, {"client-b", 4},
			{"client-a", 2},
		} {
			require.True(t, c.engine.ApplyMove(mv.client, mv.cell).Accepted())
		}
		return c
	}

	t.Run("rematch keeps slots and scores", func(t *testing.T) {
		c := finished(t)
		c.engine.Reset(true)

		st := c.engine.State()
		assert.Equal(t, StatusActive, st.Status, "fully claimed game restarts immediately")
		assert.Equal(t, make([]string, 9), st.Board)
		assert.Equal(t, "X", st.TurnSlot)
		assert.Equal(t, Outcome{}, st.Outcome)
		assert.Equal(t, "client-a", st.Slots["X"])
		assert.Equal(t, map[string]int{"client-a": 1}, st.Scores, "reset never touches scores")
	})

	t.Run("full reset clears slots", func(t *testing.T) {
		c := finished(t)
		c.engine.Reset(false)

		st := c.engine.State()
		assert.Equal(t, StatusWaiting, st.Status)
		assert.Empty(t, st.Slots["X"])
		assert.Empty(t, st.Slots["O"])
		assert.Equal(t, map[string]int{"client-a": 1}, st.Scores)
	})

	t.Run("ResetScores clears the ledger", func(t *testing.T) {
		c := finished(t)
		c.engine.ResetScores()
		assert.Empty(t, c.engine.State().Scores)
	})
}

// TestMoveAfterRemoteFinish pins the guard for the cross-key race: a status
// change merged from a peer between the caller's look and its move must be
// honored, because preconditions are re-checked inside the critical section.
func TestMoveAfterRemoteFinish(t *testing.T) {
	c := setupGame(t)

	accepted := c.store.ApplyRemote(statestore.Update{
		Key:       "game:demo:status",
		Value:     []byte(`"finished"`),
		Timestamp: 1000,
		ClientID:  "client-b",
	})
	require.True(t, accepted)

	assert.Equal(t, MoveRejectedNotActive, c.engine.ApplyMove("client-a", 0))
}

func TestSubscribe(t *testing.T) {
	c := setupGame(t)

	changes := 0
	unsub := c.engine.Subscribe(func() { changes++ })
	defer unsub()

	require.True(t, c.engine.ApplyMove("client-a", 0).Accepted())
	assert.Greater(t, changes, 0)

	changes = 0
	unsub()
	require.True(t, c.engine.ApplyMove("client-b", 1).Accepted())
	assert.Zero(t, changes)
}
