package relay

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddlekit/huddle/pkg/statestore"
	"github.com/huddlekit/huddle/pkg/transport"
)

// setupRelay starts a relay on an httptest server and returns its ws:// URL.
func setupRelay(t *testing.T) string {
	t.Helper()
	srv := NewServer()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws"
}

func dial(t *testing.T, wsURL, session, nickname string) *transport.RelayTransport {
	t.Helper()
	tr, err := transport.NewRelay(context.Background(), wsURL, session, nickname)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func recvUpdate(t *testing.T, ch <-chan statestore.Update) statestore.Update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return statestore.Update{}
	}
}

func recvPresence(t *testing.T, ch <-chan transport.PresenceEvent) transport.PresenceEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for presence event")
		return transport.PresenceEvent{}
	}
}

func TestRelayWelcome(t *testing.T) {
	wsURL := setupRelay(t)

	a := dial(t, wsURL, "room-1", "alpha")
	b := dial(t, wsURL, "room-1", "beta")

	assert.NotEmpty(t, a.ClientID())
	assert.NotEmpty(t, b.ClientID())
	assert.NotEqual(t, a.ClientID(), b.ClientID())

	snap, err := a.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap, "fresh room has no state")
}

func TestRelayBroadcast(t *testing.T) {
	wsURL := setupRelay(t)
	ctx := context.Background()

	a := dial(t, wsURL, "room-1", "")
	b := dial(t, wsURL, "room-1", "")
	other := dial(t, wsURL, "room-2", "")

	u := statestore.Update{Key: "counter", Value: []byte(`5`), Timestamp: 3, ClientID: a.ClientID()}
	require.NoError(t, a.Publish(ctx, u))

	assert.Equal(t, u, recvUpdate(t, b.Updates()), "peer receives the update")
	assert.Equal(t, u, recvUpdate(t, a.Updates()), "sender receives its own echo")

	select {
	case got := <-other.Updates():
		t.Fatalf("update leaked across rooms: %+v", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRelaySnapshotForLateJoiner(t *testing.T) {
	wsURL := setupRelay(t)
	ctx := context.Background()

	a := dial(t, wsURL, "room-1", "")
	require.NoError(t, a.Publish(ctx, statestore.Update{
		Key: "counter", Value: []byte(`1`), Timestamp: 1, ClientID: a.ClientID(),
	}))
	require.NoError(t, a.Publish(ctx, statestore.Update{
		Key: "counter", Value: []byte(`2`), Timestamp: 2, ClientID: a.ClientID(),
	}))

	// The relay processes frames asynchronously; wait for the echo before
	// asserting on the room's snapshot state.
	recvUpdate(t, a.Updates())
	recvUpdate(t, a.Updates())

	late := dial(t, wsURL, "room-1", "")
	snap, err := late.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, "counter", snap[0].Key)
	assert.Equal(t, uint64(2), snap[0].Timestamp, "snapshot holds the winning update")
}

func TestRelayPresence(t *testing.T) {
	wsURL := setupRelay(t)
	ctx := context.Background()

	a := dial(t, wsURL, "room-1", "alpha")
	b := dial(t, wsURL, "room-1", "beta")

	ev := transport.PresenceEvent{ClientID: a.ClientID(), Nickname: "alpha", Kind: transport.PresenceJoined}
	require.NoError(t, a.PublishPresence(ctx, ev))
	assert.Equal(t, ev, recvPresence(t, b.Presence()))
}

func TestRelayDisconnectAnnouncesLeft(t *testing.T) {
	wsURL := setupRelay(t)

	a := dial(t, wsURL, "room-1", "alpha")
	b := dial(t, wsURL, "room-1", "beta")
	aID := a.ClientID()

	require.NoError(t, a.Close())

	ev := recvPresence(t, b.Presence())
	assert.Equal(t, aID, ev.ClientID)
	assert.Equal(t, transport.PresenceLeft, ev.Kind)
	assert.Equal(t, "alpha", ev.Nickname)
}

func TestRelayLeftClearsEphemeral(t *testing.T) {
	wsURL := setupRelay(t)
	ctx := context.Background()

	a := dial(t, wsURL, "room-1", "")
	b := dial(t, wsURL, "room-1", "")

	require.NoError(t, a.Publish(ctx, statestore.Update{
		Key:       statestore.EphemeralKey("cursor", a.ClientID()),
		Value:     []byte(`{"x":1,"y":2}`),
		Timestamp: 1,
		ClientID:  a.ClientID(),
	}))
	recvUpdate(t, b.Updates())

	require.NoError(t, a.Close())
	recvPresence(t, b.Presence())

	late := dial(t, wsURL, "room-1", "")
	snap, err := late.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap, "departed client's ephemeral cursor is gone")
}
