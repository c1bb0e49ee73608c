package signal

import (
	"context"
	"testing"
	"time"

	"github.com/nfrund/watchparty/internal/metrics"
	"github.com/nfrund/watchparty/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, hub *Hub, room string) *testutils.FakeConn {
	t.Helper()
	conn := testutils.NewFakeConn("peer")
	key := room
	if key == "" {
		key = DefaultRoom
	}
	expected := hub.conns.Count(key) + 1
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Serve(context.Background(), conn, room, "")
	}()
	t.Cleanup(func() {
		conn.Disconnect()
		<-done
	})
	require.Eventually(t, func() bool { return hub.conns.Count(key) == expected }, testutils.WaitFor, testutils.Tick)
	return conn
}

func TestHub_RelaysToOthersOnly(t *testing.T) {
	hub := NewHub(metrics.NewNop(), time.Hour)
	t.Cleanup(func() { _ = hub.Shutdown(context.Background()) })

	caller := serve(t, hub, "party1")
	callee := serve(t, hub, "party1")
	outsider := serve(t, hub, "party2")

	offer := `{"type":"offer","sdp":"v=0"}`
	caller.Deliver(offer)

	require.Eventually(t, func() bool { return len(callee.Sent()) == 1 }, testutils.WaitFor, testutils.Tick)
	assert.Equal(t, offer, string(callee.Sent()[0]))
	assert.Empty(t, caller.Sent())
	assert.Empty(t, outsider.Sent())
}

func TestHub_DefaultRoom(t *testing.T) {
	hub := NewHub(metrics.NewNop(), time.Hour)
	t.Cleanup(func() { _ = hub.Shutdown(context.Background()) })

	a := serve(t, hub, "")
	b := serve(t, hub, DefaultRoom)

	a.Deliver(`{"type":"candidate"}`)
	require.Eventually(t, func() bool { return len(b.Sent()) == 1 }, testutils.WaitFor, testutils.Tick)
}

func TestHub_FramesAreOpaque(t *testing.T) {
	hub := NewHub(metrics.NewNop(), time.Hour)
	t.Cleanup(func() { _ = hub.Shutdown(context.Background()) })

	a := serve(t, hub, "party1")
	b := serve(t, hub, "party1")

	a.Deliver(`not even json`)
	require.Eventually(t, func() bool { return len(b.Sent()) == 1 }, testutils.WaitFor, testutils.Tick)
	assert.Equal(t, "not even json", string(b.Sent()[0]))
}
