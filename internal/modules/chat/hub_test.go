package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nfrund/watchparty/internal/metrics"
	"github.com/nfrund/watchparty/internal/modules/control/events"
	"github.com/nfrund/watchparty/internal/playback"
	"github.com/nfrund/watchparty/internal/pubsub"
	"github.com/nfrund/watchparty/internal/testutils"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGrace = 100 * time.Millisecond

type harness struct {
	hub     *Hub
	store   *playback.Store
	bus     *pubsub.WatermillBridge
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	bus := pubsub.NewWatermillBridge()
	t.Cleanup(func() { _ = bus.Close() })

	store := playback.NewStore()
	m := metrics.NewNop()
	opts = append([]Option{WithGracePeriod(testGrace), WithPingInterval(time.Hour)}, opts...)
	hub := NewHub(store, bus, m, opts...)
	t.Cleanup(func() { _ = hub.Shutdown(context.Background()) })

	return &harness{hub: hub, store: store, bus: bus, metrics: m}
}

// connect runs a fake connection for user in room and waits until the join
// has completed, which the presence frame signals.
func (h *harness) connect(t *testing.T, room, user string) *testutils.FakeConn {
	t.Helper()
	conn := testutils.NewFakeConn(user + "-" + time.Now().Format("150405.000000000"))
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.hub.Serve(context.Background(), conn, room, user)
	}()
	t.Cleanup(func() {
		conn.Disconnect()
		<-done
	})

	require.Eventually(t, func() bool {
		return len(conn.FramesOfType("presence")) == 1
	}, testutils.WaitFor, testutils.Tick)
	return conn
}

func texts(conn *testutils.FakeConn) []string {
	var out []string
	for _, f := range conn.Frames() {
		if text, ok := f["text"].(string); ok {
			out = append(out, text)
		}
	}
	return out
}

func hasText(conn *testutils.FakeConn, text string) func() bool {
	return func() bool {
		for _, got := range texts(conn) {
			if got == text {
				return true
			}
		}
		return false
	}
}

func TestHub_JoinSendsPresenceAndAnnouncesToOthers(t *testing.T) {
	h := newHarness(t)

	alice := h.connect(t, "party1", "A")
	presence := alice.FramesOfType("presence")[0]
	assert.Equal(t, []any{"A"}, presence["users"])
	assert.NotEmpty(t, presence["sentAt"])

	bob := h.connect(t, "party1", "B")
	assert.Equal(t, []any{"A", "B"}, bob.FramesOfType("presence")[0]["users"])

	require.Eventually(t, hasText(alice, "B has joined the room."), testutils.WaitFor, testutils.Tick)

	notice := alice.Frames()[1]
	assert.Equal(t, SystemUser, notice["user"])
	assert.Equal(t, "party1", notice["roomId"])
	assert.Equal(t, 0.0, notice["timestamp"])

	// Nobody hears about their own arrival.
	assert.NotContains(t, texts(alice), "A has joined the room.")
	assert.NotContains(t, texts(bob), "B has joined the room.")
}

func TestHub_SecondConnectionIsNotAnnouncedAgain(t *testing.T) {
	h := newHarness(t)

	bob := h.connect(t, "party1", "B")
	h.connect(t, "party1", "A")
	require.Eventually(t, hasText(bob, "A has joined the room."), testutils.WaitFor, testutils.Tick)

	second := h.connect(t, "party1", "A")
	assert.Equal(t, []any{"A", "B"}, second.FramesOfType("presence")[0]["users"])

	time.Sleep(50 * time.Millisecond)
	count := 0
	for _, text := range texts(bob) {
		if text == "A has joined the room." {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestHub_MessagesAreStampedAndSentToOthers(t *testing.T) {
	h := newHarness(t)

	alice := h.connect(t, "party1", "A")
	bob := h.connect(t, "party1", "B")

	alice.Deliver(`not json`)
	alice.Deliver(`{"text":"   "}`)
	alice.Deliver(`{"text":42}`)
	alice.Deliver(`{"text":"hello","timestamp":12.5,"roomId":"spoofed","user":"mallory"}`)

	require.Eventually(t, hasText(bob, "hello"), testutils.WaitFor, testutils.Tick)

	var msg map[string]any
	for _, f := range bob.Frames() {
		if f["text"] == "hello" {
			msg = f
		}
	}
	assert.Equal(t, "A", msg["user"])
	assert.Equal(t, "party1", msg["roomId"])
	assert.Equal(t, 12.5, msg["timestamp"])
	assert.NotEmpty(t, msg["sentAt"])

	assert.NotContains(t, texts(alice), "hello", "the sender does not get its own message back")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Messages.WithLabelValues("party1")))
}

func TestHub_RoomsAreIsolated(t *testing.T) {
	h := newHarness(t)

	alice := h.connect(t, "party1", "A")
	other := h.connect(t, "party2", "Z")
	bob := h.connect(t, "party1", "B")

	alice.Deliver(`{"text":"only party1"}`)
	require.Eventually(t, hasText(bob, "only party1"), testutils.WaitFor, testutils.Tick)
	assert.NotContains(t, texts(other), "only party1")
	assert.NotContains(t, texts(other), "B has joined the room.")
}

func TestHub_LeaveIsAnnouncedAfterGrace(t *testing.T) {
	h := newHarness(t)

	alice := h.connect(t, "party1", "A")
	bob := h.connect(t, "party1", "B")

	alice.Disconnect()

	// Still present while the grace timer runs.
	require.Eventually(t, func() bool { return h.hub.roster.Pending("party1", "A") }, testutils.WaitFor, testutils.Tick)
	assert.Equal(t, []string{"A", "B"}, h.hub.Users("party1"))

	require.Eventually(t, hasText(bob, "A has left the room."), testutils.WaitFor, testutils.Tick)
	assert.Equal(t, []string{"B"}, h.hub.Users("party1"))
}

func TestHub_ReconnectWithinGraceSuppressesLeave(t *testing.T) {
	h := newHarness(t)

	bob := h.connect(t, "party1", "B")
	alice := h.connect(t, "party1", "A")
	require.Eventually(t, hasText(bob, "A has joined the room."), testutils.WaitFor, testutils.Tick)

	alice.Disconnect()
	require.Eventually(t, func() bool { return h.hub.roster.Pending("party1", "A") }, testutils.WaitFor, testutils.Tick)

	h.connect(t, "party1", "A")
	time.Sleep(3 * testGrace)

	assert.NotContains(t, texts(bob), "A has left the room.")
	assert.Equal(t, 1, countText(bob, "A has joined the room."))
	assert.Equal(t, []string{"A", "B"}, h.hub.Users("party1"))
}

func countText(conn *testutils.FakeConn, text string) int {
	n := 0
	for _, got := range texts(conn) {
		if got == text {
			n++
		}
	}
	return n
}

func TestHub_ClosingOneOfTwoConnectionsKeepsUserPresent(t *testing.T) {
	h := newHarness(t)

	first := h.connect(t, "party1", "A")
	h.connect(t, "party1", "A")
	bob := h.connect(t, "party1", "B")

	first.Disconnect()
	time.Sleep(3 * testGrace)

	assert.False(t, h.hub.roster.Pending("party1", "A"))
	assert.NotContains(t, texts(bob), "A has left the room.")
}

func seekRecorder(t *testing.T, bus *pubsub.WatermillBridge) func() []events.SeekRequested {
	t.Helper()
	var (
		mu  sync.Mutex
		got []events.SeekRequested
	)
	require.NoError(t, pubsub.Subscribe(context.Background(), bus, events.SeekRequestedEvent, func(ctx context.Context, ev events.SeekRequested) error {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		return nil
	}))
	return func() []events.SeekRequested {
		mu.Lock()
		defer mu.Unlock()
		return append([]events.SeekRequested(nil), got...)
	}
}

func TestHub_CatchUpWithoutSnapshotIsSilent(t *testing.T) {
	h := newHarness(t)
	seeks := seekRecorder(t, h.bus)

	alice := h.connect(t, "party1", "A")
	bob := h.connect(t, "party1", "B")

	alice.Deliver(`{"text":"/catchup"}`)
	alice.Deliver(`{"text":"marker"}`)
	require.Eventually(t, hasText(bob, "marker"), testutils.WaitFor, testutils.Tick)
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, seeks())
	for _, text := range append(texts(alice), texts(bob)...) {
		assert.NotContains(t, text, "catch-up")
	}
	assert.NotContains(t, texts(bob), "/catchup")
}

func TestHub_CatchUpPublishesSeekAndNotifiesEveryone(t *testing.T) {
	h := newHarness(t)
	seeks := seekRecorder(t, h.bus)
	h.store.Set("party1", playback.Snapshot{Timestamp: 42, IsPlaying: true})

	alice := h.connect(t, "party1", "A")
	bob := h.connect(t, "party1", "B")

	alice.Deliver(`{"text":"  /CATCHUP "}`)

	notice := "A requested catch-up to 42s"
	require.Eventually(t, hasText(alice, notice), testutils.WaitFor, testutils.Tick)
	require.Eventually(t, hasText(bob, notice), testutils.WaitFor, testutils.Tick)

	require.Eventually(t, func() bool { return len(seeks()) == 1 }, testutils.WaitFor, testutils.Tick)
	assert.Equal(t, events.SeekRequested{Room: "party1", Timestamp: 42, RequestedBy: "A"}, seeks()[0])
}

func TestHub_FailedPeerIsDroppedWithoutAbortingFanOut(t *testing.T) {
	h := newHarness(t)

	alice := h.connect(t, "party1", "A")
	bob := h.connect(t, "party1", "B")
	carol := h.connect(t, "party1", "C")
	dave := h.connect(t, "party1", "D")

	carol.FailSends(errors.New("broken pipe"))
	alice.Deliver(`{"text":"hello"}`)

	require.Eventually(t, hasText(bob, "hello"), testutils.WaitFor, testutils.Tick)
	require.Eventually(t, hasText(dave, "hello"), testutils.WaitFor, testutils.Tick)
	assert.Equal(t, 3, h.hub.conns.Count("party1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Errors.WithLabelValues(metrics.HubChat, metrics.ReasonSend)))
}

func TestHub_Metrics(t *testing.T) {
	h := newHarness(t)

	alice := h.connect(t, "party1", "A")
	h.connect(t, "party1", "B")
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.ActiveConnections.WithLabelValues(metrics.HubChat, "party1")))

	alice.Deliver(`{"text":"one"}`)
	alice.Deliver(`{"text":"two"}`)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.Messages.WithLabelValues("party1")) == 2
	}, testutils.WaitFor, testutils.Tick)

	var latency dto.Metric
	require.NoError(t, h.metrics.JoinLatency.Write(&latency))
	assert.Equal(t, uint64(1), latency.GetHistogram().GetSampleCount(), "only the first message is timed")

	alice.Disconnect()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.ActiveConnections.WithLabelValues(metrics.HubChat, "party1")) == 1
	}, testutils.WaitFor, testutils.Tick)
}

func TestHub_PingFailureIsCountedAndConnectionSurvives(t *testing.T) {
	h := newHarness(t, WithPingInterval(10*time.Millisecond))

	alice := h.connect(t, "party1", "A")
	require.Eventually(t, func() bool {
		for _, raw := range alice.Sent() {
			if string(raw) == `{"type":"ping"}` {
				return true
			}
		}
		return false
	}, testutils.WaitFor, testutils.Tick)

	alice.FailSends(errors.New("write timeout"))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.Errors.WithLabelValues(metrics.HubChat, metrics.ReasonPing)) == 1
	}, testutils.WaitFor, testutils.Tick)

	alice.FailSends(nil)
	bob := h.connect(t, "party1", "B")
	alice.Deliver(`{"text":"still here"}`)
	require.Eventually(t, hasText(bob, "still here"), testutils.WaitFor, testutils.Tick)
}

func TestHub_ShutdownClosesConnectionsWithoutLeaving(t *testing.T) {
	h := newHarness(t)

	alice := h.connect(t, "party1", "A")
	bob := h.connect(t, "party1", "B")

	require.NoError(t, h.hub.Shutdown(context.Background()))

	assert.Equal(t, "server shutting down", alice.CloseReason())
	assert.Equal(t, "server shutting down", bob.CloseReason())
	time.Sleep(3 * testGrace)
	assert.False(t, h.hub.roster.Pending("party1", "A"))
}
