package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermillBridge_PublishSubscribe(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	received := make(chan Message, 1)
	err := bridge.Subscribe(context.Background(), "test.topic", func(ctx context.Context, msg Message) error {
		received <- msg
		return nil
	})
	require.NoError(t, err)

	err = bridge.Publish(context.Background(), Message{
		Topic:    "test.topic",
		UserID:   "user123",
		Payload:  []byte(`{"hello":"world"}`),
		Metadata: map[string]string{MetaRoom: "party1"},
	})
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, "test.topic", msg.Topic)
		assert.Equal(t, "user123", msg.UserID)
		assert.JSONEq(t, `{"hello":"world"}`, string(msg.Payload))
		assert.Equal(t, "party1", msg.Room())
		assert.NotContains(t, msg.Metadata, metaUserID)
	case <-time.After(2 * time.Second):
		t.Fatal("message was not delivered")
	}
}

type seekPayload struct {
	Room      string  `json:"room"`
	Timestamp float64 `json:"timestamp"`
}

func (p seekPayload) Scope() string { return p.Room }

type unscoped struct {
	N int `json:"n"`
}

func TestTypedEvent_RoundTrip(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	event := NewEvent[seekPayload]("test.seek", "seek requested")
	assert.Equal(t, "test.seek", event.Name())
	assert.Equal(t, "seek requested", event.Description())

	received := make(chan seekPayload, 1)
	rooms := make(chan string, 1)
	require.NoError(t, bridge.Subscribe(context.Background(), event.Name(), func(ctx context.Context, msg Message) error {
		rooms <- msg.Room()
		return nil
	}))
	require.NoError(t, Subscribe(context.Background(), bridge, event, func(ctx context.Context, p seekPayload) error {
		received <- p
		return nil
	}))

	require.NoError(t, Publish(context.Background(), bridge, event, "alice", seekPayload{Room: "party1", Timestamp: 42}))

	select {
	case p := <-received:
		assert.Equal(t, seekPayload{Room: "party1", Timestamp: 42}, p)
	case <-time.After(2 * time.Second):
		t.Fatal("typed event was not delivered")
	}
	assert.Equal(t, "party1", <-rooms, "scoped payloads carry their room as metadata")
}

func TestTypedEvent_UnscopedHasNoRoom(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	event := NewEvent[unscoped]("test.unscoped", "")
	rooms := make(chan string, 1)
	require.NoError(t, bridge.Subscribe(context.Background(), event.Name(), func(ctx context.Context, msg Message) error {
		rooms <- msg.Room()
		return nil
	}))
	require.NoError(t, Publish(context.Background(), bridge, event, "", unscoped{N: 1}))

	select {
	case room := <-rooms:
		assert.Empty(t, room)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestTypedEvent_UndecodablePayloadIsAHandlerError(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	event := NewEvent[seekPayload]("test.bad", "")
	called := make(chan struct{}, 1)
	require.NoError(t, Subscribe(context.Background(), bridge, event, func(ctx context.Context, p seekPayload) error {
		called <- struct{}{}
		return nil
	}))
	require.NoError(t, bridge.Publish(context.Background(), Message{Topic: "test.bad", Payload: []byte("not json")}))

	select {
	case <-called:
		t.Fatal("handler must not see undecodable payloads")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatermillBridge_FailingHandlerDoesNotRedeliverForever(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	calls := make(chan struct{}, 16)
	require.NoError(t, bridge.Subscribe(context.Background(), "broken", func(ctx context.Context, msg Message) error {
		calls <- struct{}{}
		return assert.AnError
	}))
	require.NoError(t, bridge.Publish(context.Background(), Message{Topic: "broken", Payload: []byte("{}")}))

	<-calls
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, calls, "a failed message must be acknowledged, not redelivered")
}
