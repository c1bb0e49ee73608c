package testutils

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/nfrund/watchparty/internal/websocket"
)

// FakeConn is an in-memory websocket.Conn. Tests push inbound frames with
// Deliver, end the connection with Disconnect and inspect what the hub sent.
type FakeConn struct {
	id      string
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	reason  string
}

// NewFakeConn creates a FakeConn with the given id.
func NewFakeConn(id string) *FakeConn {
	return &FakeConn{
		id:      id,
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *FakeConn) ID() string { return c.id }

// Send records payload, or fails with the error set by FailSends.
func (c *FakeConn) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendErr != nil {
		return c.sendErr
	}
	select {
	case <-c.closed:
		return websocket.ErrClosed
	default:
	}
	frame := make([]byte, len(payload))
	copy(frame, payload)
	c.sent = append(c.sent, frame)
	return nil
}

// Receive returns queued frames before reporting a disconnect.
func (c *FakeConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.inbound:
		return msg, nil
	default:
	}

	select {
	case msg := <-c.inbound:
		return msg, nil
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close marks the connection closed and remembers the reason.
func (c *FakeConn) Close(reason string) error {
	c.mu.Lock()
	if c.reason == "" {
		c.reason = reason
	}
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Deliver queues an inbound frame, as if the peer had sent it.
func (c *FakeConn) Deliver(frame string) {
	c.inbound <- []byte(frame)
}

// DeliverJSON marshals v and queues it as an inbound frame.
func (c *FakeConn) DeliverJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	c.inbound <- data
}

// Disconnect simulates the peer going away.
func (c *FakeConn) Disconnect() {
	c.once.Do(func() { close(c.closed) })
}

// FailSends makes every subsequent Send return err. A nil err restores sending.
func (c *FakeConn) FailSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// Sent returns a copy of every frame sent so far.
func (c *FakeConn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// Frames decodes every sent frame as a JSON object, skipping pings.
func (c *FakeConn) Frames() []map[string]any {
	var frames []map[string]any
	for _, raw := range c.Sent() {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		if m["type"] == "ping" {
			continue
		}
		frames = append(frames, m)
	}
	return frames
}

// FramesOfType returns the decoded frames whose "type" field equals typ.
func (c *FakeConn) FramesOfType(typ string) []map[string]any {
	var out []map[string]any
	for _, f := range c.Frames() {
		if f["type"] == typ {
			out = append(out, f)
		}
	}
	return out
}

// CloseReason returns the reason passed to the first Close call.
func (c *FakeConn) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}
