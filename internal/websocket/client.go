package websocket

import (
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// ErrClosed is returned by Send and Receive once the connection was closed locally.
var ErrClosed = errors.New("websocket: connection closed")

const (
	// DefaultWriteTimeout is the time allowed to write a single frame to the peer.
	DefaultWriteTimeout = 10 * time.Second
	// readLimit bounds a single inbound frame. Signalling SDP blobs are the largest.
	readLimit = 64 << 10
)

// Conn is one open bidirectional channel to a single user. Hubs only ever see
// this interface so they can be driven by fakes in tests.
type Conn interface {
	// ID is a unique, log-friendly identifier for the connection.
	ID() string
	// Send writes one text frame. It is safe to call concurrently.
	Send(ctx context.Context, payload []byte) error
	// Receive blocks until the next frame arrives or the connection fails.
	// It must only be called from one goroutine.
	Receive(ctx context.Context) ([]byte, error)
	// Close closes the connection with the given reason.
	Close(reason string) error
}

// Client adapts a coder/websocket connection to Conn.
type Client struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// NewClient wraps conn. A non-positive writeTimeout falls back to DefaultWriteTimeout.
func NewClient(conn *websocket.Conn, writeTimeout time.Duration) *Client {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	conn.SetReadLimit(readLimit)
	return &Client{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (c *Client) ID() string { return c.id }

// Send writes payload as a text frame, bounded by the client's write timeout.
func (c *Client) Send(ctx context.Context, payload []byte) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

// Receive reads the next data frame. Text and binary frames are both accepted.
func (c *Client) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

// Close performs a normal closure handshake. Closing twice is a no-op.
func (c *Client) Close(reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.conn.Close(websocket.StatusNormalClosure, reason)
}

// AcceptOptions configures the websocket upgrade.
type AcceptOptions struct {
	// OriginPatterns lists the host patterns allowed to connect. A "*" entry
	// disables origin checking.
	OriginPatterns []string
	WriteTimeout   time.Duration
}

// Accept upgrades the request and returns the wrapped connection.
func Accept(w http.ResponseWriter, r *http.Request, opts AcceptOptions) (*Client, error) {
	acceptOpts := &websocket.AcceptOptions{
		OriginPatterns: opts.OriginPatterns,
	}
	if len(opts.OriginPatterns) == 0 || slices.Contains(opts.OriginPatterns, "*") {
		acceptOpts.OriginPatterns = nil
		acceptOpts.InsecureSkipVerify = true
	}

	conn, err := websocket.Accept(w, r, acceptOpts)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, opts.WriteTimeout), nil
}

// IsNormalClosure reports whether err is the expected end of a connection
// rather than a transport failure worth logging at error level.
func IsNormalClosure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		return true
	}
	return false
}
