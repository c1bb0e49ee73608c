// Package signal relays WebRTC signalling (offers, answers and ICE
// candidates) between the participants of a room. Frames are opaque.
package signal

import (
	"context"
	"log/slog"
	"time"

	"github.com/nfrund/watchparty/internal/metrics"
	"github.com/nfrund/watchparty/internal/websocket"
)

// DefaultRoom is used by clients that connect without a room.
const DefaultRoom = "signal"

// Hub relays signalling frames between the connections of a room. It keeps
// no state beyond the room membership.
type Hub struct {
	conns        *websocket.Registry
	metrics      *metrics.Metrics
	pingInterval time.Duration
	logger       *slog.Logger
}

// NewHub creates a signalling hub that pings its connections every
// pingInterval.
func NewHub(m *metrics.Metrics, pingInterval time.Duration) *Hub {
	return &Hub{
		conns:        websocket.NewRegistry(),
		metrics:      m,
		pingInterval: pingInterval,
		logger:       slog.Default().With("hub", metrics.HubSignal),
	}
}

// Serve relays every frame conn sends to the other connections in room.
func (h *Hub) Serve(ctx context.Context, conn websocket.Conn, room, userID string) {
	if room == "" {
		room = DefaultRoom
	}
	logger := h.logger.With("room", room, "conn_id", conn.ID())
	h.metrics.Connected(metrics.HubSignal, room)
	defer h.metrics.Disconnected(metrics.HubSignal, room)

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go websocket.Ping(pingCtx, conn, h.pingInterval, func(err error) {
		h.metrics.PingFailed(metrics.HubSignal)
	})

	h.conns.Register(conn, websocket.Identity{Room: room, UserID: userID})
	defer h.conns.Unregister(conn)
	logger.Debug("Signal peer connected", "peers", h.conns.Count(room))

	for {
		raw, err := conn.Receive(ctx)
		if err != nil {
			if !websocket.IsNormalClosure(err) {
				logger.Warn("Signal connection failed", "error", err)
			}
			return
		}
		failed := h.conns.Broadcast(ctx, room, raw, conn)
		h.metrics.SendFailed(metrics.HubSignal, failed)
	}
}

// Shutdown closes every signalling connection.
func (h *Hub) Shutdown(ctx context.Context) error {
	return h.conns.CloseAll(ctx, "server shutting down")
}
