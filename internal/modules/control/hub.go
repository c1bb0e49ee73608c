package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nfrund/watchparty/internal/metrics"
	"github.com/nfrund/watchparty/internal/playback"
	"github.com/nfrund/watchparty/internal/websocket"
)

// Transport event types. Anything else is ignored.
const (
	TypePlay  = "play"
	TypePause = "pause"
	TypeSeek  = "seek"
	TypeInit  = "init"
)

// event is an inbound transport frame.
type event struct {
	Type      string   `json:"type" validate:"required,oneof=play pause seek"`
	Timestamp *float64 `json:"timestamp" validate:"required,gte=0"`
}

type initFrame struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
	IsPlaying bool    `json:"isPlaying"`
}

type seekFrame struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
	SentAt    string  `json:"sentAt"`
}

// Hub synchronizes playback across every control connection of a room.
// Each room keeps a single retained snapshot, last writer wins, which is
// replayed to late joiners as an init frame.
type Hub struct {
	conns        *websocket.Registry
	store        *playback.Store
	metrics      *metrics.Metrics
	validate     *validator.Validate
	pingInterval time.Duration
	logger       *slog.Logger

	mu    sync.Mutex
	rooms map[string]*sync.Mutex
}

// NewHub creates a control hub writing snapshots to store.
func NewHub(store *playback.Store, m *metrics.Metrics, pingInterval time.Duration) *Hub {
	return &Hub{
		conns:        websocket.NewRegistry(),
		store:        store,
		metrics:      m,
		validate:     validator.New(),
		pingInterval: pingInterval,
		logger:       slog.Default().With("hub", metrics.HubControl),
		rooms:        make(map[string]*sync.Mutex),
	}
}

// roomLock serializes snapshot writes with membership changes so a joiner
// never misses an event that its init frame does not reflect. No network
// write happens while it is held.
func (h *Hub) roomLock(room string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.rooms[room]
	if !ok {
		l = &sync.Mutex{}
		h.rooms[room] = l
	}
	return l
}

// Serve runs a control connection until it disconnects.
func (h *Hub) Serve(ctx context.Context, conn websocket.Conn, room, userID string) {
	logger := h.logger.With("room", room, "user_id", userID, "conn_id", conn.ID())
	h.metrics.Connected(metrics.HubControl, room)
	defer h.metrics.Disconnected(metrics.HubControl, room)

	pingCtx, stopPing := context.WithCancel(ctx)
	go websocket.Ping(pingCtx, conn, h.pingInterval, func(err error) {
		h.metrics.PingFailed(metrics.HubControl)
		logger.Debug("Ping failed", "error", err)
	})

	h.join(ctx, conn, room, userID, logger)
	logger.Debug("Control connection joined", "peers", h.conns.Count(room))

	for {
		raw, err := conn.Receive(ctx)
		if err != nil {
			if !websocket.IsNormalClosure(err) {
				logger.Warn("Control connection failed", "error", err)
			}
			break
		}
		h.handle(ctx, room, raw, logger)
	}

	stopPing()
	h.conns.Unregister(conn)
	logger.Debug("Control connection left", "peers", h.conns.Count(room))
}

// join sends the room's snapshot to conn and then registers it. The init
// write happens outside the room lock; if an event moved the snapshot in the
// meantime the newer one is sent before conn starts receiving broadcasts.
func (h *Hub) join(ctx context.Context, conn websocket.Conn, room, userID string, logger *slog.Logger) {
	lock := h.roomLock(room)
	var sent *playback.Snapshot
	for {
		lock.Lock()
		snap, ok := h.store.Get(room)
		if !ok || (sent != nil && *sent == snap) {
			h.conns.Register(conn, websocket.Identity{Room: room, UserID: userID})
			lock.Unlock()
			return
		}
		lock.Unlock()

		frame, _ := json.Marshal(initFrame{Type: TypeInit, Timestamp: snap.Timestamp, IsPlaying: snap.IsPlaying})
		if err := conn.Send(ctx, frame); err != nil {
			h.metrics.SendFailed(metrics.HubControl, 1)
			logger.Debug("Failed to send init", "error", err)
			h.conns.Register(conn, websocket.Identity{Room: room, UserID: userID})
			return
		}
		sent = &snap
	}
}

func (h *Hub) handle(ctx context.Context, room string, raw []byte, logger *slog.Logger) {
	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		logger.Warn("Ignoring malformed control frame", "error", err)
		return
	}
	switch ev.Type {
	case TypePlay, TypePause, TypeSeek:
	default:
		logger.Debug("Ignoring unknown control event", "type", ev.Type)
		return
	}
	if err := h.validate.Struct(ev); err != nil {
		logger.Warn("Ignoring invalid control event", "type", ev.Type, "error", err)
		return
	}

	h.metrics.ControlEvents.WithLabelValues(room, ev.Type).Inc()

	lock := h.roomLock(room)
	lock.Lock()
	h.store.Set(room, playback.Snapshot{Timestamp: *ev.Timestamp, IsPlaying: ev.Type == TypePlay})
	peers := h.conns.Peers(room)
	lock.Unlock()

	failed := h.conns.Deliver(ctx, room, peers, raw)
	h.metrics.SendFailed(metrics.HubControl, failed)
}

// Seek tells every control connection in room to jump to timestamp.
func (h *Hub) Seek(ctx context.Context, room string, timestamp float64) int {
	frame, _ := json.Marshal(seekFrame{Type: TypeSeek, Timestamp: timestamp, SentAt: websocket.Now()})
	peers := h.conns.Peers(room)
	failed := h.conns.Deliver(ctx, room, peers, frame)
	h.metrics.SendFailed(metrics.HubControl, failed)
	return len(peers) - failed
}

// Count returns the number of control connections in room.
func (h *Hub) Count(room string) int {
	return h.conns.Count(room)
}

// Shutdown closes every control connection.
func (h *Hub) Shutdown(ctx context.Context) error {
	return h.conns.CloseAll(ctx, "server shutting down")
}
