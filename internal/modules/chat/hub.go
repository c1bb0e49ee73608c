package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nfrund/watchparty/internal/metrics"
	"github.com/nfrund/watchparty/internal/modules/control/events"
	"github.com/nfrund/watchparty/internal/playback"
	"github.com/nfrund/watchparty/internal/presence"
	"github.com/nfrund/watchparty/internal/pubsub"
	"github.com/nfrund/watchparty/internal/websocket"
)

const (
	// SystemUser is the sender name of messages generated by the server.
	SystemUser = "System"
	// CatchUpCommand asks the room's players to jump to the retained position.
	CatchUpCommand = "/catchup"

	defaultGracePeriod = 3 * time.Second
)

// Snapshots reads the retained playback state of a room.
type Snapshots interface {
	Get(room string) (playback.Snapshot, bool)
}

// Message is a chat line as broadcast to a room. System notices use the same
// shape with User set to SystemUser and a zero Timestamp.
type Message struct {
	RoomID    string  `json:"roomId"`
	User      string  `json:"user"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
	SentAt    string  `json:"sentAt"`
}

type presenceFrame struct {
	Type   string   `json:"type"`
	Users  []string `json:"users"`
	SentAt string   `json:"sentAt"`
}

// Hub fans chat messages out to every connection of a room and keeps the
// room's presence roster.
type Hub struct {
	conns        *websocket.Registry
	roster       *presence.Roster
	snapshots    Snapshots
	publisher    pubsub.Publisher
	metrics      *metrics.Metrics
	grace        time.Duration
	pingInterval time.Duration
	logger       *slog.Logger
}

// Option is a function that configures a Hub.
type Option func(*Hub)

// WithGracePeriod sets how long a user stays present after their last
// connection drops.
func WithGracePeriod(d time.Duration) Option {
	return func(h *Hub) { h.grace = d }
}

// WithPingInterval sets the keepalive interval of chat connections.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) { h.pingInterval = d }
}

// NewHub creates a chat hub. snapshots answers catch-up requests and
// publisher carries the resulting seek to the control hub.
func NewHub(snapshots Snapshots, publisher pubsub.Publisher, m *metrics.Metrics, opts ...Option) *Hub {
	h := &Hub{
		conns:        websocket.NewRegistry(),
		snapshots:    snapshots,
		publisher:    publisher,
		metrics:      m,
		grace:        defaultGracePeriod,
		pingInterval: websocket.DefaultPingInterval,
		logger:       slog.Default().With("hub", metrics.HubChat),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.roster = presence.NewRoster(h.grace, h.conns, presence.WithLogger(h.logger))
	return h
}

// Serve runs the chat connection of userID in room until it disconnects.
func (h *Hub) Serve(ctx context.Context, conn websocket.Conn, room, userID string) {
	logger := h.logger.With("room", room, "user_id", userID, "conn_id", conn.ID())
	joinedAt := time.Now()
	h.metrics.Connected(metrics.HubChat, room)

	pingCtx, stopPing := context.WithCancel(ctx)
	go websocket.Ping(pingCtx, conn, h.pingInterval, func(err error) {
		h.metrics.PingFailed(metrics.HubChat)
		logger.Debug("Ping failed", "error", err)
	})

	h.join(ctx, conn, room, userID, logger)

	var spoke sync.Once
	for {
		raw, err := conn.Receive(ctx)
		if err != nil {
			if !websocket.IsNormalClosure(err) {
				logger.Warn("Chat connection failed", "error", err)
			}
			break
		}
		h.handle(ctx, conn, room, userID, raw, logger, func() {
			spoke.Do(func() { h.metrics.JoinLatency.Observe(time.Since(joinedAt).Seconds()) })
		})
	}

	stopPing()
	h.leave(conn, room, userID, logger)
}

func (h *Hub) join(ctx context.Context, conn websocket.Conn, room, userID string, logger *slog.Logger) {
	h.conns.Register(conn, websocket.Identity{Room: room, UserID: userID})
	first := h.roster.Join(room, userID, userID)

	frame, _ := json.Marshal(presenceFrame{
		Type:   "presence",
		Users:  h.roster.Users(room),
		SentAt: websocket.Now(),
	})
	if err := conn.Send(ctx, frame); err != nil {
		h.metrics.SendFailed(metrics.HubChat, 1)
		logger.Debug("Failed to send presence", "error", err)
	}

	if first {
		logger.Info("User joined chat")
		h.broadcast(ctx, room, h.system(room, fmt.Sprintf("%s has joined the room.", userID)), conn)
	} else {
		logger.Debug("User reconnected to chat")
	}
}

func (h *Hub) handle(ctx context.Context, conn websocket.Conn, room, userID string, raw []byte, logger *slog.Logger, spoke func()) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		logger.Warn("Ignoring malformed chat frame", "error", err)
		return
	}
	text, _ := body["text"].(string)
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	spoke()

	if strings.EqualFold(text, CatchUpCommand) {
		h.catchUp(ctx, room, userID, logger)
		return
	}

	body["roomId"] = room
	body["user"] = userID
	body["sentAt"] = websocket.Now()
	if _, ok := body["timestamp"]; !ok {
		body["timestamp"] = 0
	}
	payload, err := json.Marshal(body)
	if err != nil {
		logger.Warn("Failed to encode chat message", "error", err)
		return
	}

	h.metrics.Messages.WithLabelValues(room).Inc()
	h.broadcastRaw(ctx, room, payload, conn)
}

func (h *Hub) catchUp(ctx context.Context, room, userID string, logger *slog.Logger) {
	snap, ok := h.snapshots.Get(room)
	if !ok {
		logger.Debug("Catch-up requested before any playback event")
		return
	}

	err := pubsub.Publish(ctx, h.publisher, events.SeekRequestedEvent, userID, events.SeekRequested{
		Room:        room,
		Timestamp:   snap.Timestamp,
		RequestedBy: userID,
	})
	if err != nil {
		logger.Error("Failed to publish catch-up seek", "error", err)
	}

	position := strconv.FormatFloat(snap.Timestamp, 'f', -1, 64)
	h.broadcast(ctx, room, h.system(room, fmt.Sprintf("%s requested catch-up to %ss", userID, position)), nil)
}

func (h *Hub) leave(conn websocket.Conn, room, userID string, logger *slog.Logger) {
	h.conns.Unregister(conn)
	h.metrics.Disconnected(metrics.HubChat, room)

	if h.conns.Connected(room, userID) {
		logger.Debug("Chat connection closed, user still connected elsewhere")
		return
	}
	h.roster.ScheduleLeave(room, userID, func(string) {
		h.broadcast(context.Background(), room, h.system(room, fmt.Sprintf("%s has left the room.", userID)), nil)
	})
}

func (h *Hub) system(room, text string) Message {
	return Message{
		RoomID: room,
		User:   SystemUser,
		Text:   text,
		SentAt: websocket.Now(),
	}
}

func (h *Hub) broadcast(ctx context.Context, room string, msg Message, skip websocket.Conn) {
	payload, _ := json.Marshal(msg)
	h.broadcastRaw(ctx, room, payload, skip)
}

func (h *Hub) broadcastRaw(ctx context.Context, room string, payload []byte, skip websocket.Conn) {
	failed := h.conns.Broadcast(ctx, room, payload, skip)
	h.metrics.SendFailed(metrics.HubChat, failed)
}

// Users returns the sorted roster of room.
func (h *Hub) Users(room string) []string {
	return h.roster.Users(room)
}

// Shutdown stops pending leave timers and closes every chat connection.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.roster.Shutdown()
	return h.conns.CloseAll(ctx, "server shutting down")
}
