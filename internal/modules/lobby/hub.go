package lobby

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nfrund/watchparty/internal/metrics"
	"github.com/nfrund/watchparty/internal/presence"
	"github.com/nfrund/watchparty/internal/websocket"
)

// Lobby event types.
const (
	TypeJoined     = "joined"
	TypeLeft       = "left"
	TypeLobbyState = "lobby_state"
	TypeStart      = "start"
)

type joinedFrame struct {
	Type        string `json:"type"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Timestamp   string `json:"timestamp"`
}

type leftFrame struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	Timestamp string `json:"timestamp"`
}

type stateFrame struct {
	Type  string            `json:"type"`
	Users map[string]string `json:"users"`
}

type startFrame struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

type inbound struct {
	Type string `json:"type"`
}

// Hub runs the pre-session lobby: participants announce a display name,
// see who else is waiting and any of them can start the session.
type Hub struct {
	conns        *websocket.Registry
	roster       *presence.Roster
	metrics      *metrics.Metrics
	pingInterval time.Duration
	logger       *slog.Logger
}

// NewHub creates a lobby hub. grace is how long a disconnected participant
// stays on the roster before a "left" event is sent.
func NewHub(m *metrics.Metrics, grace, pingInterval time.Duration) *Hub {
	h := &Hub{
		conns:        websocket.NewRegistry(),
		metrics:      m,
		pingInterval: pingInterval,
		logger:       slog.Default().With("hub", metrics.HubLobby),
	}
	h.roster = presence.NewRoster(grace, h.conns, presence.WithLogger(h.logger))
	return h
}

// Serve runs a lobby connection until it disconnects. An empty displayName
// falls back to userID.
func (h *Hub) Serve(ctx context.Context, conn websocket.Conn, room, userID, displayName string) {
	if displayName == "" {
		displayName = userID
	}
	logger := h.logger.With("room", room, "user_id", userID, "conn_id", conn.ID())
	h.metrics.Connected(metrics.HubLobby, room)

	pingCtx, stopPing := context.WithCancel(ctx)
	go websocket.Ping(pingCtx, conn, h.pingInterval, func(err error) {
		h.metrics.PingFailed(metrics.HubLobby)
		logger.Debug("Ping failed", "error", err)
	})

	logger.Info("User joined lobby", "display_name", displayName)
	h.conns.Register(conn, websocket.Identity{Room: room, UserID: userID, DisplayName: displayName})
	if h.roster.Join(room, userID, displayName) {
		h.broadcast(ctx, room, joinedFrame{
			Type:        TypeJoined,
			UserID:      userID,
			DisplayName: displayName,
			Timestamp:   websocket.Now(),
		})
		h.broadcast(ctx, room, stateFrame{Type: TypeLobbyState, Users: h.roster.Members(room)})
	}

	// The joiner's own view is built from live connections, not the roster,
	// so users waiting out their grace period are not shown.
	state, _ := json.Marshal(stateFrame{Type: TypeLobbyState, Users: h.conns.Members(room)})
	if err := conn.Send(ctx, state); err != nil {
		h.metrics.SendFailed(metrics.HubLobby, 1)
		logger.Warn("Failed to send lobby_state", "error", err)
	}

	for {
		raw, err := conn.Receive(ctx)
		if err != nil {
			if !websocket.IsNormalClosure(err) {
				logger.Warn("Lobby connection failed", "error", err)
			}
			break
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Warn("Failed to handle incoming message", "error", err)
			continue
		}
		if msg.Type == TypeStart {
			logger.Info("User initiated start")
			h.broadcast(ctx, room, startFrame{Type: TypeStart, Timestamp: websocket.Now()})
		}
	}

	stopPing()
	h.conns.Unregister(conn)
	h.metrics.Disconnected(metrics.HubLobby, room)

	if h.conns.Connected(room, userID) {
		return
	}
	h.roster.ScheduleLeave(room, userID, func(string) {
		h.broadcast(context.Background(), room, leftFrame{
			Type:      TypeLeft,
			UserID:    userID,
			Timestamp: websocket.Now(),
		})
	})
}

func (h *Hub) broadcast(ctx context.Context, room string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to encode lobby event", "room", room, "error", err)
		return
	}
	failed := h.conns.Broadcast(ctx, room, payload, nil)
	h.metrics.SendFailed(metrics.HubLobby, failed)
}

// Members returns the room's roster, userID to display name.
func (h *Hub) Members(room string) map[string]string {
	return h.roster.Members(room)
}

// Shutdown stops pending leave timers and closes every lobby connection.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.roster.Shutdown()
	return h.conns.CloseAll(ctx, "server shutting down")
}
