package signal

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/watchparty/internal/metrics"
	"github.com/nfrund/watchparty/internal/middleware"
	"github.com/nfrund/watchparty/internal/module"
	"github.com/nfrund/watchparty/internal/registry"
	"github.com/nfrund/watchparty/internal/websocket"
)

// SignalModule implements the module.Module interface for the signalling relay.
type SignalModule struct {
	module.BaseModule
	metrics *metrics.Metrics
	accept  websocket.AcceptOptions
	hub     *Hub
}

// Dependencies holds all the services that the SignalModule requires to operate.
type Dependencies struct {
	Metrics *metrics.Metrics
	Accept  websocket.AcceptOptions
}

func New(deps Dependencies) *SignalModule {
	return &SignalModule{metrics: deps.Metrics, accept: deps.Accept}
}

func (m *SignalModule) Name() string {
	return "signal"
}

func (m *SignalModule) Boot(ctx context.Context, g *echo.Group, reg *registry.Registry) error {
	m.hub = NewHub(m.metrics, reg.Config().PingInterval)
	g.GET("", m.serveWS)
	return nil
}

func (m *SignalModule) serveWS(c echo.Context) error {
	room := c.QueryParam("watchPartyId")
	userID := c.QueryParam("userId")
	if id, ok := middleware.IdentityFrom(c); ok {
		userID = id.UserID
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), m.accept)
	if err != nil {
		middleware.FromContext(c.Request().Context()).Error("Failed to upgrade WebSocket connection", "error", err)
		return nil
	}
	defer conn.Close("")

	m.hub.Serve(c.Request().Context(), conn, room, userID)
	return nil
}

func (m *SignalModule) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down SignalModule...")
	if m.hub == nil {
		return nil
	}
	return m.hub.Shutdown(ctx)
}
