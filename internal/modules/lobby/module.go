package lobby

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/watchparty/internal/metrics"
	"github.com/nfrund/watchparty/internal/module"
	"github.com/nfrund/watchparty/internal/registry"
	"github.com/nfrund/watchparty/internal/websocket"
)

// LobbyModule implements the module.Module interface for the pre-session lobby.
type LobbyModule struct {
	module.BaseModule
	metrics *metrics.Metrics
	accept  websocket.AcceptOptions
	hub     *Hub
}

// Dependencies holds all the services that the LobbyModule requires to operate.
type Dependencies struct {
	Metrics *metrics.Metrics
	Accept  websocket.AcceptOptions
}

// New creates a new instance of the LobbyModule.
func New(deps Dependencies) *LobbyModule {
	return &LobbyModule{metrics: deps.Metrics, accept: deps.Accept}
}

// Name returns the module name.
func (m *LobbyModule) Name() string {
	return "lobby"
}

// Boot creates the hub and mounts the websocket endpoint.
func (m *LobbyModule) Boot(ctx context.Context, g *echo.Group, reg *registry.Registry) error {
	cfg := reg.Config()
	m.hub = NewHub(m.metrics, cfg.LobbyGrace, cfg.PingInterval)

	slog.Info("Booting LobbyModule: Setting up routes...")
	g.GET("", NewHandler(m.hub, m.accept).ServeWS)
	return nil
}

// Shutdown closes every lobby connection and stops pending leave timers.
func (m *LobbyModule) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down LobbyModule...")
	if m.hub == nil {
		return nil
	}
	return m.hub.Shutdown(ctx)
}
