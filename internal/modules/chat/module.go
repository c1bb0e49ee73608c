package chat

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/watchparty/internal/metrics"
	"github.com/nfrund/watchparty/internal/module"
	"github.com/nfrund/watchparty/internal/pubsub"
	"github.com/nfrund/watchparty/internal/registry"
	"github.com/nfrund/watchparty/internal/websocket"
)

// ChatModule implements the module.Module interface for the chat feature.
type ChatModule struct {
	module.BaseModule
	publisher pubsub.Publisher
	metrics   *metrics.Metrics
	accept    websocket.AcceptOptions
	hub       *Hub
}

// Dependencies holds all the services that the ChatModule requires to operate.
// This struct is used for constructor injection to make dependencies explicit.
type Dependencies struct {
	Publisher pubsub.Publisher
	Metrics   *metrics.Metrics
	Accept    websocket.AcceptOptions
}

// New creates a new instance of the ChatModule, injecting its dependencies.
func New(deps Dependencies) *ChatModule {
	return &ChatModule{
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		accept:    deps.Accept,
	}
}

// Name returns the module name.
func (m *ChatModule) Name() string {
	return "chat"
}

// Boot creates the hub and mounts the websocket endpoint. The playback
// store is published by the control module during registration.
func (m *ChatModule) Boot(ctx context.Context, g *echo.Group, reg *registry.Registry) error {
	cfg := reg.Config()
	store := registry.MustGet(reg, registry.PlaybackStoreKey)

	m.hub = NewHub(store, m.publisher, m.metrics,
		WithGracePeriod(cfg.ChatGrace),
		WithPingInterval(cfg.PingInterval),
	)

	slog.Info("Booting ChatModule: Setting up routes...")
	handler := NewHandler(m.hub, m.accept)
	g.GET("", handler.ServeWS)
	return nil
}

// Shutdown closes every chat connection and stops pending leave timers.
func (m *ChatModule) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down ChatModule...")
	if m.hub == nil {
		return nil
	}
	return m.hub.Shutdown(ctx)
}
