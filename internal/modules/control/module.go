package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/watchparty/internal/metrics"
	"github.com/nfrund/watchparty/internal/module"
	"github.com/nfrund/watchparty/internal/playback"
	"github.com/nfrund/watchparty/internal/pubsub"
	"github.com/nfrund/watchparty/internal/registry"
	"github.com/nfrund/watchparty/internal/websocket"
)

// ControlModule implements the module.Module interface for playback control.
type ControlModule struct {
	module.BaseModule
	subscriber pubsub.Subscriber
	metrics    *metrics.Metrics
	accept     websocket.AcceptOptions
	store      *playback.Store
	hub        *Hub
}

// Dependencies holds all the services that the ControlModule requires to operate.
type Dependencies struct {
	Subscriber pubsub.Subscriber
	Metrics    *metrics.Metrics
	Accept     websocket.AcceptOptions
}

// New creates a new instance of the ControlModule, injecting its dependencies.
func New(deps Dependencies) *ControlModule {
	return &ControlModule{
		subscriber: deps.Subscriber,
		metrics:    deps.Metrics,
		accept:     deps.Accept,
		store:      playback.NewStore(),
	}
}

// Name returns the module name.
func (m *ControlModule) Name() string {
	return "control"
}

// Register shares the playback store so the chat module can answer catch-up requests.
func (m *ControlModule) Register(reg *registry.Registry) error {
	return registry.Set(reg, registry.PlaybackStoreKey, m.store)
}

// Boot sets up the route and starts the catch-up seek subscriber.
func (m *ControlModule) Boot(ctx context.Context, g *echo.Group, reg *registry.Registry) error {
	m.hub = NewHub(m.store, m.metrics, reg.Config().PingInterval)

	if err := NewSeekSubscriber(m.subscriber, m.hub).Start(ctx); err != nil {
		return fmt.Errorf("start seek subscriber: %w", err)
	}

	slog.Info("Booting ControlModule: Setting up routes...")
	handler := NewHandler(m.hub, m.accept)
	g.GET("", handler.ServeWS)
	return nil
}

// Shutdown closes every control connection.
func (m *ControlModule) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down ControlModule...")
	if m.hub == nil {
		return nil
	}
	return m.hub.Shutdown(ctx)
}
