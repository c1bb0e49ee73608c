package app

import (
	"github.com/nfrund/watchparty/internal/metrics"
	"github.com/nfrund/watchparty/internal/module"
	"github.com/nfrund/watchparty/internal/modules/chat"
	"github.com/nfrund/watchparty/internal/modules/control"
	"github.com/nfrund/watchparty/internal/modules/lobby"
	"github.com/nfrund/watchparty/internal/modules/signal"
	"github.com/nfrund/watchparty/internal/pubsub"
	"github.com/nfrund/watchparty/internal/websocket"
)

// Dependencies holds the core services that are required by the application's modules.
// This struct is passed from the main application entrypoint to wire up the modules.
type Dependencies struct {
	Publisher  pubsub.Publisher
	Subscriber pubsub.Subscriber
	Metrics    *metrics.Metrics
	Accept     websocket.AcceptOptions
}

// NewModules creates and returns the list of all active modules for the application.
// This is the single source of truth for which features are enabled.
func NewModules(deps Dependencies) []module.Module {
	return []module.Module{
		// Control registers the playback store chat reads during Boot.
		control.New(control.Dependencies{
			Subscriber: deps.Subscriber,
			Metrics:    deps.Metrics,
			Accept:     deps.Accept,
		}),
		chat.New(chat.Dependencies{
			Publisher: deps.Publisher,
			Metrics:   deps.Metrics,
			Accept:    deps.Accept,
		}),
		lobby.New(lobby.Dependencies{
			Metrics: deps.Metrics,
			Accept:  deps.Accept,
		}),
		signal.New(signal.Dependencies{
			Metrics: deps.Metrics,
			Accept:  deps.Accept,
		}),
	}
}
