package app

import (
	"testing"

	"github.com/nfrund/watchparty/internal/metrics"
	"github.com/nfrund/watchparty/internal/pubsub"
	"github.com/stretchr/testify/assert"
)

func TestNewModules(t *testing.T) {
	bus := pubsub.NewWatermillBridge()
	defer bus.Close()

	modules := NewModules(Dependencies{
		Publisher:  bus,
		Subscriber: bus,
		Metrics:    metrics.NewNop(),
	})

	var names []string
	for _, m := range modules {
		names = append(names, m.Name())
	}
	assert.Equal(t, []string{"control", "chat", "lobby", "signal"}, names)
}
