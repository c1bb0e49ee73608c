package control

import (
	"context"
	"log/slog"

	"github.com/nfrund/watchparty/internal/modules/control/events"
	"github.com/nfrund/watchparty/internal/pubsub"
)

// SeekSubscriber listens for catch-up seeks on the bus and fans them out to
// the control connections of the requested room.
type SeekSubscriber struct {
	subscriber pubsub.Subscriber
	hub        *Hub
}

// NewSeekSubscriber creates a new subscriber service for the control module.
func NewSeekSubscriber(sub pubsub.Subscriber, hub *Hub) *SeekSubscriber {
	return &SeekSubscriber{subscriber: sub, hub: hub}
}

// Start subscribes to seek requests. Delivery continues on a background
// goroutine until ctx is cancelled or the bus is closed.
func (s *SeekSubscriber) Start(ctx context.Context) error {
	slog.Info("Starting control module subscriber")
	return pubsub.Subscribe(ctx, s.subscriber, events.SeekRequestedEvent, s.handleSeekRequested)
}

func (s *SeekSubscriber) handleSeekRequested(ctx context.Context, ev events.SeekRequested) error {
	delivered := s.hub.Seek(ctx, ev.Room, ev.Timestamp)
	slog.Debug("Catch-up seek delivered",
		"room", ev.Room,
		"requested_by", ev.RequestedBy,
		"timestamp", ev.Timestamp,
		"recipients", delivered)
	return nil
}
