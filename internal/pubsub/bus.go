// Package pubsub is the in-process event bus modules use to talk to each
// other without importing one another.
package pubsub

import "context"

// MetaRoom is the metadata key carrying the room a message concerns.
const MetaRoom = "room"

// Message is one event on the bus.
type Message struct {
	Topic string
	// UserID is the user whose action produced the message, if any.
	UserID   string
	Payload  []byte
	Metadata map[string]string
}

// Room returns the message's room metadata, or "".
func (m Message) Room() string {
	return m.Metadata[MetaRoom]
}

// Handler processes a delivered message. A returned error is logged and
// recorded on the delivery span; the message is not redelivered.
type Handler func(ctx context.Context, msg Message) error

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

type Subscriber interface {
	// Subscribe returns once the subscription is live. Messages are handled
	// on a background goroutine until ctx is done or the bus is closed.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}
