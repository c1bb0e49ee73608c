package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
)

// Event names a topic whose payload is always a JSON-encoded T.
type Event[T any] struct {
	name        string
	description string
}

// NewEvent declares a typed topic. Events are declared once, as package
// level variables, by the module that consumes them.
func NewEvent[T any](name, description string) Event[T] {
	return Event[T]{name: name, description: description}
}

func (e Event[T]) Name() string { return e.name }
func (e Event[T]) Description() string { return e.description }

// Scoped payloads belong to a room. Publish copies the room into the
// message metadata so it shows up on traces and in logs without decoding.
type Scoped interface {
	Scope() string
}

// Publish encodes payload and sends it on the event's topic.
func Publish[T any](ctx context.Context, p Publisher, event Event[T], userID string, payload T) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event.name, err)
	}

	msg := Message{Topic: event.name, UserID: userID, Payload: data}
	if s, ok := any(payload).(Scoped); ok {
		msg.Metadata = map[string]string{MetaRoom: s.Scope()}
	}
	return p.Publish(ctx, msg)
}

// Subscribe decodes every message on the event's topic into T before
// calling handler. Undecodable payloads surface as handler errors.
func Subscribe[T any](ctx context.Context, s Subscriber, event Event[T], handler func(ctx context.Context, payload T) error) error {
	return s.Subscribe(ctx, event.name, func(ctx context.Context, msg Message) error {
		var payload T
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", event.name, err)
		}
		return handler(ctx, payload)
	})
}
