package pubsub

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Metadata keys reserved for Message fields.
const (
	metaUserID = "user_id"
	metaTopic  = "topic"
)

// WatermillBridge is a Publisher and Subscriber backed by watermill's
// in-memory GoChannel.
type WatermillBridge struct {
	pub    message.Publisher
	sub    message.Subscriber
	tracer trace.Tracer
}

// NewWatermillBridge creates a bus that records no spans.
func NewWatermillBridge() *WatermillBridge {
	return NewWatermillBridgeWithTracer(noop.NewTracerProvider().Tracer(tracerName))
}

// NewWatermillBridgeWithTracer creates a bus recording a publish and a
// process span for every delivery.
func NewWatermillBridgeWithTracer(tracer trace.Tracer) *WatermillBridge {
	ch := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		slogAdapter{logger: slog.Default().With("component", "bus")},
	)
	return &WatermillBridge{
		pub:    tracedPublisher{Publisher: ch, tracer: tracer},
		sub:    ch,
		tracer: tracer,
	}
}

func toWatermill(ctx context.Context, msg Message) *message.Message {
	wm := message.NewMessage(watermill.NewUUID(), msg.Payload)
	wm.SetContext(ctx)
	for k, v := range msg.Metadata {
		wm.Metadata.Set(k, v)
	}
	wm.Metadata.Set(metaUserID, msg.UserID)
	wm.Metadata.Set(metaTopic, msg.Topic)
	return wm
}

func fromWatermill(wm *message.Message) Message {
	msg := Message{
		Topic:   wm.Metadata.Get(metaTopic),
		UserID:  wm.Metadata.Get(metaUserID),
		Payload: wm.Payload,
	}
	for k, v := range wm.Metadata {
		if k == metaUserID || k == metaTopic {
			continue
		}
		if msg.Metadata == nil {
			msg.Metadata = make(map[string]string)
		}
		msg.Metadata[k] = v
	}
	return msg
}

// Publish sends msg on msg.Topic.
func (wb *WatermillBridge) Publish(ctx context.Context, msg Message) error {
	if err := wb.pub.Publish(msg.Topic, toWatermill(ctx, msg)); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Topic, err)
	}
	return nil
}

// Subscribe delivers every message on topic to handler, one at a time.
func (wb *WatermillBridge) Subscribe(ctx context.Context, topic string, handler Handler) error {
	messages, err := wb.sub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	go func() {
		for wm := range messages {
			wb.process(topic, wm, handler)
		}
		slog.Debug("Subscription closed", "topic", topic)
	}()
	return nil
}

func (wb *WatermillBridge) process(topic string, wm *message.Message, handler Handler) {
	ctx, span := wb.tracer.Start(wm.Context(), "pubsub.process."+topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(spanAttributes("process", topic, wm)...),
	)
	defer span.End()

	msg := fromWatermill(wm)
	if err := handler(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Failed to handle message", "topic", topic, "room", msg.Room(), "msg_id", wm.UUID, "error", err)
	}
	// GoChannel redelivers a nacked message straight away, so failures are
	// acknowledged after logging.
	wm.Ack()
}

// slogAdapter routes watermill's own logging through slog. Watermill trace
// lines are logged at debug level.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error(msg, append(attrs(fields), "error", err)...)
}

func (a slogAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Info(msg, attrs(fields)...)
}

func (a slogAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, attrs(fields)...)
}

func (a slogAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, attrs(fields)...)
}

func (a slogAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return slogAdapter{logger: a.logger.With(attrs(fields)...)}
}

func attrs(fields watermill.LogFields) []any {
	out := make([]any, 0, 2*len(fields))
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}

// Close stops every subscription. Publishing afterwards fails.
func (wb *WatermillBridge) Close() error {
	return wb.sub.Close()
}
