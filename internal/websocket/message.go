package websocket

import (
	"context"
	"time"
)

// TimeLayout renders server timestamps as ISO-8601 UTC with millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// DefaultPingInterval is the keepalive period used when none is configured.
const DefaultPingInterval = 20 * time.Second

// PingFrame is the application-level keepalive every hub sends.
var PingFrame = []byte(`{"type":"ping"}`)

// Timestamp formats t in TimeLayout after converting it to UTC.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Now returns the current server time as a formatted timestamp.
func Now() string {
	return Timestamp(time.Now())
}

// Ping sends PingFrame on conn every interval until ctx is cancelled or a send
// fails. A failed send is handed to onFailure and ends the pinger; the
// connection itself is left alone, the receive loop decides when it is gone.
func Ping(ctx context.Context, conn Conn, interval time.Duration, onFailure func(error)) {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Send(ctx, PingFrame); err != nil {
				if ctx.Err() != nil {
					return
				}
				if onFailure != nil {
					onFailure(err)
				}
				return
			}
		}
	}
}
