package testutils

import (
	"testing"
	"time"

	"github.com/nfrund/watchparty/internal/config"
)

// ConfigForTests returns a valid configuration with timings shrunk so that
// grace periods and pings fire within a test's patience.
// This is the definitive way to get configuration for integration tests.
func ConfigForTests(t *testing.T) *config.Config {
	t.Helper()

	t.Setenv("HTTP_ADDR", "127.0.0.1:0")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("WS_PING_INTERVAL", "1h")
	t.Setenv("WS_WRITE_TIMEOUT", "2s")
	t.Setenv("CHAT_GRACE_PERIOD", "150ms")
	t.Setenv("LOBBY_GRACE_PERIOD", "200ms")
	t.Setenv("WS_AUTH_MODE", config.AuthModeTrust)
	t.Setenv("WS_CONNECT_RATE", "1000")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("failed to load test config: %v", err)
	}
	return cfg
}

// WaitFor and Tick are the polling window tests use for asynchronous hub effects.
const (
	WaitFor = 2 * time.Second
	Tick    = 10 * time.Millisecond
)
