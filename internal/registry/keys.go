package registry

import "github.com/nfrund/watchparty/internal/playback"

// Service keys shared between modules. Using constants prevents typos.
const (
	// PlaybackStoreKey is the retained control state, written by the control
	// hub and read by the chat hub for catch-up.
	PlaybackStoreKey Key[*playback.Store] = "control.playback.Store"
)
