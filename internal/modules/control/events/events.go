// Package events declares the bus events owned by the control module.
package events

import "github.com/nfrund/watchparty/internal/pubsub"

// SeekRequested asks every player in a room to jump to Timestamp. The chat
// hub publishes it when a participant types /catchup.
type SeekRequested struct {
	Room        string  `json:"room"`
	Timestamp   float64 `json:"timestamp"`
	RequestedBy string  `json:"requestedBy"`
}

func (s SeekRequested) Scope() string { return s.Room }

// SeekRequestedEvent is the typed topic for SeekRequested.
var SeekRequestedEvent = pubsub.NewEvent[SeekRequested](
	"control.seek.requested",
	"A participant asked the room's players to jump to the retained playback position",
)
