// Package playback holds the retained transport state of every room: the last
// accepted play, pause or seek. The control hub writes it, the chat hub reads
// it to answer catch-up requests.
package playback

import "sync"

// Snapshot is the current playback position and state of a room.
type Snapshot struct {
	Timestamp float64 `json:"timestamp"`
	IsPlaying bool    `json:"isPlaying"`
}

// Store keeps one Snapshot per room, last writer wins. Entries are never
// removed; rooms are few and short-lived.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]Snapshot
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{rooms: make(map[string]Snapshot)}
}

// Get returns the room's snapshot, if one was ever recorded.
func (s *Store) Get(room string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.rooms[room]
	return snap, ok
}

// Set overwrites the room's snapshot.
func (s *Store) Set(room string, snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room] = snap
}
