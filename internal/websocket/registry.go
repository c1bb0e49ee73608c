package websocket

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Identity is who a connection belongs to and in which room.
type Identity struct {
	Room        string
	UserID      string
	DisplayName string
}

// Registry tracks, per room, the live connections and the identity behind
// each one. Every hub owns its own Registry.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string][]Conn
	idents map[Conn]Identity
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string][]Conn),
		idents: make(map[Conn]Identity),
	}
}

// Register adds conn to the identity's room. Registering a known connection
// again only refreshes its identity.
func (r *Registry) Register(conn Conn, id Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.idents[conn]; ok {
		r.removeLocked(prev.Room, conn)
	}
	r.idents[conn] = id
	r.rooms[id.Room] = append(r.rooms[id.Room], conn)
}

// Unregister forgets conn entirely and returns the identity it was registered
// with. Unknown connections report false.
func (r *Registry) Unregister(conn Conn) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.idents[conn]
	if !ok {
		return Identity{}, false
	}
	delete(r.idents, conn)
	r.removeLocked(id.Room, conn)
	return id, true
}

// Remove drops conns from the room's broadcast list. Their identities stay
// until the owning receive loop unregisters them.
func (r *Registry) Remove(room string, conns ...Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range conns {
		r.removeLocked(room, c)
	}
}

func (r *Registry) removeLocked(room string, conn Conn) {
	list := r.rooms[room]
	for i, c := range list {
		if c == conn {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.rooms, room)
		return
	}
	r.rooms[room] = list
}

// Connected reports whether any registered connection maps to (room, userID).
func (r *Registry) Connected(room, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.idents {
		if id.Room == room && id.UserID == userID {
			return true
		}
	}
	return false
}

// Peers returns a snapshot of the room's broadcast list.
func (r *Registry) Peers(room string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.rooms[room]
	out := make([]Conn, len(list))
	copy(out, list)
	return out
}

// Members maps userID to display name for every connection currently in the
// room's broadcast list.
func (r *Registry) Members(room string) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make(map[string]string)
	for _, c := range r.rooms[room] {
		id := r.idents[c]
		name := id.DisplayName
		if name == "" {
			name = id.UserID
		}
		members[id.UserID] = name
	}
	return members
}

// Count returns the number of connections in the room's broadcast list.
func (r *Registry) Count(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// All returns every registered connection across all rooms.
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]Conn, 0, len(r.idents))
	for c := range r.idents {
		all = append(all, c)
	}
	return all
}

// CloseAll closes every registered connection with reason. Closes run
// concurrently; if ctx ends first CloseAll returns its error and leaves the
// remaining closes to finish in the background.
func (r *Registry) CloseAll(ctx context.Context, reason string) error {
	conns := r.All()
	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for _, c := range conns {
			wg.Add(1)
			go func(c Conn) {
				defer wg.Done()
				_ = c.Close(reason)
			}(c)
		}
		wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast sends payload to every connection in the room except skip (which
// may be nil) and returns the number of peers whose send failed.
func (r *Registry) Broadcast(ctx context.Context, room string, payload []byte, skip Conn) int {
	peers := r.Peers(room)
	if skip != nil {
		peers = slices.DeleteFunc(peers, func(c Conn) bool { return c == skip })
	}
	return r.Deliver(ctx, room, peers, payload)
}

// Deliver sends payload to a snapshot of peers taken earlier from the room.
// Sends run concurrently and Deliver waits for all of them. A peer whose send
// fails is removed from the room once the fan-out is over; the number of such
// peers is returned.
func (r *Registry) Deliver(ctx context.Context, room string, peers []Conn, payload []byte) int {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []Conn
	)
	for _, peer := range peers {
		wg.Add(1)
		go func(p Conn) {
			defer wg.Done()
			if err := p.Send(ctx, payload); err != nil {
				slog.Debug("Dropping peer after failed send", "room", room, "conn_id", p.ID(), "error", err)
				mu.Lock()
				failed = append(failed, p)
				mu.Unlock()
			}
		}(peer)
	}
	wg.Wait()

	if len(failed) > 0 {
		r.Remove(room, failed...)
	}
	return len(failed)
}
