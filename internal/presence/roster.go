package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Liveness answers whether a user still has a live connection in a room.
// A hub's websocket.Registry satisfies it.
type Liveness interface {
	Connected(room, userID string) bool
}

type key struct {
	room string
	user string
}

// pendingLeave is one scheduled "left" announcement. Its identity in the
// pending map is what decides whether it may still fire.
type pendingLeave struct {
	timer  *time.Timer
	onLeft func(displayName string)
}

// Roster tracks who is present in each room. A user whose last connection
// drops stays present for the grace period so a quick reconnect (a page
// reload, a flaky network) produces neither a "left" nor a second "joined".
type Roster struct {
	mu      sync.Mutex
	grace   time.Duration
	live    Liveness
	rooms   map[string]map[string]string // room -> userID -> displayName
	pending map[key]*pendingLeave
	leaving map[key]chan struct{} // closed once the "left" announcement is out
	stopped bool
	logger  *slog.Logger
}

// Option is a function that configures a Roster.
type Option func(*Roster)

// WithLogger sets the logger the roster reports timer activity to.
func WithLogger(l *slog.Logger) Option {
	return func(r *Roster) {
		r.logger = l
	}
}

// NewRoster creates a roster whose leave timers wait grace before firing.
// live is consulted when a timer fires; it may be nil.
func NewRoster(grace time.Duration, live Liveness, opts ...Option) *Roster {
	r := &Roster{
		grace:   grace,
		live:    live,
		rooms:   make(map[string]map[string]string),
		pending: make(map[key]*pendingLeave),
		leaving: make(map[key]chan struct{}),
		logger:  slog.Default().With("service", "presence"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Join marks userID present in room under displayName, cancelling any
// pending leave for that pair. It reports whether the user was absent
// before, i.e. whether others should be told about the arrival. A Join that
// races an expiring leave for the same pair waits until that leave has been
// announced, so "left" always reaches peers before the next "joined".
func (r *Roster) Join(room, userID, displayName string) bool {
	k := key{room: room, user: userID}

	r.mu.Lock()
	for {
		done, ok := r.leaving[k]
		if !ok {
			break
		}
		r.mu.Unlock()
		<-done
		r.mu.Lock()
	}
	defer r.mu.Unlock()

	if p, ok := r.pending[k]; ok {
		p.timer.Stop()
		delete(r.pending, k)
		r.logger.Debug("Cancelled pending leave due to reconnection", "room", room, "user_id", userID)
	}

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]string)
		r.rooms[room] = members
	}
	_, present := members[userID]
	members[userID] = displayName
	return !present
}

// ScheduleLeave arranges for userID to be removed from room once the grace
// period elapses, unless Join is called for the same pair first or the user
// is connected again by then. onLeft runs, outside the roster lock, only if
// the user was actually removed. Any earlier timer for the pair is replaced.
func (r *Roster) ScheduleLeave(room, userID string, onLeft func(displayName string)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}

	k := key{room: room, user: userID}
	if prev, ok := r.pending[k]; ok {
		prev.timer.Stop()
		delete(r.pending, k)
	}

	p := &pendingLeave{onLeft: onLeft}
	r.pending[k] = p
	p.timer = time.AfterFunc(r.grace, func() { r.expire(k, p) })

	r.logger.Debug("User has no more connections, scheduling leave",
		"room", room,
		"user_id", userID,
		"grace", r.grace)
}

func (r *Roster) expire(k key, p *pendingLeave) {
	r.mu.Lock()
	if r.pending[k] != p {
		// Cancelled or superseded while the timer was firing.
		r.mu.Unlock()
		return
	}
	delete(r.pending, k)

	if r.live != nil && r.live.Connected(k.room, k.user) {
		r.mu.Unlock()
		return
	}

	members := r.rooms[k.room]
	name, present := members[k.user]
	if !present {
		r.mu.Unlock()
		return
	}
	delete(members, k.user)
	if len(members) == 0 {
		delete(r.rooms, k.room)
	}
	done := make(chan struct{})
	r.leaving[k] = done
	r.mu.Unlock()

	r.logger.Info("User left after grace period", "room", k.room, "user_id", k.user)
	if p.onLeft != nil {
		p.onLeft(name)
	}

	r.mu.Lock()
	delete(r.leaving, k)
	r.mu.Unlock()
	close(done)
}

// Present reports whether userID is on the room's roster.
func (r *Roster) Present(room, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[room][userID]
	return ok
}

// Pending reports whether a leave timer is outstanding for the pair.
func (r *Roster) Pending(room, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[key{room: room, user: userID}]
	return ok
}

// Users returns the sorted user ids present in room.
func (r *Roster) Users(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]string, 0, len(r.rooms[room]))
	for u := range r.rooms[room] {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// Members returns a copy of the room's userID -> displayName map.
func (r *Roster) Members(room string) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.rooms[room]))
	for u, name := range r.rooms[room] {
		out[u] = name
	}
	return out
}

// Shutdown stops every pending timer. No leave fires afterwards.
func (r *Roster) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, p := range r.pending {
		p.timer.Stop()
		delete(r.pending, k)
	}
	r.stopped = true
}
