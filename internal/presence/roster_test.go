package presence

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGrace = 30 * time.Millisecond

// fakeLiveness lets tests decide who still counts as connected.
type fakeLiveness struct {
	mu        sync.Mutex
	connected map[string]bool
}

func (f *fakeLiveness) set(room, user string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected == nil {
		f.connected = make(map[string]bool)
	}
	f.connected[room+"/"+user] = on
}

func (f *fakeLiveness) Connected(room, user string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[room+"/"+user]
}

func TestRoster_JoinReportsFirstJoinOnce(t *testing.T) {
	r := NewRoster(testGrace, nil)
	defer r.Shutdown()

	assert.True(t, r.Join("party1", "alice", "alice"))
	assert.False(t, r.Join("party1", "alice", "alice"), "second connection is not a new arrival")
	assert.True(t, r.Join("party2", "alice", "alice"), "rooms are independent")
	assert.True(t, r.Join("party1", "bob", "bob"))

	assert.Equal(t, []string{"alice", "bob"}, r.Users("party1"))
}

func TestRoster_JoinUpdatesDisplayName(t *testing.T) {
	r := NewRoster(testGrace, nil)
	defer r.Shutdown()

	r.Join("lobby", "u1", "u1")
	r.Join("lobby", "u1", "Alice")

	assert.Equal(t, map[string]string{"u1": "Alice"}, r.Members("lobby"))
}

func TestRoster_LeaveFiresAfterGrace(t *testing.T) {
	r := NewRoster(testGrace, &fakeLiveness{})
	defer r.Shutdown()

	r.Join("party1", "alice", "Alice")

	left := make(chan string, 1)
	r.ScheduleLeave("party1", "alice", func(name string) { left <- name })

	assert.True(t, r.Present("party1", "alice"), "still present during grace")
	assert.True(t, r.Pending("party1", "alice"))

	select {
	case name := <-left:
		assert.Equal(t, "Alice", name)
	case <-time.After(time.Second):
		t.Fatal("leave never fired")
	}
	assert.False(t, r.Present("party1", "alice"))
	assert.False(t, r.Pending("party1", "alice"))
	assert.Empty(t, r.Users("party1"))
}

func TestRoster_RejoinCancelsLeave(t *testing.T) {
	r := NewRoster(testGrace, &fakeLiveness{})
	defer r.Shutdown()

	r.Join("party1", "alice", "alice")

	var fired atomic.Bool
	r.ScheduleLeave("party1", "alice", func(string) { fired.Store(true) })

	first := r.Join("party1", "alice", "alice")
	assert.False(t, first, "reconnect within grace is not a first join")
	assert.False(t, r.Pending("party1", "alice"))

	time.Sleep(3 * testGrace)
	assert.False(t, fired.Load())
	assert.True(t, r.Present("party1", "alice"))
}

func TestRoster_RejoinDuringLeaveAnnouncementWaits(t *testing.T) {
	r := NewRoster(testGrace, &fakeLiveness{})
	defer r.Shutdown()

	r.Join("party1", "alice", "alice")

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(ev string) {
		mu.Lock()
		order = append(order, ev)
		mu.Unlock()
	}

	announcing := make(chan struct{})
	release := make(chan struct{})
	r.ScheduleLeave("party1", "alice", func(string) {
		close(announcing)
		<-release
		record("left")
	})

	select {
	case <-announcing:
	case <-time.After(time.Second):
		t.Fatal("leave never fired")
	}

	joined := make(chan bool, 1)
	go func() {
		first := r.Join("party1", "alice", "alice")
		record("joined")
		joined <- first
	}()

	select {
	case <-joined:
		t.Fatal("rejoin returned before the leave was announced")
	case <-time.After(3 * testGrace):
	}

	close(release)
	select {
	case first := <-joined:
		assert.True(t, first, "the user had left, so this is a fresh arrival")
	case <-time.After(time.Second):
		t.Fatal("rejoin never completed")
	}
	assert.Equal(t, []string{"left", "joined"}, order)
	assert.True(t, r.Present("party1", "alice"))
}

func TestRoster_LeaveSuppressedWhileConnected(t *testing.T) {
	live := &fakeLiveness{}
	r := NewRoster(testGrace, live)
	defer r.Shutdown()

	r.Join("party1", "alice", "alice")

	var fired atomic.Bool
	r.ScheduleLeave("party1", "alice", func(string) { fired.Store(true) })
	live.set("party1", "alice", true)

	assert.Eventually(t, func() bool { return !r.Pending("party1", "alice") }, time.Second, 5*time.Millisecond)
	assert.False(t, fired.Load())
	assert.True(t, r.Present("party1", "alice"))
}

func TestRoster_RescheduleKeepsSingleTimer(t *testing.T) {
	r := NewRoster(testGrace, &fakeLiveness{})
	defer r.Shutdown()

	r.Join("party1", "alice", "alice")

	var calls atomic.Int32
	for i := 0; i < 5; i++ {
		r.ScheduleLeave("party1", "alice", func(string) { calls.Add(1) })
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(3 * testGrace)
	assert.Equal(t, int32(1), calls.Load(), "superseded timers must never fire")
}

func TestRoster_ShutdownStopsTimers(t *testing.T) {
	r := NewRoster(testGrace, &fakeLiveness{})
	r.Join("party1", "alice", "alice")

	var fired atomic.Bool
	r.ScheduleLeave("party1", "alice", func(string) { fired.Store(true) })
	r.Shutdown()

	r.ScheduleLeave("party1", "alice", func(string) { fired.Store(true) })
	require.False(t, r.Pending("party1", "alice"))

	time.Sleep(3 * testGrace)
	assert.False(t, fired.Load())
}

func TestRoster_ConcurrentJoinAndLeave(t *testing.T) {
	r := NewRoster(time.Millisecond, &fakeLiveness{})
	defer r.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				r.Join("party1", "alice", "alice")
				r.ScheduleLeave("party1", "alice", nil)
			}
		}()
	}
	wg.Wait()

	// Whatever the interleaving, the pair ends with no timer and no presence.
	assert.Eventually(t, func() bool {
		return !r.Pending("party1", "alice") && !r.Present("party1", "alice")
	}, time.Second, 5*time.Millisecond)
}
