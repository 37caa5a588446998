package presence

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mahaj/chat-gateway/pkg/model"
)

type fakeTimer struct {
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(_ time.Duration, f func()) Stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{f: f}
	c.timers = append(c.timers, t)
	return t
}

// fire runs every armed timer, as if the away window elapsed.
func (c *fakeClock) fire() {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

// fireStale runs timer i even if it was stopped, as happens when Stop
// loses the race against an expiring timer.
func (c *fakeClock) fireStale(i int) {
	c.mu.Lock()
	t := c.timers[i]
	c.mu.Unlock()
	t.f()
}

func (c *fakeClock) armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type recorder struct {
	mu      sync.Mutex
	updates []model.PresenceUpdate
}

func (r *recorder) PresenceChanged(u model.PresenceUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) all() []model.PresenceUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.PresenceUpdate(nil), r.updates...)
}

func newTestRegistry(t *testing.T) (*Registry, *fakeClock, *recorder) {
	clock := &fakeClock{}
	rec := &recorder{}
	r := NewRegistry(zaptest.NewLogger(t), WithAfterFunc(clock.AfterFunc), WithListener(rec))
	return r, clock, rec
}

func online(id string) model.PresenceUpdate {
	return model.PresenceUpdate{UserID: id, Status: model.StatusOnline}
}

func away(id string) model.PresenceUpdate {
	return model.PresenceUpdate{UserID: id, Status: model.StatusAway}
}

func offline(id string) model.PresenceUpdate {
	return model.PresenceUpdate{UserID: id, Status: model.StatusOffline}
}

func TestRegistry_MultiDevice(t *testing.T) {
	r, clock, rec := newTestRegistry(t)

	r.RegisterConnection("u1", "c1")
	r.RegisterConnection("u1", "c1")
	r.RegisterConnection("u1", "c2")
	require.Equal(t, 2, r.Connections("u1"))
	require.Equal(t, model.StatusOnline, r.Status("u1"))
	require.Equal(t, 1, clock.armed())

	r.UnregisterConnection("u1", "c1")
	require.Equal(t, model.StatusOnline, r.Status("u1"))

	r.UnregisterConnection("u1", "c1")
	r.UnregisterConnection("u1", "c2")
	require.Equal(t, model.StatusOffline, r.Status("u1"))
	require.Equal(t, 0, clock.armed())
	require.Equal(t, 0, r.Online())

	require.Equal(t, []model.PresenceUpdate{online("u1"), offline("u1")}, rec.all())
}

func TestRegistry_UnknownHandles(t *testing.T) {
	r, _, rec := newTestRegistry(t)

	r.UnregisterConnection("ghost", "c1")
	r.RegisterConnection("u1", "c1")
	r.UnregisterConnection("u1", "other")

	require.Equal(t, model.StatusOnline, r.Status("u1"))
	require.Equal(t, []model.PresenceUpdate{online("u1")}, rec.all())
}

func TestRegistry_AwayAfterInactivity(t *testing.T) {
	r, clock, rec := newTestRegistry(t)

	r.RegisterConnection("u1", "c1")
	clock.fire()
	require.Equal(t, model.StatusAway, r.Status("u1"))

	r.RecordActivity("u1")
	require.Equal(t, model.StatusOnline, r.Status("u1"))

	r.RecordActivity("u1")
	require.Equal(t, []model.PresenceUpdate{online("u1"), away("u1"), online("u1")}, rec.all())
}

func TestRegistry_ActivityReplacesTimer(t *testing.T) {
	r, clock, rec := newTestRegistry(t)

	r.RegisterConnection("u1", "c1")
	r.RecordActivity("u1")
	r.RecordActivity("u1")
	require.Equal(t, 1, clock.armed())

	// The superseded timers fire late; neither may demote the user.
	clock.fireStale(0)
	clock.fireStale(1)
	require.Equal(t, model.StatusOnline, r.Status("u1"))

	clock.fire()
	clock.fire()
	require.Equal(t, model.StatusAway, r.Status("u1"))

	awayCount := 0
	for _, u := range rec.all() {
		if u.Status == model.StatusAway {
			awayCount++
		}
	}
	require.Equal(t, 1, awayCount)
}

func TestRegistry_NoAwayAfterDisconnect(t *testing.T) {
	r, clock, rec := newTestRegistry(t)

	r.RegisterConnection("u1", "c1")
	r.UnregisterConnection("u1", "c1")
	clock.fireStale(0)

	require.Equal(t, model.StatusOffline, r.Status("u1"))
	require.Equal(t, []model.PresenceUpdate{online("u1"), offline("u1")}, rec.all())
}

func TestRegistry_ActivityWithoutConnectionIgnored(t *testing.T) {
	r, clock, rec := newTestRegistry(t)

	r.RecordActivity("u1")

	require.Equal(t, model.StatusOffline, r.Status("u1"))
	require.Equal(t, 0, clock.armed())
	require.Empty(t, rec.all())
}

func TestRegistry_NewConnectionWakesAwayUser(t *testing.T) {
	r, clock, rec := newTestRegistry(t)

	r.RegisterConnection("u1", "c1")
	clock.fire()
	r.RegisterConnection("u1", "c2")

	require.Equal(t, model.StatusOnline, r.Status("u1"))
	require.Equal(t, []model.PresenceUpdate{online("u1"), away("u1"), online("u1")}, rec.all())
}

func TestRegistry_OfflineIffNoConnections(t *testing.T) {
	r, clock, _ := newTestRegistry(t)
	rnd := rand.New(rand.NewSource(42))
	users := []string{"u1", "u2", "u3"}

	for i := 0; i < 2000; i++ {
		user := users[rnd.Intn(len(users))]
		handle := fmt.Sprintf("%s-c%d", user, rnd.Intn(4))
		switch rnd.Intn(4) {
		case 0, 1:
			r.RegisterConnection(user, handle)
		case 2:
			r.UnregisterConnection(user, handle)
		case 3:
			clock.fire()
		}

		for _, u := range users {
			offline := r.Status(u) == model.StatusOffline
			require.Equal(t, r.Connections(u) == 0, offline, "step %d user %s", i, u)
		}
	}
}

func TestRegistry_ConcurrentUse(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(zaptest.NewLogger(t), WithAwayWindow(time.Millisecond), WithListener(rec))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handle := fmt.Sprintf("c%d", i)
			for j := 0; j < 200; j++ {
				r.RegisterConnection("u1", handle)
				r.RecordActivity("u1")
				r.UnregisterConnection("u1", handle)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, model.StatusOffline, r.Status("u1"))
	require.Never(t, func() bool { return r.Status("u1") != model.StatusOffline }, 20*time.Millisecond, 2*time.Millisecond)
}

func TestRegistry_RealTimer(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t), WithAwayWindow(10*time.Millisecond))

	r.RegisterConnection("u1", "c1")
	require.Eventually(t, func() bool { return r.Status("u1") == model.StatusAway }, time.Second, time.Millisecond)
}
