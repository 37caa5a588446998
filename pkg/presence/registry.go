// Package presence tracks which users are connected and whether they are
// online, away or offline. The Registry is the only owner of that state.
package presence

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mahaj/chat-gateway/pkg/model"
)

const DefaultAwayWindow = 5 * time.Minute

// Listener receives every status transition, in order. It is called with
// the registry lock held and must not call back into the Registry.
type Listener interface {
	PresenceChanged(update model.PresenceUpdate)
}

type ListenerFunc func(update model.PresenceUpdate)

func (f ListenerFunc) PresenceChanged(update model.PresenceUpdate) { f(update) }

type state struct {
	conns  map[string]struct{}
	status model.Status
}

// Registry holds, per user, the set of live connection handles and the
// derived status. A user present in the map always has at least one handle;
// absence means offline.
type Registry struct {
	mu        sync.Mutex
	users     map[string]*state
	timers    *Timers
	window    time.Duration
	listeners []Listener
	log       *zap.Logger
}

type Option func(*Registry)

func WithAwayWindow(d time.Duration) Option {
	return func(r *Registry) { r.window = d }
}

func WithAfterFunc(after AfterFunc) Option {
	return func(r *Registry) { r.timers = NewTimers(after) }
}

func WithListener(l Listener) Option {
	return func(r *Registry) { r.listeners = append(r.listeners, l) }
}

func NewRegistry(log *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		users:  make(map[string]*state),
		timers: NewTimers(nil),
		window: DefaultAwayWindow,
		log:    log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterConnection adds handle to userID's live set. The first handle
// turns the user online; any connection re-arms the away timer. Registering
// a handle twice is a no-op.
func (r *Registry) RegisterConnection(userID, handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.users[userID]
	if !ok {
		st = &state{conns: make(map[string]struct{}), status: model.StatusOffline}
		r.users[userID] = st
	}
	if _, dup := st.conns[handle]; dup {
		return
	}
	st.conns[handle] = struct{}{}

	r.setStatus(userID, st, model.StatusOnline)
	r.armAway(userID)
}

// UnregisterConnection removes handle. When the last handle goes the user
// turns offline and the pending away timer is dropped.
func (r *Registry) UnregisterConnection(userID, handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.users[userID]
	if !ok {
		return
	}
	if _, live := st.conns[handle]; !live {
		return
	}
	delete(st.conns, handle)
	if len(st.conns) > 0 {
		return
	}

	delete(r.users, userID)
	r.timers.Cancel(userID)
	r.setStatus(userID, st, model.StatusOffline)
}

// RecordActivity replaces the user's away timer and forces the status back
// to online, announcing it only when it actually changed. Activity from a
// user with no live connection is ignored.
func (r *Registry) RecordActivity(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.users[userID]
	if !ok {
		return
	}
	r.setStatus(userID, st, model.StatusOnline)
	r.armAway(userID)
}

func (r *Registry) Status(userID string) model.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.users[userID]; ok {
		return st.status
	}
	return model.StatusOffline
}

// Connections returns the number of live handles for userID.
func (r *Registry) Connections(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.users[userID]; ok {
		return len(st.conns)
	}
	return 0
}

// Online reports the number of users with at least one live connection.
func (r *Registry) Online() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

func (r *Registry) armAway(userID string) {
	r.timers.Reset(userID, r.window, r.expire)
}

func (r *Registry) expire(task *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.timers.Claim(task) {
		return
	}
	st, ok := r.users[task.Key()]
	if !ok {
		return
	}
	r.setStatus(task.Key(), st, model.StatusAway)
}

func (r *Registry) setStatus(userID string, st *state, status model.Status) {
	if st.status == status {
		return
	}
	st.status = status
	r.log.Debug("presence changed", zap.String("user_id", userID), zap.String("status", string(status)))

	update := model.PresenceUpdate{UserID: userID, Status: status}
	for _, l := range r.listeners {
		l.PresenceChanged(update)
	}
}
