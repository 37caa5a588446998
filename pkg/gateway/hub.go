package gateway

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mahaj/chat-gateway/pkg/model"
)

// Conn is a live, authenticated client connection as the core sees it.
type Conn interface {
	ID() string
	User() model.User
	// Send queues a frame without blocking. ErrConnClosed means teardown has
	// already begun; any other error means the client is not keeping up.
	Send(frame []byte) error
	Close() error
}

var ErrConnClosed = errors.New("connection closed")

// Hub holds the broadcast groups: one personal group per user and one group
// per room. It only routes frames; whether a connection may join a room
// group is decided by the rooms service before JoinConn/JoinUser are called.
type Hub struct {
	mu          sync.RWMutex
	conns       map[string]Conn
	userClients map[string]map[string]Conn // user_id -> conns
	clients     map[string]map[string]Conn // room_id -> conns
	joined      map[string]map[string]struct{}
	log         *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		conns:       make(map[string]Conn),
		userClients: make(map[string]map[string]Conn),
		clients:     make(map[string]map[string]Conn),
		joined:      make(map[string]map[string]struct{}),
		log:         log,
	}
}

// Add puts c in its user's personal group.
func (h *Hub) Add(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[c.ID()] = c
	uid := c.User().ID
	if h.userClients[uid] == nil {
		h.userClients[uid] = make(map[string]Conn)
	}
	h.userClients[uid][c.ID()] = c
	h.joined[c.ID()] = make(map[string]struct{})
}

// Remove drops c from every group it belongs to.
func (h *Hub) Remove(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.ID()]; !ok {
		return
	}
	delete(h.conns, c.ID())

	uid := c.User().ID
	if clients, ok := h.userClients[uid]; ok {
		delete(clients, c.ID())
		if len(clients) == 0 {
			delete(h.userClients, uid)
		}
	}
	for roomID := range h.joined[c.ID()] {
		if clients, ok := h.clients[roomID]; ok {
			delete(clients, c.ID())
			if len(clients) == 0 {
				delete(h.clients, roomID)
			}
		}
	}
	delete(h.joined, c.ID())
}

func (h *Hub) JoinConn(connID, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return false
	}
	h.join(c, roomID)
	return true
}

func (h *Hub) JoinUser(userID, roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.userClients[userID] {
		h.join(c, roomID)
	}
	return len(h.userClients[userID])
}

func (h *Hub) join(c Conn, roomID string) {
	if h.clients[roomID] == nil {
		h.clients[roomID] = make(map[string]Conn)
	}
	h.clients[roomID][c.ID()] = c
	h.joined[c.ID()][roomID] = struct{}{}
}

func (h *Hub) Subscribed(connID, roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[roomID][connID]
	return ok
}

// Online reports whether userID has at least one live connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userClients[userID]) > 0
}

func (h *Hub) Stats() (conns, users, rooms int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns), len(h.userClients), len(h.clients)
}

// Conns returns a snapshot of every live connection.
func (h *Hub) Conns() []Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

func (h *Hub) EmitAll(event string, payload any) {
	h.emit(event, payload, func() map[string]Conn { return h.conns })
}

func (h *Hub) EmitUser(userID, event string, payload any) {
	h.emit(event, payload, func() map[string]Conn { return h.userClients[userID] })
}

func (h *Hub) EmitRoom(roomID, event string, payload any) {
	h.emit(event, payload, func() map[string]Conn { return h.clients[roomID] })
}

// EmitConn sends to a single connection, used for replies such as errors.
func (h *Hub) EmitConn(c Conn, event string, payload any) {
	frame, err := Encode(event, payload)
	if err != nil {
		h.log.Error("encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	h.deliver(c, frame)
}

func (h *Hub) emit(event string, payload any, group func() map[string]Conn) {
	frame, err := Encode(event, payload)
	if err != nil {
		h.log.Error("encode frame", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]Conn, 0, len(group()))
	for _, c := range group() {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, frame)
	}
}

// deliver drops a client whose send buffer is full; closing it runs the
// normal teardown path. Frames to a connection that is already closing are
// discarded.
func (h *Hub) deliver(c Conn, frame []byte) {
	err := c.Send(frame)
	switch {
	case err == nil:
	case errors.Is(err, ErrConnClosed):
		h.log.Debug("dropping frame for closing connection", zap.String("conn_id", c.ID()))
	default:
		h.log.Warn("slow consumer, closing connection",
			zap.String("conn_id", c.ID()), zap.String("user_id", c.User().ID), zap.Error(err))
		go c.Close()
	}
}

// PresenceListener broadcasts every presence transition to all connections.
func (h *Hub) PresenceListener() func(model.PresenceUpdate) {
	return func(u model.PresenceUpdate) {
		h.EmitAll(model.EventPresenceUpdate, u)
	}
}
