// Package memstore is an in-process implementation of the store interfaces,
// used by tests and local runs.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/mahaj/chat-gateway/pkg/model"
	"github.com/mahaj/chat-gateway/pkg/snowflake"
	"github.com/mahaj/chat-gateway/pkg/store"
)

type Store struct {
	mu       sync.RWMutex
	ids      *snowflake.Node
	now      func() time.Time
	users    map[string]model.User
	rooms    map[string]model.Room
	byName   map[string]string
	messages map[string]model.Message
	order    []string
}

func New() *Store {
	node, _ := snowflake.NewNode(0)
	return &Store{
		ids:      node,
		now:      func() time.Time { return time.Now().UTC() },
		users:    make(map[string]model.User),
		rooms:    make(map[string]model.Room),
		byName:   make(map[string]string),
		messages: make(map[string]model.Message),
	}
}

func (s *Store) Stores() *store.Stores {
	return &store.Stores{Users: s, Rooms: s, Messages: s, Close: func() error { return nil }}
}

func (s *Store) AddUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) FindUser(_ context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, store.ErrNotFound
	}
	return u, nil
}

func (s *Store) FindRoom(_ context.Context, id string) (model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return model.Room{}, store.ErrNotFound
	}
	return cloneRoom(r), nil
}

func (s *Store) FindRoomByName(_ context.Context, name string) (model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[strings.TrimSpace(name)]
	if !ok {
		return model.Room{}, store.ErrNotFound
	}
	return cloneRoom(s.rooms[id]), nil
}

func (s *Store) CreateRoom(_ context.Context, room model.Room) (model.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room.Name = strings.TrimSpace(room.Name)
	if _, ok := s.byName[room.Name]; ok {
		return model.Room{}, store.ErrConflict
	}
	room.ID = s.ids.Next()
	room.CreatedAt = s.now()
	room = cloneRoom(room)
	s.rooms[room.ID] = room
	s.byName[room.Name] = room.ID
	return cloneRoom(room), nil
}

func (s *Store) SaveMembers(_ context.Context, room model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rooms[room.ID]
	if !ok {
		return store.ErrNotFound
	}
	cur.Members = append([]model.Member(nil), room.Members...)
	s.rooms[room.ID] = cur
	return nil
}

func (s *Store) RoomsForMember(_ context.Context, userID string) ([]model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := lo.FilterMap(lo.Values(s.rooms), func(r model.Room, _ int) (model.Room, bool) {
		return cloneRoom(r), r.HasMember(userID)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateMessage(_ context.Context, msg model.Message) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = s.ids.Next()
	msg.CreatedAt = s.now()
	msg.Seen = false
	s.messages[msg.ID] = msg
	s.order = append(s.order, msg.ID)
	return msg, nil
}

func (s *Store) MarkSeen(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return store.ErrNotFound
	}
	m.Seen = true
	s.messages[id] = m
	return nil
}

func (s *Store) FindMessages(_ context.Context, q model.MessageQuery) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var want string
	if q.Room != "" {
		want = model.RoomKey(q.Room)
	} else {
		want = model.PairKey(q.Pair[0], q.Pair[1])
	}
	var out []model.Message
	for _, id := range s.order {
		if m := s.messages[id]; model.ConversationKey(m) == want {
			out = append(out, m)
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

// Message returns a stored message by id, for assertions.
func (s *Store) Message(id string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	return m, ok
}

// MessageCount reports how many messages have been stored.
func (s *Store) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *Store) RoomCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

func cloneRoom(r model.Room) model.Room {
	r.Members = append([]model.Member(nil), r.Members...)
	return r
}
