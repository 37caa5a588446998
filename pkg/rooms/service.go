// Package rooms owns room membership and gates the live room broadcast
// groups on it. Membership lives in the room store; a connection is only
// ever subscribed to a room after its user is found among the members.
package rooms

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mahaj/chat-gateway/pkg/chaterr"
	"github.com/mahaj/chat-gateway/pkg/model"
	"github.com/mahaj/chat-gateway/pkg/store"
)

// Groups is the live broadcast side: subscriptions and emission.
type Groups interface {
	// JoinConn subscribes one connection; false if it is no longer live.
	JoinConn(connID, roomID string) bool
	// JoinUser subscribes every live connection of userID and returns how many.
	JoinUser(userID, roomID string) int
	EmitAll(event string, payload any)
	EmitUser(userID, event string, payload any)
	EmitRoom(roomID, event string, payload any)
}

type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeMembers Scope = "members"
)

type Service struct {
	rooms   store.RoomStore
	users   store.UserStore
	groups  Groups
	scope   Scope
	timeout time.Duration
	locks   *keyedMutex
	log     *zap.Logger
}

func NewService(rooms store.RoomStore, users store.UserStore, groups Groups, scope Scope, timeout time.Duration, log *zap.Logger) *Service {
	return &Service{
		rooms:   rooms,
		users:   users,
		groups:  groups,
		scope:   scope,
		timeout: timeout,
		locks:   newKeyedMutex(),
		log:     log,
	}
}

// CreateRoom creates a room whose sole member is creator, subscribes the
// creator's live connections and announces it according to the configured
// scope.
func (s *Service) CreateRoom(ctx context.Context, name string, creator model.User) (model.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Room{}, chaterr.ErrInvalidPayload
	}

	unlock := s.locks.Lock("name:" + name)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.rooms.FindRoomByName(ctx, name)
	switch {
	case err == nil:
		return model.Room{}, chaterr.ErrRoomExists
	case !errors.Is(err, store.ErrNotFound):
		return model.Room{}, chaterr.Storage(err, "find room by name")
	}

	room, err := s.rooms.CreateRoom(ctx, model.Room{
		Name:          name,
		CreatedBy:     creator.ID,
		CreatedByName: creator.DisplayName(),
		Members:       []model.Member{{ID: creator.ID, Name: creator.DisplayName()}},
	})
	switch {
	case errors.Is(err, store.ErrConflict):
		return model.Room{}, chaterr.ErrRoomExists
	case err != nil:
		return model.Room{}, chaterr.Storage(err, "create room")
	}

	s.groups.JoinUser(creator.ID, room.ID)
	s.announce(room)
	s.log.Info("room created", zap.String("room_id", room.ID), zap.String("room_name", room.Name), zap.String("user_id", creator.ID))
	return room, nil
}

func (s *Service) announce(room model.Room) {
	if s.scope == ScopeMembers {
		for _, id := range room.MemberIDs() {
			s.groups.EmitUser(id, model.EventRoomCreated, room)
		}
		return
	}
	s.groups.EmitAll(model.EventRoomCreated, room)
}

// JoinBroadcastGroup subscribes connID to roomID if userID is a member.
func (s *Service) JoinBroadcastGroup(ctx context.Context, userID, connID, roomID string) error {
	room, err := s.findRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.HasMember(userID) {
		return chaterr.ErrNotAMember
	}
	s.groups.JoinConn(connID, roomID)
	return nil
}

// AddMember appends candidateID to the room on behalf of requesterID, then
// subscribes the candidate's live connections and tells the room.
func (s *Service) AddMember(ctx context.Context, roomID, requesterID, candidateID string) (model.Member, error) {
	unlock := s.locks.Lock("room:" + roomID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	room, err := s.rooms.FindRoom(ctx, roomID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return model.Member{}, chaterr.ErrRoomMissing
	case err != nil:
		return model.Member{}, chaterr.Storage(err, "find room")
	}

	if room.CreatedBy != requesterID && !room.HasMember(requesterID) {
		return model.Member{}, chaterr.ErrNotAllowed
	}
	if room.HasMember(candidateID) {
		return model.Member{}, chaterr.ErrAlreadyMember
	}

	user, err := s.users.FindUser(ctx, candidateID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return model.Member{}, chaterr.ErrUserMissing
	case err != nil:
		return model.Member{}, chaterr.Storage(err, "find user")
	}

	member := model.Member{ID: user.ID, Name: user.DisplayName()}
	room.Members = append(room.Members, member)
	if err := s.rooms.SaveMembers(ctx, room); err != nil {
		return model.Member{}, chaterr.Storage(err, "save members")
	}

	joined := s.groups.JoinUser(member.ID, roomID)
	s.groups.EmitRoom(roomID, model.EventMemberAdded, model.MemberAdded{
		RoomID:     roomID,
		MemberID:   member.ID,
		MemberName: member.Name,
	})
	s.log.Info("member added",
		zap.String("room_id", roomID), zap.String("user_id", member.ID),
		zap.String("by", requesterID), zap.Int("subscribed", joined))
	return member, nil
}

// AuthorizeRoomSend reports whether userID may post to roomID. An unknown
// room yields chaterr.ErrRoomMissing.
func (s *Service) AuthorizeRoomSend(ctx context.Context, roomID, userID string) (bool, error) {
	room, err := s.findRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	return room.HasMember(userID), nil
}

func (s *Service) findRoom(ctx context.Context, roomID string) (model.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	room, err := s.rooms.FindRoom(ctx, roomID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return model.Room{}, chaterr.ErrRoomMissing
	case err != nil:
		return model.Room{}, chaterr.Storage(err, "find room")
	}
	return room, nil
}
