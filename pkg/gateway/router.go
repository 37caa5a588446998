// Package gateway is the message router: it dispatches inbound connection
// events to presence, rooms and the message store and fans the results out
// over the Hub.
package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mahaj/chat-gateway/pkg/chaterr"
	"github.com/mahaj/chat-gateway/pkg/model"
	"github.com/mahaj/chat-gateway/pkg/store"
)

// Presence is the slice of the presence registry the router drives.
type Presence interface {
	RegisterConnection(userID, handle string)
	UnregisterConnection(userID, handle string)
	RecordActivity(userID string)
}

// Rooms is the slice of the rooms service the router drives.
type Rooms interface {
	CreateRoom(ctx context.Context, name string, creator model.User) (model.Room, error)
	JoinBroadcastGroup(ctx context.Context, userID, connID, roomID string) error
	AddMember(ctx context.Context, roomID, requesterID, candidateID string) (model.Member, error)
	AuthorizeRoomSend(ctx context.Context, roomID, userID string) (bool, error)
}

// Journal receives every persisted message after fan-out.
type Journal interface {
	Publish(ctx context.Context, msg model.Message) error
}

type handlerFunc func(ctx context.Context, c Conn, data json.RawMessage) error

type Router struct {
	hub      *Hub
	presence Presence
	rooms    Rooms
	messages store.MessageStore
	journal  Journal
	timeout  time.Duration
	validate *validator.Validate
	handlers map[string]handlerFunc
	log      *zap.Logger
}

type RouterOption func(*Router)

func WithJournal(j Journal) RouterOption {
	return func(r *Router) { r.journal = j }
}

func NewRouter(hub *Hub, presence Presence, rooms Rooms, messages store.MessageStore, timeout time.Duration, log *zap.Logger, opts ...RouterOption) *Router {
	r := &Router{
		hub:      hub,
		presence: presence,
		rooms:    rooms,
		messages: messages,
		timeout:  timeout,
		validate: validator.New(),
		log:      log,
	}
	r.handlers = map[string]handlerFunc{
		model.EventTyping:          r.typing(model.EventTyping),
		model.EventStopTyping:      r.typing(model.EventStopTyping),
		model.EventMessageSeen:     r.messageSeen,
		model.EventPrivateMessage:  r.privateMessage,
		model.EventCreateRoom:      r.createRoom,
		model.EventJoinRoom:        r.joinRoom,
		model.EventRoomMessage:     r.roomMessage,
		model.EventAddMemberToRoom: r.addMember,
		model.EventActivity:        r.activity,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect attaches an authenticated connection: personal group first, then
// presence, so the connection sees its own online announcement.
func (r *Router) Connect(c Conn) {
	r.hub.Add(c)
	r.presence.RegisterConnection(c.User().ID, c.ID())
	r.log.Info("connected", zap.String("user_id", c.User().ID), zap.String("conn_id", c.ID()))
}

// Disconnect is the only path toward offline.
func (r *Router) Disconnect(c Conn) {
	r.hub.Remove(c)
	r.presence.UnregisterConnection(c.User().ID, c.ID())
	r.log.Info("disconnected", zap.String("user_id", c.User().ID), zap.String("conn_id", c.ID()))
}

// Handle processes one inbound frame. Callers invoke it sequentially per
// connection, which is what keeps a connection's events in order.
func (r *Router) Handle(ctx context.Context, c Conn, frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		r.log.Debug("dropping undecodable frame", zap.String("conn_id", c.ID()), zap.Error(err))
		return
	}
	h, ok := r.handlers[env.Event]
	if !ok {
		r.log.Debug("dropping unknown event", zap.String("conn_id", c.ID()), zap.String("event", env.Event))
		return
	}
	if err := h(ctx, c, env.Data); err != nil {
		r.reject(c, env.Event, err)
	}
}

func (r *Router) reject(c Conn, event string, err error) {
	fields := []zap.Field{zap.String("event", event), zap.String("user_id", c.User().ID), zap.String("conn_id", c.ID()), zap.Error(err)}

	e, ok := chaterr.As(err)
	if !ok {
		e = chaterr.Storage(err, event)
	}
	switch e.Kind {
	case chaterr.KindValidation:
		r.log.Debug("dropping invalid payload", fields...)
		return
	case chaterr.KindStorage:
		r.log.Error("store failure", fields...)
	default:
		r.log.Info("event rejected", fields...)
	}
	r.hub.EmitConn(c, model.EventError, model.ErrorNotice{Code: e.Code(), Message: e.Message})
}

func (r *Router) decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return chaterr.ErrInvalidPayload.Wrap(err)
	}
	if err := r.validate.Struct(v); err != nil {
		return chaterr.ErrInvalidPayload.Wrap(err)
	}
	return nil
}

func (r *Router) typing(event string) handlerFunc {
	return func(_ context.Context, c Conn, data json.RawMessage) error {
		var p typingPayload
		if err := r.decode(data, &p); err != nil {
			return err
		}
		r.hub.EmitUser(p.To, event, model.TypingNotice{From: c.User().ID})
		return nil
	}
}

func (r *Router) messageSeen(ctx context.Context, c Conn, data json.RawMessage) error {
	var p seenPayload
	if err := r.decode(data, &p); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	err := r.messages.MarkSeen(ctx, p.MessageID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return chaterr.ErrMessageMissing
	case err != nil:
		return chaterr.Storage(err, "mark seen")
	}

	r.hub.EmitUser(p.To, model.EventMessageSeen, model.SeenNotice{MessageID: p.MessageID, By: c.User().ID})
	return nil
}

func (r *Router) privateMessage(ctx context.Context, c Conn, data json.RawMessage) error {
	var p privateMessagePayload
	if err := r.decode(data, &p); err != nil {
		return err
	}
	sender := c.User()

	saved, err := r.persist(ctx, model.Message{
		Sender:     sender.ID,
		Receiver:   p.ToUserID,
		SenderName: sender.DisplayName(),
		Body:       p.Message,
		Type:       model.TypePrivate,
		Delivered:  r.hub.Online(p.ToUserID),
	})
	if err != nil {
		return err
	}

	r.hub.EmitUser(p.ToUserID, model.EventPrivateMessage, saved)
	if p.ToUserID != sender.ID {
		r.hub.EmitUser(sender.ID, model.EventPrivateMessage, saved)
	}
	r.publish(saved)
	return nil
}

func (r *Router) createRoom(ctx context.Context, c Conn, data json.RawMessage) error {
	var p createRoomPayload
	if err := r.decode(data, &p); err != nil {
		return err
	}
	_, err := r.rooms.CreateRoom(ctx, p.RoomName, c.User())
	return err
}

func (r *Router) joinRoom(ctx context.Context, c Conn, data json.RawMessage) error {
	var p joinRoomPayload
	if err := r.decode(data, &p); err != nil {
		return err
	}
	return r.rooms.JoinBroadcastGroup(ctx, c.User().ID, c.ID(), p.RoomID)
}

func (r *Router) roomMessage(ctx context.Context, c Conn, data json.RawMessage) error {
	var p roomMessagePayload
	if err := r.decode(data, &p); err != nil {
		return err
	}
	sender := c.User()

	member, err := r.rooms.AuthorizeRoomSend(ctx, p.RoomID, sender.ID)
	switch {
	case errors.Is(err, chaterr.ErrRoomMissing):
		r.log.Debug("dropping message for unknown room", zap.String("room_id", p.RoomID), zap.String("user_id", sender.ID))
		return nil
	case err != nil:
		return err
	case !member:
		return chaterr.ErrNotAMember
	}

	saved, err := r.persist(ctx, model.Message{
		Sender:     sender.ID,
		Room:       p.RoomID,
		SenderName: sender.DisplayName(),
		Body:       p.Message,
		Type:       model.TypeRoom,
	})
	if err != nil {
		return err
	}

	r.hub.EmitRoom(p.RoomID, model.EventRoomMessage, saved)
	r.publish(saved)
	return nil
}

func (r *Router) addMember(ctx context.Context, c Conn, data json.RawMessage) error {
	var p addMemberPayload
	if err := r.decode(data, &p); err != nil {
		return err
	}
	_, err := r.rooms.AddMember(ctx, p.RoomID, c.User().ID, p.MemberID)
	return err
}

func (r *Router) activity(_ context.Context, c Conn, _ json.RawMessage) error {
	r.presence.RecordActivity(c.User().ID)
	return nil
}

func (r *Router) persist(ctx context.Context, msg model.Message) (model.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	saved, err := r.messages.CreateMessage(ctx, msg)
	if err != nil {
		return model.Message{}, chaterr.Storage(err, "create message")
	}
	return saved, nil
}

func (r *Router) publish(msg model.Message) {
	if r.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.journal.Publish(ctx, msg); err != nil {
		r.log.Warn("journal publish failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
}
