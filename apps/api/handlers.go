package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/mahaj/chat-gateway/pkg/chaterr"
	"github.com/mahaj/chat-gateway/pkg/conversations"
	"github.com/mahaj/chat-gateway/pkg/model"
	"github.com/mahaj/chat-gateway/pkg/presence"
	"github.com/mahaj/chat-gateway/pkg/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type presenceReader interface {
	ReadStatus(ctx context.Context, userID string) (presence.Snapshot, error)
	OnlineUsers(ctx context.Context) ([]string, error)
}

type conversationIndex interface {
	List(ctx context.Context, userID string) ([]conversations.Conversation, error)
	MarkRead(ctx context.Context, userID, otherUserID string) error
}

// API serves read-only views over the stores the gateway writes.
type API struct {
	rooms    store.RoomStore
	messages store.MessageStore
	presence presenceReader
	convs    conversationIndex
	timeout  time.Duration
}

func (a *API) routes(r gin.IRouter) {
	r.GET("/presence", a.onlineUsers)
	r.GET("/presence/:userId", a.userPresence)
	r.GET("/rooms", a.myRooms)
	r.GET("/rooms/:roomId/messages", a.roomHistory)
	r.GET("/conversations", a.conversations)
	r.GET("/conversations/:userId/messages", a.privateHistory)
	r.POST("/conversations/read", a.markRead)
}

func (a *API) scoped(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), a.timeout)
}

func (a *API) onlineUsers(c *gin.Context) {
	ctx, cancel := a.scoped(c)
	defer cancel()
	users, err := a.presence.OnlineUsers(ctx)
	if err != nil {
		fail(c, chaterr.Storage(err, "online users"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (a *API) userPresence(c *gin.Context) {
	ctx, cancel := a.scoped(c)
	defer cancel()
	snap, err := a.presence.ReadStatus(ctx, c.Param("userId"))
	if err != nil {
		fail(c, chaterr.Storage(err, "read presence"))
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (a *API) myRooms(c *gin.Context) {
	ctx, cancel := a.scoped(c)
	defer cancel()
	rooms, err := a.rooms.RoomsForMember(ctx, caller(c).ID)
	if err != nil {
		fail(c, chaterr.Storage(err, "rooms for member"))
		return
	}
	if rooms == nil {
		rooms = []model.Room{}
	}
	c.JSON(http.StatusOK, rooms)
}

func (a *API) roomHistory(c *gin.Context) {
	limit, ok := historyLimit(c)
	if !ok {
		return
	}
	ctx, cancel := a.scoped(c)
	defer cancel()

	roomID := c.Param("roomId")
	room, err := a.rooms.FindRoom(ctx, roomID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		fail(c, chaterr.ErrRoomMissing)
		return
	case err != nil:
		fail(c, chaterr.Storage(err, "find room"))
		return
	}
	if !room.HasMember(caller(c).ID) {
		fail(c, chaterr.ErrNotAMember)
		return
	}
	a.history(ctx, c, model.MessageQuery{Room: roomID, Limit: limit})
}

func (a *API) privateHistory(c *gin.Context) {
	limit, ok := historyLimit(c)
	if !ok {
		return
	}
	ctx, cancel := a.scoped(c)
	defer cancel()
	a.history(ctx, c, model.MessageQuery{Pair: [2]string{caller(c).ID, c.Param("userId")}, Limit: limit})
}

func (a *API) history(ctx context.Context, c *gin.Context, q model.MessageQuery) {
	msgs, err := a.messages.FindMessages(ctx, q)
	if err != nil {
		fail(c, chaterr.Storage(err, "find messages"))
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

func (a *API) conversations(c *gin.Context) {
	ctx, cancel := a.scoped(c)
	defer cancel()
	list, err := a.convs.List(ctx, caller(c).ID)
	if err != nil {
		fail(c, chaterr.Storage(err, "list conversations"))
		return
	}
	if list == nil {
		list = []conversations.Conversation{}
	}
	c.JSON(http.StatusOK, list)
}

type readRequest struct {
	OtherUserID string `json:"otherUserId" binding:"required"`
}

func (a *API) markRead(c *gin.Context) {
	var req readRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, chaterr.ErrInvalidPayload.Wrap(err))
		return
	}
	ctx, cancel := a.scoped(c)
	defer cancel()
	if err := a.convs.MarkRead(ctx, caller(c).ID, req.OtherUserID); err != nil {
		fail(c, chaterr.Storage(err, "mark read"))
		return
	}
	c.Status(http.StatusNoContent)
}

func historyLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultHistoryLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		fail(c, chaterr.ErrInvalidPayload.Wrap(errors.Errorf("bad limit %q", raw)))
		return 0, false
	}
	if n > maxHistoryLimit {
		n = maxHistoryLimit
	}
	return n, true
}
