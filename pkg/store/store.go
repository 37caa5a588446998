//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks

// Package store declares the durable collaborators the gateway talks to.
// Implementations live in memstore, scyllastore and mongostore.
package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mahaj/chat-gateway/pkg/model"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: conflict")
)

type UserStore interface {
	FindUser(ctx context.Context, id string) (model.User, error)
}

type RoomStore interface {
	FindRoom(ctx context.Context, id string) (model.Room, error)
	FindRoomByName(ctx context.Context, name string) (model.Room, error)
	// CreateRoom assigns ID and CreatedAt. A duplicate name yields ErrConflict.
	CreateRoom(ctx context.Context, room model.Room) (model.Room, error)
	SaveMembers(ctx context.Context, room model.Room) error
	RoomsForMember(ctx context.Context, userID string) ([]model.Room, error)
}

type MessageStore interface {
	// CreateMessage assigns ID and CreatedAt and returns the stored record.
	CreateMessage(ctx context.Context, msg model.Message) (model.Message, error)
	MarkSeen(ctx context.Context, id string) error
	// FindMessages returns the latest q.Limit messages of one conversation,
	// oldest first. A zero Limit means all of them.
	FindMessages(ctx context.Context, q model.MessageQuery) ([]model.Message, error)
}

// Stores bundles one backend's implementations.
type Stores struct {
	Users    UserStore
	Rooms    RoomStore
	Messages MessageStore
	Close    func() error
}
