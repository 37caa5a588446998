package scyllastore

import (
	"context"
	"time"

	"github.com/gocql/gocql"
	"github.com/pkg/errors"

	"github.com/mahaj/chat-gateway/pkg/db"
	"github.com/mahaj/chat-gateway/pkg/model"
)

// nameClaim is the rooms_by_name row that beat us to a name.
type nameClaim struct {
	roomID    string
	claimedAt time.Time
}

// roomNames is the set of statements CreateRoom runs.
type roomNames interface {
	claim(ctx context.Context, name, id string, at time.Time) (bool, nameClaim, error)
	takeOver(ctx context.Context, name, staleID, id string, at time.Time) (bool, error)
	release(ctx context.Context, name, id string) error
	roomExists(ctx context.Context, id string) (bool, error)
	insertRoom(ctx context.Context, room model.Room) error
}

type cqlRoomNames struct {
	db *db.Session
}

func (c cqlRoomNames) claim(ctx context.Context, name, id string, at time.Time) (bool, nameClaim, error) {
	prev := map[string]any{}
	applied, err := c.db.Query(`INSERT INTO rooms_by_name (room_name, room_id, claimed_at) VALUES (?, ?, ?) IF NOT EXISTS`,
		name, id, at).WithContext(ctx).MapScanCAS(prev)
	if err != nil {
		return false, nameClaim{}, errors.Wrap(err, "claim room name")
	}
	held := nameClaim{}
	held.roomID, _ = prev["room_id"].(string)
	held.claimedAt, _ = prev["claimed_at"].(time.Time)
	return applied, held, nil
}

func (c cqlRoomNames) takeOver(ctx context.Context, name, staleID, id string, at time.Time) (bool, error) {
	applied, err := c.db.Query(`UPDATE rooms_by_name SET room_id = ?, claimed_at = ? WHERE room_name = ? IF room_id = ?`,
		id, at, name, staleID).WithContext(ctx).MapScanCAS(map[string]any{})
	return applied, errors.Wrap(err, "take over room name")
}

func (c cqlRoomNames) release(ctx context.Context, name, id string) error {
	err := c.db.Query(`DELETE FROM rooms_by_name WHERE room_name = ? IF room_id = ?`, name, id).
		WithContext(ctx).Exec()
	return errors.Wrap(err, "release room name")
}

func (c cqlRoomNames) roomExists(ctx context.Context, id string) (bool, error) {
	var found string
	err := c.db.Query(`SELECT id FROM rooms WHERE id = ?`, id).WithContext(ctx).Scan(&found)
	switch {
	case errors.Is(err, gocql.ErrNotFound):
		return false, nil
	case err != nil:
		return false, errors.Wrap(err, "find claimed room")
	}
	return true, nil
}

func (c cqlRoomNames) insertRoom(ctx context.Context, room model.Room) error {
	ids, names := memberColumns(room.Members)
	err := c.db.Query(`INSERT INTO rooms (`+roomColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		room.ID, room.Name, room.CreatedBy, room.CreatedByName, ids, names, room.CreatedAt).
		WithContext(ctx).Exec()
	return errors.Wrap(err, "insert room")
}
