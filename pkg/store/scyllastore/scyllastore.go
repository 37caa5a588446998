// Package scyllastore implements the store interfaces on ScyllaDB. Messages
// are partitioned by conversation key and clustered by snowflake id, newest
// first; room names are claimed with a lightweight transaction.
package scyllastore

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/mahaj/chat-gateway/pkg/db"
	"github.com/mahaj/chat-gateway/pkg/model"
	"github.com/mahaj/chat-gateway/pkg/snowflake"
	"github.com/mahaj/chat-gateway/pkg/store"
)

const (
	// claimGrace must exceed any store timeout so an in-flight room insert
	// is never mistaken for an orphan.
	claimGrace     = time.Minute
	releaseTimeout = 5 * time.Second
)

type Store struct {
	db    *db.Session
	ids   *snowflake.Node
	names roomNames
	now   func() time.Time
	log   *zap.Logger
}

func New(session *db.Session, ids *snowflake.Node, log *zap.Logger) *Store {
	return &Store{db: session, ids: ids, names: cqlRoomNames{session}, now: time.Now, log: log}
}

func (s *Store) Stores() *store.Stores {
	return &store.Stores{Users: s, Rooms: s, Messages: s, Close: func() error { s.db.Close(); return nil }}
}

func (s *Store) FindUser(ctx context.Context, id string) (model.User, error) {
	u := model.User{ID: id}
	err := s.db.Query(`SELECT first_name, last_name, email FROM users WHERE id = ?`, id).
		WithContext(ctx).Scan(&u.FirstName, &u.LastName, &u.Email)
	if err != nil {
		return model.User{}, notFound(err, "find user")
	}
	return u, nil
}

// PutUser upserts an identity record. Used by scripts that seed users.
func (s *Store) PutUser(ctx context.Context, u model.User) error {
	err := s.db.Query(`INSERT INTO users (id, first_name, last_name, email) VALUES (?, ?, ?, ?)`,
		u.ID, u.FirstName, u.LastName, u.Email).WithContext(ctx).Exec()
	return errors.Wrap(err, "put user")
}

const roomColumns = `id, room_name, created_by, created_by_name, member_ids, member_names, created_at`

type roomRow struct {
	id, name, createdBy, createdByName string
	memberIDs, memberNames             []string
	createdAt                          time.Time
}

func (r *roomRow) dest() []any {
	return []any{&r.id, &r.name, &r.createdBy, &r.createdByName, &r.memberIDs, &r.memberNames, &r.createdAt}
}

func (r roomRow) room() model.Room {
	members := make([]model.Member, 0, len(r.memberIDs))
	for i, id := range r.memberIDs {
		m := model.Member{ID: id}
		if i < len(r.memberNames) {
			m.Name = r.memberNames[i]
		}
		members = append(members, m)
	}
	return model.Room{
		ID:            r.id,
		Name:          r.name,
		CreatedBy:     r.createdBy,
		CreatedByName: r.createdByName,
		Members:       members,
		CreatedAt:     r.createdAt.UTC(),
	}
}

// memberColumns splits members into the two parallel list columns.
func memberColumns(members []model.Member) (ids, names []string) {
	ids = lo.Map(members, func(m model.Member, _ int) string { return m.ID })
	names = lo.Map(members, func(m model.Member, _ int) string { return m.Name })
	return ids, names
}

func (s *Store) FindRoom(ctx context.Context, id string) (model.Room, error) {
	var row roomRow
	err := s.db.Query(`SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id).
		WithContext(ctx).Scan(row.dest()...)
	if err != nil {
		return model.Room{}, notFound(err, "find room")
	}
	return row.room(), nil
}

func (s *Store) FindRoomByName(ctx context.Context, name string) (model.Room, error) {
	var id string
	err := s.db.Query(`SELECT room_id FROM rooms_by_name WHERE room_name = ?`, strings.TrimSpace(name)).
		WithContext(ctx).Scan(&id)
	if err != nil {
		return model.Room{}, notFound(err, "find room by name")
	}
	return s.FindRoom(ctx, id)
}

// CreateRoom claims the room name, then writes the room row. A claim whose
// room row never landed is taken over once it is older than claimGrace.
func (s *Store) CreateRoom(ctx context.Context, room model.Room) (model.Room, error) {
	room.Name = strings.TrimSpace(room.Name)
	room.ID = s.ids.Next()
	room.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	applied, held, err := s.names.claim(ctx, room.Name, room.ID, s.now())
	if err != nil {
		return model.Room{}, err
	}
	if !applied {
		ok, err := s.takeOrphan(ctx, room.Name, held, room.ID)
		if err != nil {
			return model.Room{}, err
		}
		if !ok {
			return model.Room{}, store.ErrConflict
		}
	}

	if err := s.names.insertRoom(ctx, room); err != nil {
		s.releaseName(ctx, room.Name, room.ID)
		return model.Room{}, err
	}
	return room, nil
}

// takeOrphan moves a name claim to id when the claimed room does not exist.
func (s *Store) takeOrphan(ctx context.Context, name string, held nameClaim, id string) (bool, error) {
	if s.now().Sub(held.claimedAt) < claimGrace {
		return false, nil
	}
	exists, err := s.names.roomExists(ctx, held.roomID)
	if err != nil || exists {
		return false, err
	}
	ok, err := s.names.takeOver(ctx, name, held.roomID, id, s.now())
	if ok {
		s.log.Warn("took over orphaned room name",
			zap.String("room_name", name), zap.String("stale_room_id", held.roomID), zap.String("room_id", id))
	}
	return ok, err
}

// releaseName runs detached from ctx, which may already be past its deadline.
func (s *Store) releaseName(ctx context.Context, name, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.names.release(ctx, name, id); err != nil {
		s.log.Error("release room name", zap.String("room_name", name), zap.String("room_id", id), zap.Error(err))
	}
}

func (s *Store) SaveMembers(ctx context.Context, room model.Room) error {
	ids, names := memberColumns(room.Members)
	applied, err := s.db.Query(`UPDATE rooms SET member_ids = ?, member_names = ? WHERE id = ? IF EXISTS`,
		ids, names, room.ID).WithContext(ctx).MapScanCAS(map[string]any{})
	if err != nil {
		return errors.Wrap(err, "save members")
	}
	if !applied {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RoomsForMember(ctx context.Context, userID string) ([]model.Room, error) {
	iter := s.db.Query(`SELECT `+roomColumns+` FROM rooms WHERE member_ids CONTAINS ?`, userID).
		WithContext(ctx).Iter()

	var rooms []model.Room
	var row roomRow
	for iter.Scan(row.dest()...) {
		rooms = append(rooms, row.room())
		row = roomRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, errors.Wrap(err, "rooms for member")
	}
	return rooms, nil
}

const messageColumns = `id, sender, receiver, room, sender_name, body, type, delivered, seen, created_at`

func (s *Store) CreateMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	id := s.ids.Generate()
	msg.ID = strconv.FormatInt(id, 10)
	msg.CreatedAt = snowflake.Time(id)
	msg.Seen = false
	conv := model.ConversationKey(msg)

	batch := s.db.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO messages (conversation, `+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv, id, msg.Sender, msg.Receiver, msg.Room, msg.SenderName, msg.Body, string(msg.Type), msg.Delivered, msg.Seen, msg.CreatedAt)
	batch.Query(`INSERT INTO message_index (id, conversation) VALUES (?, ?)`, id, conv)
	if err := s.db.ExecuteBatch(batch); err != nil {
		return model.Message{}, errors.Wrap(err, "insert message")
	}
	return msg, nil
}

func (s *Store) MarkSeen(ctx context.Context, id string) error {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return store.ErrNotFound
	}
	var conv string
	if err := s.db.Query(`SELECT conversation FROM message_index WHERE id = ?`, n).
		WithContext(ctx).Scan(&conv); err != nil {
		return notFound(err, "find message")
	}
	err = s.db.Query(`UPDATE messages SET seen = true WHERE conversation = ? AND id = ?`, conv, n).
		WithContext(ctx).Exec()
	return errors.Wrap(err, "mark seen")
}

func (s *Store) FindMessages(ctx context.Context, q model.MessageQuery) ([]model.Message, error) {
	conv := model.RoomKey(q.Room)
	if q.Room == "" {
		conv = model.PairKey(q.Pair[0], q.Pair[1])
	}

	query := s.db.Query(`SELECT `+messageColumns+` FROM messages WHERE conversation = ?`, conv)
	if q.Limit > 0 {
		query = s.db.Query(`SELECT `+messageColumns+` FROM messages WHERE conversation = ? LIMIT ?`, conv, q.Limit)
	}
	iter := query.WithContext(ctx).Iter()

	var (
		out      []model.Message
		id       int64
		m        model.Message
		typeName string
	)
	for iter.Scan(&id, &m.Sender, &m.Receiver, &m.Room, &m.SenderName, &m.Body, &typeName, &m.Delivered, &m.Seen, &m.CreatedAt) {
		m.ID = strconv.FormatInt(id, 10)
		m.Type = model.MessageType(typeName)
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
		m = model.Message{}
	}
	if err := iter.Close(); err != nil {
		return nil, errors.Wrap(err, "find messages")
	}
	// Rows arrive newest first.
	return lo.Reverse(out), nil
}

func notFound(err error, op string) error {
	if errors.Is(err, gocql.ErrNotFound) {
		return store.ErrNotFound
	}
	return errors.Wrap(err, op)
}
