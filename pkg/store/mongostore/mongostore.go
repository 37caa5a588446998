// Package mongostore implements the store interfaces on MongoDB: users,
// rooms and messages collections keyed by ObjectID.
package mongostore

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mahaj/chat-gateway/pkg/model"
	"github.com/mahaj/chat-gateway/pkg/store"
)

const (
	collUsers    = "users"
	collRooms    = "rooms"
	collMessages = "messages"
)

type userDoc struct {
	ID        primitive.ObjectID `bson:"_id"`
	FirstName string             `bson:"firstName"`
	LastName  string             `bson:"lastName,omitempty"`
	Email     string             `bson:"email,omitempty"`
}

type memberDoc struct {
	ID   string `bson:"memberId"`
	Name string `bson:"memberName"`
}

type roomDoc struct {
	ID            primitive.ObjectID `bson:"_id"`
	Name          string             `bson:"roomName"`
	CreatedBy     string             `bson:"createdBy"`
	CreatedByName string             `bson:"createdUserName"`
	Members       []memberDoc        `bson:"members"`
	CreatedAt     time.Time          `bson:"createdAt"`
}

type messageDoc struct {
	ID           primitive.ObjectID `bson:"_id"`
	Conversation string             `bson:"conversation"`
	Sender       string             `bson:"sender"`
	Receiver     string             `bson:"receiver,omitempty"`
	Room         string             `bson:"room,omitempty"`
	SenderName   string             `bson:"senderName"`
	Body         string             `bson:"message"`
	Type         string             `bson:"type"`
	Delivered    bool               `bson:"delivered"`
	Seen         bool               `bson:"seen"`
	CreatedAt    time.Time          `bson:"createdAt"`
}

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials uri, pings the server and ensures the indexes.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "mongo connect")
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, errors.Wrap(err, "mongo ping")
	}
	s := &Store{client: cli, db: cli.Database(database)}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) Stores() *store.Stores {
	return &store.Stores{
		Users:    s,
		Rooms:    s,
		Messages: s,
		Close: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.client.Disconnect(ctx)
		},
	}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		collRooms: {
			{Keys: bson.D{{Key: "roomName", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_room_name")},
			{Keys: bson.D{{Key: "members.memberId", Value: 1}}, Options: options.Index().SetName("ix_member")},
		},
		collMessages: {
			{Keys: bson.D{{Key: "conversation", Value: 1}, {Key: "_id", Value: -1}}, Options: options.Index().SetName("ix_conversation")},
		},
	}
	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(err, "create indexes on %s", coll)
		}
	}
	return nil
}

func (s *Store) FindUser(ctx context.Context, id string) (model.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return model.User{}, store.ErrNotFound
	}
	var doc userDoc
	if err := s.db.Collection(collUsers).FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return model.User{}, notFound(err, "find user")
	}
	return model.User{ID: doc.ID.Hex(), FirstName: doc.FirstName, LastName: doc.LastName, Email: doc.Email}, nil
}

func (s *Store) FindRoom(ctx context.Context, id string) (model.Room, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return model.Room{}, store.ErrNotFound
	}
	return s.findRoom(ctx, bson.M{"_id": oid})
}

func (s *Store) FindRoomByName(ctx context.Context, name string) (model.Room, error) {
	return s.findRoom(ctx, bson.M{"roomName": strings.TrimSpace(name)})
}

func (s *Store) findRoom(ctx context.Context, filter bson.M) (model.Room, error) {
	var doc roomDoc
	if err := s.db.Collection(collRooms).FindOne(ctx, filter).Decode(&doc); err != nil {
		return model.Room{}, notFound(err, "find room")
	}
	return doc.room(), nil
}

func (s *Store) CreateRoom(ctx context.Context, room model.Room) (model.Room, error) {
	doc := roomDoc{
		ID:            primitive.NewObjectID(),
		Name:          strings.TrimSpace(room.Name),
		CreatedBy:     room.CreatedBy,
		CreatedByName: room.CreatedByName,
		Members:       toMemberDocs(room.Members),
		CreatedAt:     time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.db.Collection(collRooms).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return model.Room{}, store.ErrConflict
		}
		return model.Room{}, errors.Wrap(err, "insert room")
	}
	return doc.room(), nil
}

func (s *Store) SaveMembers(ctx context.Context, room model.Room) error {
	oid, err := primitive.ObjectIDFromHex(room.ID)
	if err != nil {
		return store.ErrNotFound
	}
	res, err := s.db.Collection(collRooms).UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"members": toMemberDocs(room.Members)}})
	if err != nil {
		return errors.Wrap(err, "save members")
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RoomsForMember(ctx context.Context, userID string) ([]model.Room, error) {
	cur, err := s.db.Collection(collRooms).Find(ctx,
		bson.M{"members.memberId": userID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, errors.Wrap(err, "rooms for member")
	}
	var docs []roomDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode rooms")
	}
	return lo.Map(docs, func(d roomDoc, _ int) model.Room { return d.room() }), nil
}

func (s *Store) CreateMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	oid := primitive.NewObjectID()
	msg.ID = oid.Hex()
	msg.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	msg.Seen = false

	doc := messageDoc{
		ID:           oid,
		Conversation: model.ConversationKey(msg),
		Sender:       msg.Sender,
		Receiver:     msg.Receiver,
		Room:         msg.Room,
		SenderName:   msg.SenderName,
		Body:         msg.Body,
		Type:         string(msg.Type),
		Delivered:    msg.Delivered,
		CreatedAt:    msg.CreatedAt,
	}
	if _, err := s.db.Collection(collMessages).InsertOne(ctx, doc); err != nil {
		return model.Message{}, errors.Wrap(err, "insert message")
	}
	return msg, nil
}

func (s *Store) MarkSeen(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return store.ErrNotFound
	}
	res, err := s.db.Collection(collMessages).UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"seen": true}})
	if err != nil {
		return errors.Wrap(err, "mark seen")
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FindMessages(ctx context.Context, q model.MessageQuery) ([]model.Message, error) {
	conv := model.RoomKey(q.Room)
	if q.Room == "" {
		conv = model.PairKey(q.Pair[0], q.Pair[1])
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := s.db.Collection(collMessages).Find(ctx, bson.M{"conversation": conv}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find messages")
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode messages")
	}
	return lo.Reverse(lo.Map(docs, func(d messageDoc, _ int) model.Message { return d.message() })), nil
}

func (d roomDoc) room() model.Room {
	return model.Room{
		ID:            d.ID.Hex(),
		Name:          d.Name,
		CreatedBy:     d.CreatedBy,
		CreatedByName: d.CreatedByName,
		Members:       lo.Map(d.Members, func(m memberDoc, _ int) model.Member { return model.Member{ID: m.ID, Name: m.Name} }),
		CreatedAt:     d.CreatedAt.UTC(),
	}
}

func (d messageDoc) message() model.Message {
	return model.Message{
		ID:         d.ID.Hex(),
		Sender:     d.Sender,
		Receiver:   d.Receiver,
		Room:       d.Room,
		SenderName: d.SenderName,
		Body:       d.Body,
		Type:       model.MessageType(d.Type),
		Delivered:  d.Delivered,
		Seen:       d.Seen,
		CreatedAt:  d.CreatedAt.UTC(),
	}
}

func toMemberDocs(members []model.Member) []memberDoc {
	return lo.Map(members, func(m model.Member, _ int) memberDoc { return memberDoc{ID: m.ID, Name: m.Name} })
}

func notFound(err error, op string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return errors.Wrap(err, op)
}
