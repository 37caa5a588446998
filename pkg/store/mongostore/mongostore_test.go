package mongostore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mahaj/chat-gateway/pkg/model"
	"github.com/mahaj/chat-gateway/pkg/store"
)

func TestRoomDocWireNames(t *testing.T) {
	doc := roomDoc{
		ID:        primitive.NewObjectID(),
		Name:      "design",
		CreatedBy: "u1",
		Members:   toMemberDocs([]model.Member{{ID: "u1", Name: "Ana"}}),
		CreatedAt: time.Now().UTC(),
	}
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)

	var m bson.M
	require.NoError(t, bson.Unmarshal(raw, &m))
	require.Equal(t, "design", m["roomName"])
	require.Contains(t, m, "createdUserName")

	room := doc.room()
	require.Equal(t, doc.ID.Hex(), room.ID)
	require.Equal(t, []model.Member{{ID: "u1", Name: "Ana"}}, room.Members)
}

func TestMessageDoc(t *testing.T) {
	doc := messageDoc{ID: primitive.NewObjectID(), Sender: "u1", Receiver: "u2", Body: "hi", Type: string(model.TypePrivate), Seen: true}
	msg := doc.message()
	require.Equal(t, doc.ID.Hex(), msg.ID)
	require.Equal(t, model.TypePrivate, msg.Type)
	require.True(t, msg.Seen)
}

func TestMalformedIDsAreNotFound(t *testing.T) {
	s := &Store{}
	ctx := context.Background()

	_, err := s.FindUser(ctx, "not-hex")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.FindRoom(ctx, "not-hex")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.MarkSeen(ctx, "not-hex"), store.ErrNotFound)
	require.ErrorIs(t, s.SaveMembers(ctx, model.Room{ID: "x"}), store.ErrNotFound)
}
