// Package conversations maintains each user's list of private conversations
// and their unread counters in ScyllaDB.
package conversations

import (
	"context"
	"sort"
	"time"

	"github.com/gocql/gocql"
	"github.com/pkg/errors"

	"github.com/mahaj/chat-gateway/pkg/db"
	"github.com/mahaj/chat-gateway/pkg/model"
)

type Conversation struct {
	Conversation string    `json:"conversation"`
	OtherUserID  string    `json:"otherUserId"`
	LastUpdated  time.Time `json:"lastUpdated"`
	UnreadCount  int64     `json:"unreadCount"`
}

type Index struct {
	db *db.Session
}

func NewIndex(session *db.Session) *Index {
	return &Index{db: session}
}

// Touch records a private message for both parties and bumps the
// receiver's unread counter. Room messages are ignored.
func (x *Index) Touch(ctx context.Context, msg model.Message) error {
	if msg.Type != model.TypePrivate {
		return nil
	}
	conv := model.ConversationKey(msg)

	const upsert = `INSERT INTO user_conversations (user_id, conversation, other_id, last_updated) VALUES (?, ?, ?, ?)`
	parties := [][2]string{{msg.Sender, msg.Receiver}, {msg.Receiver, msg.Sender}}
	for _, p := range parties {
		if err := x.db.Query(upsert, p[0], conv, p[1], msg.CreatedAt).WithContext(ctx).Exec(); err != nil {
			return errors.Wrapf(err, "touch conversation for %s", p[0])
		}
		if msg.Sender == msg.Receiver {
			break
		}
	}

	if msg.Sender == msg.Receiver {
		return nil
	}
	err := x.db.Query(`UPDATE conversation_counters SET unread_count = unread_count + 1 WHERE user_id = ? AND conversation = ?`,
		msg.Receiver, conv).WithContext(ctx).Exec()
	return errors.Wrapf(err, "increment unread for %s", msg.Receiver)
}

// List returns userID's conversations, most recently updated first.
func (x *Index) List(ctx context.Context, userID string) ([]Conversation, error) {
	unread, err := x.unread(ctx, userID)
	if err != nil {
		return nil, err
	}

	iter := x.db.Query(`SELECT conversation, other_id, last_updated FROM user_conversations WHERE user_id = ?`, userID).
		WithContext(ctx).Iter()
	var (
		out []Conversation
		c   Conversation
	)
	for iter.Scan(&c.Conversation, &c.OtherUserID, &c.LastUpdated) {
		c.UnreadCount = unread[c.Conversation]
		out = append(out, c)
		c = Conversation{}
	}
	if err := iter.Close(); err != nil {
		return nil, errors.Wrap(err, "list conversations")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdated.After(out[j].LastUpdated) })
	return out, nil
}

func (x *Index) unread(ctx context.Context, userID string) (map[string]int64, error) {
	iter := x.db.Query(`SELECT conversation, unread_count FROM conversation_counters WHERE user_id = ?`, userID).
		WithContext(ctx).Iter()
	counts := make(map[string]int64)
	var (
		conv  string
		count int64
	)
	for iter.Scan(&conv, &count) {
		counts[conv] = count
	}
	return counts, errors.Wrap(iter.Close(), "unread counters")
}

// MarkRead clears userID's unread counter for the conversation with
// otherUserID. Deleting the row is how a Scylla counter is reset.
func (x *Index) MarkRead(ctx context.Context, userID, otherUserID string) error {
	err := x.db.Query(`DELETE FROM conversation_counters WHERE user_id = ? AND conversation = ?`,
		userID, model.PairKey(userID, otherUserID)).WithContext(ctx).Exec()
	if errors.Is(err, gocql.ErrNotFound) {
		return nil
	}
	return errors.Wrap(err, "reset unread")
}
