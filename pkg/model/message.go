package model

import "time"

type MessageType string

const (
	TypePrivate MessageType = "private"
	TypeRoom    MessageType = "room"
)

// Message is the transient view of a stored chat message. ID and CreatedAt
// are assigned by the message store.
type Message struct {
	ID         string      `json:"_id"`
	Sender     string      `json:"sender"`
	Receiver   string      `json:"receiver,omitempty"`
	Room       string      `json:"room,omitempty"`
	SenderName string      `json:"senderName"`
	Body       string      `json:"message"`
	Type       MessageType `json:"type"`
	Delivered  bool        `json:"delivered"`
	Seen       bool        `json:"seen"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// MessageQuery selects either a room's messages or the private messages
// exchanged between a pair of users.
type MessageQuery struct {
	Room  string
	Pair  [2]string
	Limit int
}

// ConversationKey is the partition used for a message: "room:<id>" for room
// messages, "dm:<a>:<b>" with sorted user ids for private ones.
func ConversationKey(m Message) string {
	if m.Type == TypeRoom {
		return RoomKey(m.Room)
	}
	return PairKey(m.Sender, m.Receiver)
}

func RoomKey(roomID string) string { return "room:" + roomID }

func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}
