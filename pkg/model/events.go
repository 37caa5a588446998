package model

// Inbound event names.
const (
	EventTyping          = "typing"
	EventStopTyping      = "stop-typing"
	EventMessageSeen     = "message-seen"
	EventPrivateMessage  = "private-message"
	EventCreateRoom      = "create-room"
	EventJoinRoom        = "join-room"
	EventRoomMessage     = "room-message"
	EventAddMemberToRoom = "add-member-to-room"
	EventActivity        = "activity"
)

// Outbound-only event names.
const (
	EventPresenceUpdate = "presence-update"
	EventRoomCreated    = "room-created"
	EventMemberAdded    = "member-added"
	EventError          = "error"
)

type TypingNotice struct {
	From string `json:"from"`
}

type SeenNotice struct {
	MessageID string `json:"messageId"`
	By        string `json:"by"`
}

type MemberAdded struct {
	RoomID     string `json:"roomId"`
	MemberID   string `json:"memberId"`
	MemberName string `json:"memberName"`
}

type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
