package gateway

import (
	"encoding/json"
)

// Envelope is the frame exchanged in both directions:
// {"event": "<name>", "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode renders an outbound frame.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

type typingPayload struct {
	To string `json:"to" validate:"required"`
}

type seenPayload struct {
	MessageID string `json:"messageId" validate:"required"`
	To        string `json:"to" validate:"required"`
}

type privateMessagePayload struct {
	ToUserID string `json:"toUserId" validate:"required"`
	Message  string `json:"message" validate:"required"`
}

type createRoomPayload struct {
	RoomName string `json:"roomName" validate:"required"`
}

type joinRoomPayload struct {
	RoomID string `json:"roomId" validate:"required"`
}

type roomMessagePayload struct {
	RoomID  string `json:"roomId" validate:"required"`
	Message string `json:"message" validate:"required"`
}

type addMemberPayload struct {
	RoomID   string `json:"roomId" validate:"required"`
	MemberID string `json:"memberId" validate:"required"`
}
