package model

type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

type PresenceUpdate struct {
	UserID string `json:"userId"`
	Status Status `json:"status"`
}
