package model

import (
	"time"

	"github.com/samber/lo"
)

type Member struct {
	ID   string `json:"memberId"`
	Name string `json:"memberName"`
}

type Room struct {
	ID            string    `json:"_id"`
	Name          string    `json:"roomName"`
	CreatedBy     string    `json:"createdBy"`
	CreatedByName string    `json:"createdUserName"`
	Members       []Member  `json:"members"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (r Room) HasMember(userID string) bool {
	return lo.ContainsBy(r.Members, func(m Member) bool { return m.ID == userID })
}

func (r Room) MemberIDs() []string {
	return lo.Map(r.Members, func(m Member, _ int) string { return m.ID })
}
