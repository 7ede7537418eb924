package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Room struct {
	Id         int       `json:"-"`
	ExternalId string    `json:"id"`
	Name       string    `json:"name"`
	OwnerId    int       `json:"owner_id"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// RoomSummary is the lobby view of a room. Occupants is a point-in-time
// count and may be stale by the time a client acts on it.
type RoomSummary struct {
	ExternalId string `json:"id"`
	Name       string `json:"name"`
	OwnerId    int    `json:"owner_id"`
	Occupants  int    `json:"occupants"`
}

type Message struct {
	Id        int       `json:"id"`
	RoomId    int       `json:"-"`
	UserId    int       `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"creation_date_time"`
}

// MessageView is a message annotated for display to a particular user.
// Username is the literal "Me" when the author is the requesting user.
type MessageView struct {
	Text      string    `json:"text"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"creation_date_time"`
}
