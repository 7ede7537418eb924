package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	Id         int
	ExternalId string
	Name       string
	OwnerId    int
	CreatedAt  time.Time
}

type Message struct {
	Id     int
	RoomId int
	UserId int
	// Username is the author's name, joined from accounts on reads.
	Username  string
	Text      string
	CreatedAt time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type UpdateAccountParams struct {
	UserId       int
	Username     string
	PasswordHash string
}

type CreateRoomParams struct {
	Name       string
	ExternalId string
	OwnerId    int
}

type CreateMessageParams struct {
	RoomId    int
	UserId    int
	Text      string
	CreatedAt time.Time
}
