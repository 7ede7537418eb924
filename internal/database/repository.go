package database

import "time"

type ChatRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	UpdateAccount(params UpdateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	CreateRoom(params CreateRoomParams) (Room, error)
	// DeleteRoom removes the room and every message in it as a single
	// transaction.
	DeleteRoom(roomId int) error
	ListRooms() ([]Room, error)
	CreateMessage(params CreateMessageParams) (Message, error)
	// MessagesSince returns the room's messages with creation_date_time
	// strictly greater than since, oldest first. A zero since returns the
	// full history.
	MessagesSince(roomId int, since time.Time) ([]Message, error)
	// LatestMessageTime returns the creation time of the room's newest
	// message, or the zero time if the room has none.
	LatestMessageTime(roomId int) (time.Time, error)
}
