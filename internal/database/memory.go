package database

import (
	"database/sql"
	"sort"
	"sync"
	"time"
)

// MemChatRepository is an in-memory ChatRepository. It backs the server's
// -in-memory mode and most tests. Lookup misses return sql.ErrNoRows so
// callers can treat it exactly like the Postgres implementation.
type MemChatRepository struct {
	mu       sync.Mutex
	accounts map[int]User
	rooms    map[int]Room
	messages map[int][]Message
	nextId   int
}

func NewMemChatRepository() *MemChatRepository {
	return &MemChatRepository{
		accounts: make(map[int]User),
		rooms:    make(map[int]Room),
		messages: make(map[int][]Message),
		nextId:   1,
	}
}

func (db *MemChatRepository) Ping() error {
	return nil
}

func (db *MemChatRepository) allocId() int {
	id := db.nextId
	db.nextId++
	return id
}

func (db *MemChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	u := User{
		Id:           db.allocId(),
		Username:     params.Username,
		EmailAddress: params.EmailAddress,
		PasswordHash: params.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}
	db.accounts[u.Id] = u

	return u, nil
}

func (db *MemChatRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	u, ok := db.accounts[params.UserId]
	if !ok {
		return User{}, sql.ErrNoRows
	}

	u.Username = params.Username
	u.PasswordHash = params.PasswordHash
	u.UpdatedAt = time.Now().UTC()
	db.accounts[u.Id] = u

	return u, nil
}

func (db *MemChatRepository) GetAccountById(accountId int) (User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	u, ok := db.accounts[accountId]
	if !ok {
		return User{}, sql.ErrNoRows
	}

	return u, nil
}

func (db *MemChatRepository) GetAccountByEmail(email string) (User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.accounts {
		if u.EmailAddress == email {
			return u, nil
		}
	}

	return User{}, sql.ErrNoRows
}

func (db *MemChatRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	room := Room{
		Id:         db.allocId(),
		ExternalId: params.ExternalId,
		Name:       params.Name,
		OwnerId:    params.OwnerId,
		CreatedAt:  time.Now().UTC(),
	}
	db.rooms[room.Id] = room

	return room, nil
}

func (db *MemChatRepository) DeleteRoom(roomId int) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.rooms[roomId]; !ok {
		return sql.ErrNoRows
	}

	delete(db.rooms, roomId)
	delete(db.messages, roomId)

	return nil
}

func (db *MemChatRepository) ListRooms() ([]Room, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rooms := make([]Room, 0, len(db.rooms))
	for _, room := range db.rooms {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Id < rooms[j].Id })

	return rooms, nil
}

func (db *MemChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.rooms[params.RoomId]; !ok {
		return Message{}, sql.ErrNoRows
	}

	msg := Message{
		Id:        db.allocId(),
		RoomId:    params.RoomId,
		UserId:    params.UserId,
		Username:  db.accounts[params.UserId].Username,
		Text:      params.Text,
		CreatedAt: params.CreatedAt,
	}
	db.messages[params.RoomId] = append(db.messages[params.RoomId], msg)

	return msg, nil
}

func (db *MemChatRepository) MessagesSince(roomId int, since time.Time) ([]Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	messages := make([]Message, 0)
	for _, msg := range db.messages[roomId] {
		if msg.CreatedAt.After(since) {
			messages = append(messages, msg)
		}
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	return messages, nil
}

func (db *MemChatRepository) LatestMessageTime(roomId int) (time.Time, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var latest time.Time
	for _, msg := range db.messages[roomId] {
		if msg.CreatedAt.After(latest) {
			latest = msg.CreatedAt
		}
	}

	return latest, nil
}
