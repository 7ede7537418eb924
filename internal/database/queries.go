package database

import (
	"database/sql"
	"errors"
	"time"
)

func (db *PgChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, username, email, created_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
	)

	return u, err
}

func (db *PgChatRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"UPDATE accounts SET username = $2, password_hash = $3, updated_at = $4 "+
			"WHERE id = $1 RETURNING id, username, email",
		params.UserId,
		params.Username,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
	)

	return u, err
}

func (db *PgChatRepository) GetAccountById(accountId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
	)

	return user, err
}

func (db *PgChatRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
	)

	return user, err
}

func (db *PgChatRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	res := db.conn.QueryRow(
		"INSERT INTO rooms (name, external_id, owner_id, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, name, external_id, owner_id, created_at",
		params.Name,
		params.ExternalId,
		params.OwnerId,
		time.Now().UTC(),
	)

	var room Room
	err := res.Scan(
		&room.Id,
		&room.Name,
		&room.ExternalId,
		&room.OwnerId,
		&room.CreatedAt,
	)

	return room, err
}

func (db *PgChatRepository) DeleteRoom(roomId int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec("DELETE FROM messages WHERE room_id = $1", roomId)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM rooms WHERE id = $1", roomId)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgChatRepository) ListRooms() ([]Room, error) {
	rows, err := db.conn.Query(
		"SELECT id, external_id, name, owner_id, created_at FROM rooms ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err = rows.Scan(&room.Id, &room.ExternalId, &room.Name, &room.OwnerId, &room.CreatedAt); err != nil {
			break
		}

		rooms = append(rooms, room)
	}

	return rooms, err
}

func (db *PgChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	res := db.conn.QueryRow(
		"INSERT INTO messages (room_id, user_id, text, creation_date_time) "+
			"VALUES ($1, $2, $3, $4) RETURNING id",
		params.RoomId,
		params.UserId,
		params.Text,
		params.CreatedAt,
	)

	msg := Message{
		RoomId:    params.RoomId,
		UserId:    params.UserId,
		Text:      params.Text,
		CreatedAt: params.CreatedAt,
	}
	err := res.Scan(&msg.Id)

	return msg, err
}

func (db *PgChatRepository) MessagesSince(roomId int, since time.Time) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT m.id, m.room_id, m.user_id, a.username, m.text, m.creation_date_time "+
			"FROM messages m JOIN accounts a ON m.user_id = a.id "+
			"WHERE m.room_id = $1 AND m.creation_date_time > $2 "+
			"ORDER BY m.creation_date_time",
		roomId,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0)
	for rows.Next() {
		var msg Message
		if err = rows.Scan(&msg.Id, &msg.RoomId, &msg.UserId, &msg.Username, &msg.Text, &msg.CreatedAt); err != nil {
			break
		}

		messages = append(messages, msg)
	}

	return messages, err
}

func (db *PgChatRepository) LatestMessageTime(roomId int) (time.Time, error) {
	row := db.conn.QueryRow(
		"SELECT creation_date_time FROM messages "+
			"WHERE room_id = $1 ORDER BY creation_date_time DESC LIMIT 1",
		roomId,
	)

	var ts time.Time
	err := row.Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		// no messages yet
		return time.Time{}, nil
	}

	return ts, err
}
