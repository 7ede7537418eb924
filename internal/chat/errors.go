package chat

import "errors"

var (
	// ErrRoomNotFound means the room id does not refer to a live room. The
	// room is already gone; callers should not retry.
	ErrRoomNotFound = errors.New("room not found")
	// ErrForbidden means the requester is not authorized for the operation,
	// e.g. deleting a room they do not own.
	ErrForbidden = errors.New("operation not permitted")
	// ErrAlreadyInAnotherRoom means the user must leave their current room
	// before joining a different one. Callers redirect the user rather than
	// auto-leaving.
	ErrAlreadyInAnotherRoom = errors.New("already in another room")
	// ErrNotMember means the user does not currently occupy the target
	// room. A client seeing this has stale state and should return to the
	// lobby or re-join.
	ErrNotMember = errors.New("not a member of this room")

	ErrEmptyText   = errors.New("message text is empty")
	ErrTextTooLong = errors.New("message text exceeds maximum length")
	ErrInvalidName = errors.New("room name is empty")
	ErrNameTooLong = errors.New("room name exceeds maximum length")
)
