package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/pollchat/pollchat/internal/chat"
	"github.com/pollchat/pollchat/internal/types"
)

type CreateRoomRequest struct {
	Name string `json:"name"`
}

type PostMessageRequest struct {
	RoomId string `json:"room_id"`
	Text   string `json:"text"`
}

type PollResponse struct {
	Messages []types.MessageView `json:"messages"`
	// Cursor is the watermark to present on the next poll, RFC 3339 with
	// nanoseconds.
	Cursor string `json:"cursor"`
}

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

// chatError maps a core error to its API response.
func chatError(err error) *ApiError {
	switch {
	case errors.Is(err, chat.ErrRoomNotFound):
		return NewNotFoundError()
	case errors.Is(err, chat.ErrForbidden):
		return NewForbiddenError()
	case errors.Is(err, chat.ErrAlreadyInAnotherRoom):
		return NewConflictError(chat.ErrAlreadyInAnotherRoom.Error())
	case errors.Is(err, chat.ErrNotMember):
		return NewNotMemberError()
	case errors.Is(err, chat.ErrEmptyText),
		errors.Is(err, chat.ErrTextTooLong),
		errors.Is(err, chat.ErrInvalidName),
		errors.Is(err, chat.ErrNameTooLong):
		return NewValidationError(err)
	default:
		return NewInternalServerError(err)
	}
}

func (s *ChatApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Println("health check:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *ChatApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var createRoomReq CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&createRoomReq); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.log.Println("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.chat.CreateRoom(userId, createRoomReq.Name, sid)
	if err != nil {
		errResp := chatError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, room)
}

func (s *ChatApp) deleteRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.chat.Room(externalId)
	if err != nil {
		errResp := chatError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.chat.DeleteRoom(userId, room.Id); err != nil {
		s.log.Println("delete room:", err)
		errResp := chatError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *ChatApp) listRooms(w http.ResponseWriter, _ *http.Request) {
	s.writeJson(w, http.StatusOK, s.chat.ListRooms())
}

// joinRoom puts the caller in the room. On success the client must discard
// any poll cursor it holds so its next poll fetches the full history.
func (s *ChatApp) joinRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.chat.Room(externalId)
	if err != nil {
		errResp := chatError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.chat.Join(userId, room.Id); err != nil {
		errResp := chatError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, room)
}

func (s *ChatApp) leaveRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.chat.Leave(userId); err != nil {
		errResp := chatError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *ChatApp) currentRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId, ok := s.chat.CurrentRoom(userId)
	if !ok {
		s.writeJson(w, http.StatusNoContent, nil)
		return
	}

	room, err := s.chat.RoomById(roomId)
	if err != nil {
		errResp := chatError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, room)
}

func (s *ChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("room_id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var cursor time.Time
	if cursorStr := r.URL.Query().Get("cursor"); cursorStr != "" {
		var err error
		cursor, err = time.Parse(time.RFC3339Nano, cursorStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	room, err := s.chat.Room(externalId)
	if err != nil {
		// A room that no longer resolves means the caller's membership
		// state is stale (the room may have been deleted out from under
		// it), so answer with the same signal an evicted poller gets.
		errResp := chatError(err)
		if errors.Is(err, chat.ErrRoomNotFound) {
			errResp = NewNotMemberError()
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages, next, err := s.chat.Poll(userId, room.Id, cursor)
	if err != nil {
		errResp := chatError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, PollResponse{
		Messages: messages,
		Cursor:   next.Format(time.RFC3339Nano),
	})
}

func (s *ChatApp) postMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.RoomId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.chat.Room(req.RoomId)
	if err != nil {
		// Same signal as getMessages: an unresolvable room means stale
		// membership state, not a lookup the client should retry.
		errResp := chatError(err)
		if errors.Is(err, chat.ErrRoomNotFound) {
			errResp = NewNotMemberError()
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.chat.PostMessage(userId, room.Id, req.Text)
	if err != nil {
		errResp := chatError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, msg)
}
