package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pollchat/pollchat/internal/chat"
	"github.com/pollchat/pollchat/internal/config"
	"github.com/pollchat/pollchat/internal/database"
	"github.com/pollchat/pollchat/internal/stats"
	"github.com/pollchat/pollchat/internal/testutil"
	"github.com/pollchat/pollchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) (*ChatApp, *chat.Service, *database.MemChatRepository) {
	t.Helper()

	logger := testutil.TestLogger(t)
	repo := database.NewMemChatRepository()

	sp := &stats.MockStatsUpdater{}
	sp.On("RegisterMetric", mock.Anything).Maybe()
	sp.On("Incr", mock.Anything).Maybe()
	sp.On("Decr", mock.Anything).Maybe()

	svc, err := chat.NewService(logger, repo, sp)
	require.NoError(t, err, "expected chat service to initialize")

	app := NewChatApp(http.NewServeMux(), logger, svc, repo, sp, &config.Config{
		ServerAddr: "localhost:8080",
		SigningKey: []byte("test-signing-key"),
	})

	return app, svc, repo
}

func mustAccountParams(username, email, pwdHash string) database.CreateAccountParams {
	return database.CreateAccountParams{
		Username:     username,
		EmailAddress: email,
		PasswordHash: pwdHash,
	}
}

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func authedRequest(method, target string, body []byte, userId int) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	return r.WithContext(WithUserId(context.Background(), userId))
}

func TestHealthCheck(t *testing.T) {
	tcases := []struct {
		name         string
		pingErr      error
		expectedCode int
	}{
		{
			name:         "healthy",
			pingErr:      nil,
			expectedCode: http.StatusOK,
		},
		{
			name:         "database unreachable",
			pingErr:      errors.New("connection refused"),
			expectedCode: http.StatusInternalServerError,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockChatRepository{}
			db.On("Ping").Return(tc.pingErr)

			app := &ChatApp{log: testutil.TestLogger(t), db: db}

			rr := httptest.NewRecorder()
			app.healthCheck(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tc.expectedCode, rr.Code, "expected status code to match")
			db.AssertExpectations(t)
		})
	}
}

func TestCreateRoomHandler(t *testing.T) {
	app, _, repo := newTestApp(t)

	user, err := repo.CreateAccount(mustAccountParams("alice", "alice@example.com", "hash"))
	require.NoError(t, err)

	t.Run("creates a room", func(t *testing.T) {
		body, err := json.Marshal(CreateRoomRequest{Name: "General"})
		require.NoError(t, err)

		rr := httptest.NewRecorder()
		app.createRoom(rr, authedRequest(http.MethodPost, "/api/rooms", body, user.Id))

		assert.Equal(t, http.StatusCreated, rr.Code)

		var room types.Room
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&room))
		assert.Equal(t, "General", room.Name, "expected room name in response")
		assert.NotEmpty(t, room.ExternalId, "expected room to be assigned an external id")
	})

	t.Run("rejects an empty name", func(t *testing.T) {
		body, err := json.Marshal(CreateRoomRequest{Name: "   "})
		require.NoError(t, err)

		rr := httptest.NewRecorder()
		app.createRoom(rr, authedRequest(http.MethodPost, "/api/rooms", body, user.Id))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("rejects an over-long name", func(t *testing.T) {
		body, err := json.Marshal(CreateRoomRequest{Name: strings.Repeat("x", chat.MaxRoomNameLen+1)})
		require.NoError(t, err)

		rr := httptest.NewRecorder()
		app.createRoom(rr, authedRequest(http.MethodPost, "/api/rooms", body, user.Id))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("requires authentication", func(t *testing.T) {
		body, err := json.Marshal(CreateRoomRequest{Name: "General"})
		require.NoError(t, err)

		rr := httptest.NewRecorder()
		app.createRoom(rr, httptest.NewRequest(http.MethodPost, "/api/rooms", bytes.NewReader(body)))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestListRoomsHandler(t *testing.T) {
	app, svc, repo := newTestApp(t)

	user, err := repo.CreateAccount(mustAccountParams("alice", "alice@example.com", "hash"))
	require.NoError(t, err)

	_, err = svc.CreateRoom(user.Id, "General", "general")
	require.NoError(t, err)
	_, err = svc.CreateRoom(user.Id, "Random", "random")
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	app.listRooms(rr, authedRequest(http.MethodGet, "/api/rooms", nil, user.Id))

	assert.Equal(t, http.StatusOK, rr.Code)

	var rooms []types.RoomSummary
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&rooms))
	assert.Len(t, rooms, 2, "expected both rooms to be listed")
}

func TestJoinRoomHandler(t *testing.T) {
	app, svc, repo := newTestApp(t)

	user, err := repo.CreateAccount(mustAccountParams("alice", "alice@example.com", "hash"))
	require.NoError(t, err)
	room, err := svc.CreateRoom(user.Id, "General", "general")
	require.NoError(t, err)
	other, err := svc.CreateRoom(user.Id, "Random", "random")
	require.NoError(t, err)

	t.Run("joins a room", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.joinRoom(rr, authedRequest(http.MethodPost, "/api/rooms/join?id="+room.ExternalId, nil, user.Id))

		assert.Equal(t, http.StatusOK, rr.Code)

		var joined types.Room
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&joined))
		assert.Equal(t, room.ExternalId, joined.ExternalId, "expected joined room in response")
	})

	t.Run("joining a second room conflicts", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.joinRoom(rr, authedRequest(http.MethodPost, "/api/rooms/join?id="+other.ExternalId, nil, user.Id))

		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("unknown room", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.joinRoom(rr, authedRequest(http.MethodPost, "/api/rooms/join?id=missing", nil, user.Id))

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("missing id parameter", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.joinRoom(rr, authedRequest(http.MethodPost, "/api/rooms/join", nil, user.Id))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestLeaveAndCurrentRoomHandlers(t *testing.T) {
	app, svc, repo := newTestApp(t)

	user, err := repo.CreateAccount(mustAccountParams("alice", "alice@example.com", "hash"))
	require.NoError(t, err)
	room, err := svc.CreateRoom(user.Id, "General", "general")
	require.NoError(t, err)
	require.NoError(t, svc.Join(user.Id, room.Id))

	t.Run("current room reports the joined room", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.currentRoom(rr, authedRequest(http.MethodGet, "/api/rooms/current", nil, user.Id))

		assert.Equal(t, http.StatusOK, rr.Code)

		var cur types.Room
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&cur))
		assert.Equal(t, room.ExternalId, cur.ExternalId)
	})

	t.Run("leave clears membership", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.leaveRoom(rr, authedRequest(http.MethodPost, "/api/rooms/leave", nil, user.Id))
		assert.Equal(t, http.StatusNoContent, rr.Code)

		rr = httptest.NewRecorder()
		app.currentRoom(rr, authedRequest(http.MethodGet, "/api/rooms/current", nil, user.Id))
		assert.Equal(t, http.StatusNoContent, rr.Code, "expected no content when not in a room")
	})

	t.Run("leave is idempotent", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.leaveRoom(rr, authedRequest(http.MethodPost, "/api/rooms/leave", nil, user.Id))
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})
}

func TestDeleteRoomHandler(t *testing.T) {
	app, svc, repo := newTestApp(t)

	owner, err := repo.CreateAccount(mustAccountParams("alice", "alice@example.com", "hash"))
	require.NoError(t, err)
	intruder, err := repo.CreateAccount(mustAccountParams("bob", "bob@example.com", "hash"))
	require.NoError(t, err)

	room, err := svc.CreateRoom(owner.Id, "General", "general")
	require.NoError(t, err)

	t.Run("non-owner is forbidden", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.deleteRoom(rr, authedRequest(http.MethodDelete, "/api/rooms?id="+room.ExternalId, nil, intruder.Id))

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("owner deletes the room", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.deleteRoom(rr, authedRequest(http.MethodDelete, "/api/rooms?id="+room.ExternalId, nil, owner.Id))

		assert.Equal(t, http.StatusNoContent, rr.Code)

		rr = httptest.NewRecorder()
		app.deleteRoom(rr, authedRequest(http.MethodDelete, "/api/rooms?id="+room.ExternalId, nil, owner.Id))
		assert.Equal(t, http.StatusNotFound, rr.Code, "expected second delete to 404")
	})

	t.Run("missing id parameter", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.deleteRoom(rr, authedRequest(http.MethodDelete, "/api/rooms", nil, owner.Id))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestPostMessageHandler(t *testing.T) {
	app, svc, repo := newTestApp(t)

	member, err := repo.CreateAccount(mustAccountParams("alice", "alice@example.com", "hash"))
	require.NoError(t, err)
	outsider, err := repo.CreateAccount(mustAccountParams("bob", "bob@example.com", "hash"))
	require.NoError(t, err)

	room, err := svc.CreateRoom(member.Id, "General", "general")
	require.NoError(t, err)
	require.NoError(t, svc.Join(member.Id, room.Id))

	postBody := func(t *testing.T, roomId, text string) []byte {
		t.Helper()
		b, err := json.Marshal(PostMessageRequest{RoomId: roomId, Text: text})
		require.NoError(t, err)
		return b
	}

	tcases := []struct {
		name         string
		userId       int
		body         []byte
		expectedCode int
	}{
		{
			name:         "member posts a message",
			userId:       member.Id,
			body:         postBody(t, room.ExternalId, "hello"),
			expectedCode: http.StatusCreated,
		},
		{
			name:         "non-member is rejected",
			userId:       outsider.Id,
			body:         postBody(t, room.ExternalId, "hello"),
			expectedCode: http.StatusForbidden,
		},
		{
			name:         "blank text is rejected",
			userId:       member.Id,
			body:         postBody(t, room.ExternalId, "   "),
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "over-long text is rejected",
			userId:       member.Id,
			body:         postBody(t, room.ExternalId, strings.Repeat("x", chat.MaxMessageLen+1)),
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "unresolvable room reads as stale membership",
			userId:       member.Id,
			body:         postBody(t, "missing", "hello"),
			expectedCode: http.StatusForbidden,
		},
		{
			name:         "missing room id",
			userId:       member.Id,
			body:         postBody(t, "", "hello"),
			expectedCode: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			app.postMessage(rr, authedRequest(http.MethodPost, "/api/messages", tc.body, tc.userId))

			assert.Equal(t, tc.expectedCode, rr.Code, "expected status code to match")

			if tc.expectedCode == http.StatusCreated {
				var msg types.Message
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&msg))
				assert.Equal(t, "hello", msg.Text, "expected message text in response")
				assert.False(t, msg.CreatedAt.IsZero(), "expected message to be stamped")
			}
		})
	}
}

func TestGetMessagesHandler(t *testing.T) {
	app, svc, repo := newTestApp(t)

	member, err := repo.CreateAccount(mustAccountParams("alice", "alice@example.com", "hash"))
	require.NoError(t, err)
	outsider, err := repo.CreateAccount(mustAccountParams("bob", "bob@example.com", "hash"))
	require.NoError(t, err)

	room, err := svc.CreateRoom(member.Id, "General", "general")
	require.NoError(t, err)
	require.NoError(t, svc.Join(member.Id, room.Id))

	_, err = svc.PostMessage(member.Id, room.Id, "first")
	require.NoError(t, err)
	_, err = svc.PostMessage(member.Id, room.Id, "second")
	require.NoError(t, err)

	poll := func(t *testing.T, userId int, cursor string) (*httptest.ResponseRecorder, PollResponse) {
		t.Helper()
		target := "/api/messages?room_id=" + room.ExternalId
		if cursor != "" {
			target += "&cursor=" + cursor
		}
		rr := httptest.NewRecorder()
		app.getMessages(rr, authedRequest(http.MethodGet, target, nil, userId))

		var resp PollResponse
		if rr.Code == http.StatusOK {
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		}
		return rr, resp
	}

	t.Run("first poll returns full history and a cursor", func(t *testing.T) {
		rr, resp := poll(t, member.Id, "")
		assert.Equal(t, http.StatusOK, rr.Code)
		require.Len(t, resp.Messages, 2, "expected full history on first poll")
		assert.Equal(t, "first", resp.Messages[0].Text, "expected oldest message first")
		assert.Equal(t, "Me", resp.Messages[0].Username, "expected own messages annotated")
		assert.NotEmpty(t, resp.Cursor, "expected a cursor to be returned")

		_, err := time.Parse(time.RFC3339Nano, resp.Cursor)
		assert.NoError(t, err, "expected cursor to be RFC 3339")
	})

	t.Run("poll with current cursor is empty until a new message", func(t *testing.T) {
		_, first := poll(t, member.Id, "")

		rr, resp := poll(t, member.Id, first.Cursor)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, resp.Messages, "expected no messages when caught up")

		_, err := svc.PostMessage(member.Id, room.Id, "third")
		require.NoError(t, err)

		rr, resp = poll(t, member.Id, first.Cursor)
		assert.Equal(t, http.StatusOK, rr.Code)
		require.Len(t, resp.Messages, 1, "expected only the new message")
		assert.Equal(t, "third", resp.Messages[0].Text)
	})

	t.Run("non-member is rejected", func(t *testing.T) {
		rr, _ := poll(t, outsider.Id, "")
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("malformed cursor", func(t *testing.T) {
		rr, _ := poll(t, member.Id, "yesterday")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("missing room id parameter", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.getMessages(rr, authedRequest(http.MethodGet, "/api/messages", nil, member.Id))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestMessageHandlersAfterRoomDeleted(t *testing.T) {
	app, svc, repo := newTestApp(t)

	owner, err := repo.CreateAccount(mustAccountParams("alice", "alice@example.com", "hash"))
	require.NoError(t, err)
	evicted, err := repo.CreateAccount(mustAccountParams("bob", "bob@example.com", "hash"))
	require.NoError(t, err)

	room, err := svc.CreateRoom(owner.Id, "General", "general")
	require.NoError(t, err)
	require.NoError(t, svc.Join(evicted.Id, room.Id))
	require.NoError(t, svc.DeleteRoom(owner.Id, room.Id))

	// an evicted client still holding the room id gets one signal from both
	// message endpoints: it is not a member and should return to the lobby
	t.Run("poll", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.getMessages(rr, authedRequest(http.MethodGet, "/api/messages?room_id="+room.ExternalId, nil, evicted.Id))
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("post", func(t *testing.T) {
		body, err := json.Marshal(PostMessageRequest{RoomId: room.ExternalId, Text: "hello"})
		require.NoError(t, err)

		rr := httptest.NewRecorder()
		app.postMessage(rr, authedRequest(http.MethodPost, "/api/messages", body, evicted.Id))
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}
