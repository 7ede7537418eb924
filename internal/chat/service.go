package chat

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/pollchat/pollchat/internal/database"
	"github.com/pollchat/pollchat/internal/stats"
	"github.com/pollchat/pollchat/internal/types"
)

const (
	// MaxMessageLen bounds message text after trimming.
	MaxMessageLen = 200
	// MaxRoomNameLen bounds room names.
	MaxRoomNameLen = 80
)

// Metric names registered with the stats provider.
const (
	StatActiveRooms    = "ActiveRooms"
	StatOccupants      = "Occupants"
	StatMessagesPosted = "MessagesPosted"
	StatPolls          = "Polls"
)

// Service is the room and membership core. It owns two pieces of runtime
// state: the room registry and the user-to-room membership map. Rooms and
// messages are durable through the repository; membership and poll cursors
// are session state and do not survive a restart.
//
// mu guards rooms, byExternalId and members. A user's current room and the
// room's occupant set are mutated together under mu so neither side can
// drift from the other.
type Service struct {
	log   *log.Logger
	db    database.ChatRepository
	stats stats.StatsProvider

	mu           sync.Mutex
	rooms        map[int]*room
	byExternalId map[string]*room
	members      map[int]int
}

// NewService loads the room registry from the repository. Rooms recover
// their timestamp high-water mark from the newest stored message so restarts
// cannot reissue an already-used timestamp.
func NewService(logger *log.Logger, db database.ChatRepository, sp stats.StatsProvider) (*Service, error) {
	s := &Service{
		log:          logger,
		db:           db,
		stats:        sp,
		rooms:        make(map[int]*room),
		byExternalId: make(map[string]*room),
		members:      make(map[int]int),
	}

	for _, name := range []string{StatActiveRooms, StatOccupants, StatMessagesPosted, StatPolls} {
		sp.RegisterMetric(name)
	}

	dbRooms, err := db.ListRooms()
	if err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}

	for _, dbRoom := range dbRooms {
		clock, err := db.LatestMessageTime(dbRoom.Id)
		if err != nil {
			return nil, fmt.Errorf("load room %q: %w", dbRoom.ExternalId, err)
		}

		r := &room{
			id:         dbRoom.Id,
			externalId: dbRoom.ExternalId,
			name:       dbRoom.Name,
			ownerId:    dbRoom.OwnerId,
			occupants:  make(map[int]struct{}),
			clock:      clock,
		}
		s.rooms[r.id] = r
		s.byExternalId[r.externalId] = r
		sp.Incr(StatActiveRooms)
	}

	return s, nil
}

// CreateRoom allocates a new empty room owned by ownerId. The external id is
// supplied by the caller (the API layer mints short ids).
func (s *Service) CreateRoom(ownerId int, name, externalId string) (types.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Room{}, ErrInvalidName
	}
	if len(name) > MaxRoomNameLen {
		return types.Room{}, ErrNameTooLong
	}

	dbRoom, err := s.db.CreateRoom(database.CreateRoomParams{
		Name:       name,
		ExternalId: externalId,
		OwnerId:    ownerId,
	})
	if err != nil {
		return types.Room{}, fmt.Errorf("create room: %w", err)
	}

	r := &room{
		id:         dbRoom.Id,
		externalId: dbRoom.ExternalId,
		name:       dbRoom.Name,
		ownerId:    dbRoom.OwnerId,
		occupants:  make(map[int]struct{}),
	}

	s.mu.Lock()
	s.rooms[r.id] = r
	s.byExternalId[r.externalId] = r
	s.mu.Unlock()

	s.stats.Incr(StatActiveRooms)
	s.log.Printf("user %d created room %q (%s)", ownerId, r.name, r.externalId)

	return types.Room{
		Id:         dbRoom.Id,
		ExternalId: dbRoom.ExternalId,
		Name:       dbRoom.Name,
		OwnerId:    dbRoom.OwnerId,
		CreatedAt:  dbRoom.CreatedAt,
	}, nil
}

// DeleteRoom tears a room down: all of its messages are removed in one
// repository transaction, every occupant is evicted, and the room leaves the
// registry. The registry lock is held for the whole teardown, so concurrent
// joins and polls observe either the intact room or no room at all.
func (s *Service) DeleteRoom(requesterId, roomId int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomId]
	if !ok {
		return ErrRoomNotFound
	}
	if r.ownerId != requesterId {
		return ErrForbidden
	}

	// The room lock is held across the repository cascade: an in-flight
	// post or poll that already resolved this room either finishes before
	// the teardown or finds the deleted mark and fails cleanly.
	r.mu.Lock()
	err := s.db.DeleteRoom(roomId)
	if err == nil {
		r.deleted = true
	}
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}

	for userId := range r.occupants {
		delete(s.members, userId)
		s.stats.Decr(StatOccupants)
	}
	r.occupants = make(map[int]struct{})

	delete(s.rooms, r.id)
	delete(s.byExternalId, r.externalId)
	s.stats.Decr(StatActiveRooms)

	s.log.Printf("user %d deleted room %q (%s)", requesterId, r.name, r.externalId)
	return nil
}

// ListRooms returns a point-in-time snapshot of the registry for the lobby.
func (s *Service) ListRooms() []types.RoomSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries := make([]types.RoomSummary, 0, len(s.rooms))
	for _, r := range s.rooms {
		summaries = append(summaries, types.RoomSummary{
			ExternalId: r.externalId,
			Name:       r.name,
			OwnerId:    r.ownerId,
			Occupants:  len(r.occupants),
		})
	}

	return summaries
}

// Room resolves an external room id to its registry record.
func (s *Service) Room(externalId string) (types.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byExternalId[externalId]
	if !ok {
		return types.Room{}, ErrRoomNotFound
	}

	return types.Room{
		Id:         r.id,
		ExternalId: r.externalId,
		Name:       r.name,
		OwnerId:    r.ownerId,
	}, nil
}

// RoomById resolves an internal room id to its registry record.
func (s *Service) RoomById(roomId int) (types.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomId]
	if !ok {
		return types.Room{}, ErrRoomNotFound
	}

	return types.Room{
		Id:         r.id,
		ExternalId: r.externalId,
		Name:       r.name,
		OwnerId:    r.ownerId,
	}, nil
}

// Join puts the user in the room. A user occupies at most one room: joining
// a second room fails with ErrAlreadyInAnotherRoom, re-joining the current
// room succeeds without effect. A successful join starts the session with an
// unset cursor, so the user's next poll returns the room's full history.
func (s *Service) Join(userId, roomId int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomId]
	if !ok {
		return ErrRoomNotFound
	}

	if cur, ok := s.members[userId]; ok {
		if cur == roomId {
			// already here
			return nil
		}
		return ErrAlreadyInAnotherRoom
	}

	s.members[userId] = roomId
	r.occupants[userId] = struct{}{}
	s.stats.Incr(StatOccupants)

	s.log.Printf("user %d joined room %q", userId, r.externalId)
	return nil
}

// Leave removes the user from whatever room they occupy. It is a no-op for a
// user who is not in a room.
func (s *Service) Leave(userId int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	roomId, ok := s.members[userId]
	if !ok {
		return nil
	}

	delete(s.members, userId)
	if r, ok := s.rooms[roomId]; ok {
		delete(r.occupants, userId)
		s.log.Printf("user %d left room %q", userId, r.externalId)
	}
	s.stats.Decr(StatOccupants)

	return nil
}

// CurrentRoom reports the room the user occupies, if any.
func (s *Service) CurrentRoom(userId int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roomId, ok := s.members[userId]
	return roomId, ok
}

// PostMessage appends a message to the room the author currently occupies.
// The creation timestamp is strictly greater than every timestamp the room
// has already assigned, so visibility order equals creation order even when
// the wall clock misbehaves.
func (s *Service) PostMessage(authorId, roomId int, text string) (types.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.Message{}, ErrEmptyText
	}
	if len(text) > MaxMessageLen {
		return types.Message{}, ErrTextTooLong
	}

	// Membership is checked before room existence: an author who was
	// evicted by a room deletion sees ErrNotMember, which tells the client
	// to go back to the lobby.
	s.mu.Lock()
	if cur, ok := s.members[authorId]; !ok || cur != roomId {
		s.mu.Unlock()
		return types.Message{}, ErrNotMember
	}
	r, ok := s.rooms[roomId]
	if !ok {
		s.mu.Unlock()
		return types.Message{}, ErrRoomNotFound
	}
	s.mu.Unlock()

	// Stamp and append under the room lock: a concurrent poll cannot take
	// a cursor covering this stamp and read the store before the append
	// commits, so the message is visible to any cursor at or past it.
	r.mu.Lock()
	if r.deleted {
		// Torn down after the membership check; the author was evicted.
		r.mu.Unlock()
		return types.Message{}, ErrNotMember
	}
	msg, err := s.db.CreateMessage(database.CreateMessageParams{
		RoomId:    roomId,
		UserId:    authorId,
		Text:      text,
		CreatedAt: r.nextStamp(),
	})
	r.mu.Unlock()
	if err != nil {
		return types.Message{}, fmt.Errorf("create message: %w", err)
	}

	s.stats.Incr(StatMessagesPosted)

	return types.Message{
		Id:        msg.Id,
		RoomId:    msg.RoomId,
		UserId:    msg.UserId,
		Text:      msg.Text,
		CreatedAt: msg.CreatedAt,
	}, nil
}

// Poll returns the room's messages with creation timestamps strictly after
// the caller's cursor, oldest first, along with the next cursor. A zero
// cursor means the session has seen nothing and receives the full history.
//
// The next cursor is the poll-time clock reading, not the timestamp of the
// last returned message: a message stamped exactly at a handed-out cursor
// value would otherwise be delivered twice. A message posted concurrently
// with a poll may be reported by both that poll and the next one; duplicate
// delivery is tolerated, dropped messages are not.
func (s *Service) Poll(userId, roomId int, cursor time.Time) ([]types.MessageView, time.Time, error) {
	// Membership first: a poller who has left or been evicted gets a hard
	// ErrNotMember rather than an empty result, so the client can detect
	// eviction and redirect.
	s.mu.Lock()
	if cur, ok := s.members[userId]; !ok || cur != roomId {
		s.mu.Unlock()
		return nil, time.Time{}, ErrNotMember
	}
	r, ok := s.rooms[roomId]
	if !ok {
		s.mu.Unlock()
		return nil, time.Time{}, ErrRoomNotFound
	}
	s.mu.Unlock()

	// Cursor and read share the room lock with the stamp-and-append in
	// PostMessage: every message stamped after this cursor is issued also
	// commits after this read, so it is covered by the next poll.
	r.mu.Lock()
	if r.deleted {
		// Torn down after the membership check; the poller was evicted.
		r.mu.Unlock()
		return nil, time.Time{}, ErrNotMember
	}
	next := r.cursorStamp()
	msgs, err := s.db.MessagesSince(roomId, cursor)
	r.mu.Unlock()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("fetch messages: %w", err)
	}

	views := make([]types.MessageView, len(msgs))
	for i, msg := range msgs {
		username := msg.Username
		if msg.UserId == userId {
			username = "Me"
		}
		views[i] = types.MessageView{
			Text:      msg.Text,
			Username:  username,
			CreatedAt: msg.CreatedAt,
		}
	}

	s.stats.Incr(StatPolls)

	return views, next, nil
}
