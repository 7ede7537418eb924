package chat

import (
	"sync"
	"time"
)

// room is the registry's record of one live chat room.
//
// occupants is guarded by Service.mu together with the Service.members map:
// the two are one fact viewed from both sides and are only ever mutated in
// the same critical section.
//
// mu guards clock and deleted, and serializes the room's store operations:
// stamping a message and appending it, taking a poll cursor and reading, and
// the delete teardown each happen in a single mu critical section, so a
// cursor can never be issued between a message's stamp and its append, and
// no append or read can interleave with the teardown. Lock order is
// Service.mu before mu; mu is never held while acquiring Service.mu.
type room struct {
	id         int
	externalId string
	name       string
	ownerId    int
	occupants  map[int]struct{}

	mu sync.Mutex
	// clock is the room's timestamp high-water mark: the latest creation
	// timestamp assigned to a message or handed out as a poll cursor.
	// Message timestamps are bumped strictly past it, so a message can
	// never be stamped at or before a cursor a poller already holds.
	clock time.Time
	// deleted marks a torn-down room so an operation that resolved the
	// room before the teardown fails instead of touching the store.
	deleted bool
}

// pgStampResolution is the granularity of assigned timestamps; Postgres
// stores timestamps with microsecond precision, so finer increments would
// not survive a round trip.
const pgStampResolution = time.Microsecond

// nextStamp assigns a creation timestamp for a new message. Timestamps are
// strictly increasing within the room even if the wall clock stalls or
// steps backwards. Callers hold mu.
func (r *room) nextStamp() time.Time {
	ts := time.Now().UTC().Truncate(pgStampResolution)
	if !ts.After(r.clock) {
		ts = r.clock.Add(pgStampResolution)
	}
	r.clock = ts

	return ts
}

// cursorStamp returns the poll-time cursor for this room: the current wall
// clock, clamped so it never runs behind a timestamp the room has already
// assigned. The clamp keeps a clock-skewed message from being re-delivered
// on every poll until the wall clock catches up. Callers hold mu.
func (r *room) cursorStamp() time.Time {
	now := time.Now().UTC().Truncate(pgStampResolution)
	if now.After(r.clock) {
		r.clock = now
	}

	return r.clock
}
