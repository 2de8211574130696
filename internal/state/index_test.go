package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tandem/internal/model"
)

func twoRoomSession() *model.Session {
	return &model.Session{
		ID:     "s1",
		Status: model.SessionActive,
		Rooms: []*model.Room{
			{Name: "s1-b1-0", User1ID: "alice", User2ID: "bob", Status: model.RoomActive},
			{Name: "s1-b1-1", User1ID: "carol", User2ID: "dave", Status: model.RoomActive},
		},
	}
}

func TestPutIndexesAllParticipantsAndRooms(t *testing.T) {
	t.Parallel()

	idx := NewSessionIndex()
	idx.Put(twoRoomSession())

	assert.Equal(t, 1, idx.Len())
	for _, u := range []string{"alice", "bob", "carol", "dave"} {
		sess, ok := idx.ForUser(u)
		require.True(t, ok, "user %s not indexed", u)
		assert.Equal(t, "s1", sess.ID)
	}
	sess, ok := idx.ByRoomName("s1-b1-1")
	require.True(t, ok)
	assert.Equal(t, "s1", sess.ID)
}

func TestMarkRoomEndedDropsOnlyThatRoomsUsers(t *testing.T) {
	t.Parallel()

	idx := NewSessionIndex()
	idx.Put(twoRoomSession())
	endedAt := time.Date(2026, 3, 2, 12, 30, 0, 0, time.UTC)

	room, remaining, ok := idx.MarkRoomEnded("s1-b1-0", endedAt)
	require.True(t, ok)
	assert.Equal(t, 1, remaining)
	assert.Equal(t, model.RoomEnded, room.Status)
	require.NotNil(t, room.EndedAt)
	assert.Equal(t, endedAt, *room.EndedAt)

	_, ok = idx.ForUser("alice")
	assert.False(t, ok)
	_, ok = idx.ForUser("bob")
	assert.False(t, ok)

	// The sibling room is untouched.
	sess, ok := idx.ForUser("carol")
	require.True(t, ok)
	assert.Equal(t, "s1", sess.ID)
	assert.Equal(t, 1, idx.Len())
}

func TestMarkRoomEndedUnknownRoom(t *testing.T) {
	t.Parallel()

	idx := NewSessionIndex()
	_, _, ok := idx.MarkRoomEnded("nope", time.Now())
	assert.False(t, ok)
}

func TestRetireRemovesEverythingAndStopsTimer(t *testing.T) {
	t.Parallel()

	idx := NewSessionIndex()
	idx.Put(twoRoomSession())

	fired := make(chan struct{})
	idx.SetEndTimer("s1", time.AfterFunc(10*time.Millisecond, func() { close(fired) }))

	sess, ok := idx.Retire("s1")
	require.True(t, ok)
	assert.Equal(t, model.SessionEnded, sess.Status)
	assert.Equal(t, 0, idx.Len())

	_, ok = idx.ForUser("alice")
	assert.False(t, ok)
	_, ok = idx.ByRoomName("s1-b1-0")
	assert.False(t, ok)

	select {
	case <-fired:
		t.Fatal("end timer fired after retire")
	case <-time.After(50 * time.Millisecond):
	}

	_, ok = idx.Retire("s1")
	assert.False(t, ok)
}

func TestSetEndTimerReplacesPrevious(t *testing.T) {
	t.Parallel()

	idx := NewSessionIndex()
	idx.Put(&model.Session{ID: "s1", Status: model.SessionActive})

	firstFired := make(chan struct{})
	idx.SetEndTimer("s1", time.AfterFunc(10*time.Millisecond, func() { close(firstFired) }))
	idx.SetEndTimer("s1", time.AfterFunc(time.Hour, func() {}))
	defer idx.Retire("s1")

	select {
	case <-firstFired:
		t.Fatal("replaced timer fired")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropUserOnlyRemovesMapping(t *testing.T) {
	t.Parallel()

	idx := NewSessionIndex()
	idx.Put(twoRoomSession())

	idx.DropUser("alice")

	_, ok := idx.ForUser("alice")
	assert.False(t, ok)
	_, ok = idx.ForUser("bob")
	assert.True(t, ok)
	_, ok = idx.Session("s1")
	assert.True(t, ok)
}
