package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tandem/internal/model"
	"tandem/internal/state"
)

var testStart = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func entry(userID, level string, offset time.Duration) *model.QueueEntry {
	return &model.QueueEntry{
		UserID:   userID,
		Level:    level,
		JoinedAt: testStart.Add(offset),
	}
}

type sessionFixture struct {
	queue    *fakeQueueRepo
	records  *fakeSessionRepo
	tx       *fakeTxRunner
	rooms    *fakeRoomProvider
	usage    *fakeUsageGuard
	index    *state.SessionIndex
	notifier *fakeNotifier
	svc      *SessionService
}

func newSessionFixture() *sessionFixture {
	f := &sessionFixture{
		queue:    &fakeQueueRepo{},
		records:  newFakeSessionRepo(),
		tx:       &fakeTxRunner{},
		rooms:    &fakeRoomProvider{},
		usage:    &fakeUsageGuard{allow: -1},
		index:    state.NewSessionIndex(),
		notifier: &fakeNotifier{},
	}
	f.svc = NewSessionService(f.tx, f.queue, f.records, f.rooms, f.usage, f.index,
		30*time.Minute, 5*time.Minute)
	f.svc.nowFunc = func() time.Time { return testStart }
	// Keep timers inert so a test never races a session's natural end.
	f.svc.afterFunc = func(d time.Duration, fn func()) *time.Timer {
		return time.AfterFunc(time.Hour, func() {})
	}
	f.svc.SetNotifier(f.notifier)
	return f
}

func (f *sessionFixture) seedQueue(t *testing.T, entries ...*model.QueueEntry) {
	t.Helper()
	for _, e := range entries {
		require.NoError(t, f.queue.Insert(context.Background(), e))
	}
}

func TestCreateSessionsPersistsThenProvisions(t *testing.T) {
	t.Parallel()

	f := newSessionFixture()
	a, b := entry("alice", "b1", 0), entry("bob", "b1", time.Minute)
	f.seedQueue(t, a, b)

	sess, err := f.svc.CreateSessions(context.Background(), []Pair{{A: a, B: b}})
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Len(t, sess.Rooms, 1)

	room := sess.Rooms[0]
	assert.Equal(t, "alice", room.User1ID)
	assert.Equal(t, "bob", room.User2ID)
	assert.Equal(t, "https://rooms.test/"+room.Name, room.URL)
	assert.Equal(t, testStart.Add(30*time.Minute), room.ExpiresAt)

	// Durable state committed and queue rows gone.
	rec, err := f.records.GetByRoomName(context.Background(), room.Name)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.RoomActive, rec.Status)
	assert.Equal(t, room.URL, rec.RoomURL)
	assert.Empty(t, f.queue.users())

	// In-memory projection updated last.
	got, ok := f.index.ForUser("alice")
	require.True(t, ok)
	assert.Equal(t, sess.ID, got.ID)

	assert.ElementsMatch(t, []string{"alice", "bob"}, f.notifier.byType(MsgMatched))
}

func TestCreateSessionsTransactionFailureLeavesQueueUntouched(t *testing.T) {
	t.Parallel()

	f := newSessionFixture()
	f.tx.err = errors.New("store unavailable")
	a, b := entry("alice", "b1", 0), entry("bob", "b1", time.Minute)
	f.seedQueue(t, a, b)

	sess, err := f.svc.CreateSessions(context.Background(), []Pair{{A: a, B: b}})
	require.Error(t, err)
	assert.Nil(t, sess)

	// No external call, no in-memory state, users still queued.
	assert.Empty(t, f.rooms.createdRooms())
	assert.Empty(t, f.records.all())
	assert.Equal(t, 0, f.index.Len())
	assert.ElementsMatch(t, []string{"alice", "bob"}, f.queue.users())

	// The room reservation claimed in phase 1 was handed back.
	assert.Equal(t, 1, f.usage.released)
}

func TestCreateSessionsProvisioningFailureDegrades(t *testing.T) {
	t.Parallel()

	f := newSessionFixture()
	f.rooms.createErr = errors.New("provider down")
	a, b := entry("alice", "b1", 0), entry("bob", "b1", time.Minute)
	f.seedQueue(t, a, b)

	sess, err := f.svc.CreateSessions(context.Background(), []Pair{{A: a, B: b}})
	require.NoError(t, err)
	require.NotNil(t, sess)

	// Session record persisted and active, queue rows gone, no working room.
	rec, err := f.records.GetByRoomName(context.Background(), sess.Rooms[0].Name)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.RoomActive, rec.Status)
	assert.Empty(t, rec.RoomURL)
	assert.Empty(t, f.queue.users())
	assert.Empty(t, sess.Rooms[0].URL)

	// The degraded session is still indexed; the sweeps repair it later.
	_, ok := f.index.ForUser("alice")
	assert.True(t, ok)
}

func TestCreateSessionsQuotaDeniedDropsPairOnly(t *testing.T) {
	t.Parallel()

	f := newSessionFixture()
	f.usage.allow = 1
	a, b := entry("alice", "b1", 0), entry("bob", "b1", time.Minute)
	c, d := entry("carol", "c1", 0), entry("dave", "c1", time.Minute)
	f.seedQueue(t, a, b, c, d)

	sess, err := f.svc.CreateSessions(context.Background(), []Pair{{A: a, B: b}, {A: c, B: d}})
	require.NoError(t, err)
	require.NotNil(t, sess)

	// The admitted sibling pair got its room.
	require.Len(t, sess.Rooms, 1)
	assert.Equal(t, "alice", sess.Rooms[0].User1ID)

	// The denied pair lost its queue rows too: they cannot be granted a room.
	assert.Empty(t, f.queue.users())
	_, ok := f.index.ForUser("carol")
	assert.False(t, ok)
}

func TestEndSessionRecordsMinutesAndClearsState(t *testing.T) {
	t.Parallel()

	f := newSessionFixture()
	a, b := entry("alice", "b1", 0), entry("bob", "b1", time.Minute)
	f.seedQueue(t, a, b)

	sess, err := f.svc.CreateSessions(context.Background(), []Pair{{A: a, B: b}})
	require.NoError(t, err)

	f.svc.nowFunc = func() time.Time { return testStart.Add(30 * time.Minute) }
	require.NoError(t, f.svc.EndSession(context.Background(), sess.ID))

	rec, err := f.records.GetByRoomName(context.Background(), sess.Rooms[0].Name)
	require.NoError(t, err)
	assert.Equal(t, model.RoomEnded, rec.Status)
	require.NotNil(t, rec.EndedAt)

	assert.Equal(t, 0, f.index.Len())
	_, ok := f.index.ForUser("alice")
	assert.False(t, ok)

	assert.Equal(t, 30, f.usage.minutes)
	assert.ElementsMatch(t, []string{"alice", "bob"}, f.notifier.byType(MsgSessionEnded))

	// A second end is a no-op.
	require.NoError(t, f.svc.EndSession(context.Background(), sess.ID))
	assert.Equal(t, 30, f.usage.minutes)
}

func TestEndSessionSparesUsersOfRoomsEndedEarlier(t *testing.T) {
	t.Parallel()

	f := newSessionFixture()
	requeuer := &fakeRequeuer{}
	f.svc.SetRequeuer(requeuer)

	a, b := entry("alice", "b1", 0), entry("bob", "b1", time.Minute)
	c, d := entry("carol", "c1", 0), entry("dave", "c1", time.Minute)
	f.seedQueue(t, a, b, c, d)

	sess, err := f.svc.CreateSessions(context.Background(), []Pair{{A: a, B: b}, {A: c, B: d}})
	require.NoError(t, err)
	require.Len(t, sess.Rooms, 2)

	// Bob leaves early; alice re-enters the queue with a fresh entry.
	require.NoError(t, f.svc.LeaveSession(context.Background(), "bob", true))
	f.seedQueue(t, entry("alice", "b1", 5*time.Minute))

	require.NoError(t, f.svc.EndSession(context.Background(), sess.ID))

	// Only the still-active room's users are cleared; alice's fresh entry
	// survives the timed end of her former session.
	assert.Equal(t, []string{"alice"}, f.queue.users())
	assert.ElementsMatch(t, []string{"carol", "dave"}, f.notifier.byType(MsgSessionEnded))
}

func TestLeaveSessionRequeuesPartner(t *testing.T) {
	t.Parallel()

	f := newSessionFixture()
	requeuer := &fakeRequeuer{}
	f.svc.SetRequeuer(requeuer)

	a := entry("alice", "b1", 0)
	b := entry("bob", "b1", time.Minute)
	b.Topic = "travel"
	f.seedQueue(t, a, b)

	sess, err := f.svc.CreateSessions(context.Background(), []Pair{{A: a, B: b}})
	require.NoError(t, err)
	roomName := sess.Rooms[0].Name

	f.svc.nowFunc = func() time.Time { return testStart.Add(10 * time.Minute) }
	require.NoError(t, f.svc.LeaveSession(context.Background(), "bob", true))

	// Room ended everywhere, external room deleted, both mappings dropped.
	rec, err := f.records.GetByRoomName(context.Background(), roomName)
	require.NoError(t, err)
	assert.Equal(t, model.RoomEnded, rec.Status)
	assert.Equal(t, []string{roomName}, f.rooms.deleted)
	_, ok := f.index.ForUser("alice")
	assert.False(t, ok)
	_, ok = f.index.ForUser("bob")
	assert.False(t, ok)
	assert.Equal(t, 0, f.index.Len())

	// Partner re-entered through the normal join path with her old criteria.
	require.Len(t, requeuer.entries, 1)
	assert.Equal(t, "alice", requeuer.entries[0].UserID)
	assert.Equal(t, "b1", requeuer.entries[0].Level)

	assert.Equal(t, []string{"alice"}, f.notifier.byType(MsgPartnerLeft))
	assert.Equal(t, 10, f.usage.minutes)

	// Leaving again reports no session.
	err = f.svc.LeaveSession(context.Background(), "bob", true)
	assert.ErrorIs(t, err, ErrNotInSession)
}

func TestLeaveSessionWithoutRequeue(t *testing.T) {
	t.Parallel()

	f := newSessionFixture()
	requeuer := &fakeRequeuer{}
	f.svc.SetRequeuer(requeuer)

	a, b := entry("alice", "b1", 0), entry("bob", "b1", time.Minute)
	f.seedQueue(t, a, b)
	_, err := f.svc.CreateSessions(context.Background(), []Pair{{A: a, B: b}})
	require.NoError(t, err)

	require.NoError(t, f.svc.LeaveSession(context.Background(), "alice", false))
	assert.Empty(t, requeuer.entries)
	assert.Equal(t, []string{"bob"}, f.notifier.byType(MsgPartnerLeft))
}
