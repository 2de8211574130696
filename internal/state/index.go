package state

import (
	"sync"
	"time"

	"tandem/internal/model"
)

// SessionIndex is the in-process projection of durable session state. It is
// written only after the durable store has committed, is safe to lose on a
// crash, and is never the source of truth. All mutation happens inside its
// lock; callers treat returned sessions as read-only.
type SessionIndex struct {
	mu           sync.RWMutex
	sessions     map[string]*model.Session // sessionID -> session
	userSessions map[string]string         // userID -> sessionID
	sessionRooms map[string]string         // roomName -> sessionID
	timers       map[string]*time.Timer    // sessionID -> end timer
}

func NewSessionIndex() *SessionIndex {
	return &SessionIndex{
		sessions:     make(map[string]*model.Session),
		userSessions: make(map[string]string),
		sessionRooms: make(map[string]string),
		timers:       make(map[string]*time.Timer),
	}
}

// Put registers a session with all its rooms and participants.
func (idx *SessionIndex) Put(sess *model.Session) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.sessions[sess.ID] = sess
	for _, room := range sess.Rooms {
		idx.sessionRooms[room.Name] = sess.ID
		idx.userSessions[room.User1ID] = sess.ID
		idx.userSessions[room.User2ID] = sess.ID
	}
}

func (idx *SessionIndex) Session(sessionID string) (*model.Session, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	sess, ok := idx.sessions[sessionID]
	return sess, ok
}

// ForUser returns the session the user is currently mapped to, if any.
func (idx *SessionIndex) ForUser(userID string) (*model.Session, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	id, ok := idx.userSessions[userID]
	if !ok {
		return nil, false
	}
	sess, ok := idx.sessions[id]
	return sess, ok
}

// ByRoomName returns the session owning the named room, if indexed.
func (idx *SessionIndex) ByRoomName(roomName string) (*model.Session, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	id, ok := idx.sessionRooms[roomName]
	if !ok {
		return nil, false
	}
	sess, ok := idx.sessions[id]
	return sess, ok
}

// DropUser removes a stale user -> session mapping.
func (idx *SessionIndex) DropUser(userID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.userSessions, userID)
}

// MarkRoomEnded transitions one room to ended and drops both participants'
// mappings atomically with it. Returns the room and the number of rooms still
// active in its session.
func (idx *SessionIndex) MarkRoomEnded(roomName string, endedAt time.Time) (*model.Room, int, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	sessID, ok := idx.sessionRooms[roomName]
	if !ok {
		return nil, 0, false
	}
	sess, ok := idx.sessions[sessID]
	if !ok {
		return nil, 0, false
	}

	var ended *model.Room
	remaining := 0
	for _, room := range sess.Rooms {
		if room.Name == roomName {
			if room.Status == model.RoomActive {
				room.Status = model.RoomEnded
				t := endedAt
				room.EndedAt = &t
			}
			ended = room
			continue
		}
		if room.Status == model.RoomActive {
			remaining++
		}
	}
	if ended == nil {
		return nil, 0, false
	}

	if idx.userSessions[ended.User1ID] == sessID {
		delete(idx.userSessions, ended.User1ID)
	}
	if idx.userSessions[ended.User2ID] == sessID {
		delete(idx.userSessions, ended.User2ID)
	}
	return ended, remaining, true
}

// Retire removes a session and everything that points at it, stopping its end
// timer. Returns the removed session.
func (idx *SessionIndex) Retire(sessionID string) (*model.Session, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	sess, ok := idx.sessions[sessionID]
	if !ok {
		return nil, false
	}
	sess.Status = model.SessionEnded
	delete(idx.sessions, sessionID)
	for _, room := range sess.Rooms {
		delete(idx.sessionRooms, room.Name)
		if idx.userSessions[room.User1ID] == sessionID {
			delete(idx.userSessions, room.User1ID)
		}
		if idx.userSessions[room.User2ID] == sessionID {
			delete(idx.userSessions, room.User2ID)
		}
	}
	if timer, ok := idx.timers[sessionID]; ok {
		timer.Stop()
		delete(idx.timers, sessionID)
	}
	return sess, true
}

// SetEndTimer attaches the one-shot end timer for a session, replacing and
// stopping any previous one.
func (idx *SessionIndex) SetEndTimer(sessionID string, timer *time.Timer) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if old, ok := idx.timers[sessionID]; ok {
		old.Stop()
	}
	idx.timers[sessionID] = timer
}

// Len reports how many sessions are indexed.
func (idx *SessionIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.sessions)
}
