package model

import "time"

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

type RoomStatus string

const (
	RoomActive RoomStatus = "active"
	RoomEnded  RoomStatus = "ended"
)

// Room is one provisioned two-party call within a session. In-memory
// representation; the durable mirror is SessionRecord.
type Room struct {
	Name      string     `json:"name"`
	URL       string     `json:"url,omitempty"` // empty for a degraded (roomless) session
	User1ID   string     `json:"user1Id"`
	User2ID   string     `json:"user2Id"`
	Level     string     `json:"level"`
	Topic     string     `json:"topic,omitempty"`
	Language  string     `json:"language,omitempty"`
	StartedAt time.Time  `json:"startedAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	Status    RoomStatus `json:"status"`
}

// Partner returns the other participant of the room, or "" if userID is not
// in the room.
func (r *Room) Partner(userID string) string {
	switch userID {
	case r.User1ID:
		return r.User2ID
	case r.User2ID:
		return r.User1ID
	}
	return ""
}

// Session aggregates the rooms created by one matching pass. An immediate
// match produces exactly one room; a batch pass may produce several. Lives in
// the in-process index only; durable truth is the per-room SessionRecord rows.
type Session struct {
	ID        string        `json:"id"`
	Rooms     []*Room       `json:"rooms"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Status    SessionStatus `json:"status"`
}

// RoomFor returns the room containing userID, if any.
func (s *Session) RoomFor(userID string) *Room {
	for _, r := range s.Rooms {
		if r.User1ID == userID || r.User2ID == userID {
			return r
		}
	}
	return nil
}

// SessionRecord is the durable mirror of one room, one row per room.
type SessionRecord struct {
	RoomName  string     `json:"roomName" bson:"roomName"`
	SessionID string     `json:"sessionId" bson:"sessionId"`
	RoomURL   string     `json:"roomUrl,omitempty" bson:"roomUrl,omitempty"`
	User1ID   string     `json:"user1Id" bson:"user1Id"`
	User2ID   string     `json:"user2Id" bson:"user2Id"`
	Level     string     `json:"level" bson:"level"`
	Topic     string     `json:"topic,omitempty" bson:"topic,omitempty"`
	Language  string     `json:"language,omitempty" bson:"language,omitempty"`
	CreatedAt time.Time  `json:"createdAt" bson:"createdAt"`
	ExpiresAt time.Time  `json:"expiresAt" bson:"expiresAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty" bson:"endedAt,omitempty"`
	Status    RoomStatus `json:"status" bson:"status"`
}
