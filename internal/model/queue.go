package model

import "time"

// QueueEntry is a user waiting to be matched. At most one entry exists per
// user while they are waiting; the row is deleted on match, explicit leave,
// session end, or window-close cleanup.
type QueueEntry struct {
	UserID   string    `json:"userId" bson:"userId"`
	Level    string    `json:"level" bson:"level"`
	Topic    string    `json:"topic,omitempty" bson:"topic,omitempty"`
	Language string    `json:"language,omitempty" bson:"language,omitempty"`
	JoinedAt time.Time `json:"joinedAt" bson:"joinedAt"`
}
