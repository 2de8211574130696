package repository

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tandem/internal/model"
)

// SessionRepo stores the durable mirror of sessions, one record per room.
type SessionRepo interface {
	InsertRecords(ctx context.Context, records []*model.SessionRecord) error
	SetRoomURL(ctx context.Context, roomName, url string) error
	GetByRoomName(ctx context.Context, roomName string) (*model.SessionRecord, error)
	ActiveRoomNames(ctx context.Context) ([]string, error)
	FindExpiredActive(ctx context.Context, now time.Time) ([]*model.SessionRecord, error)
	MarkRoomEnded(ctx context.Context, roomName string, endedAt time.Time) (bool, error)
	MarkSessionEnded(ctx context.Context, sessionID string, endedAt time.Time) (int64, error)
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type sessionRepo struct {
	collection *mongo.Collection
}

// NewSessionRepo creates a session repository over the sessions collection.
func NewSessionRepo(db *mongo.Database) SessionRepo {
	coll := db.Collection("sessions")

	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "roomName", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(context.Background(), idx); err != nil {
		log.Printf("Sessions: failed to ensure roomName index: %v", err)
	}

	return &sessionRepo{collection: coll}
}

func (r *sessionRepo) InsertRecords(ctx context.Context, records []*model.SessionRecord) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]interface{}, len(records))
	for i, rec := range records {
		docs[i] = rec
	}
	_, err := r.collection.InsertMany(ctx, docs)
	return err
}

// SetRoomURL records the provisioned room URL after the external create
// succeeds. A record with an empty URL is a degraded session.
func (r *sessionRepo) SetRoomURL(ctx context.Context, roomName, url string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"roomName": roomName},
		bson.M{"$set": bson.M{"roomUrl": url}})
	return err
}

func (r *sessionRepo) GetByRoomName(ctx context.Context, roomName string) (*model.SessionRecord, error) {
	var rec model.SessionRecord
	err := r.collection.FindOne(ctx, bson.M{"roomName": roomName}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *sessionRepo) ActiveRoomNames(ctx context.Context) ([]string, error) {
	cur, err := r.collection.Find(ctx, bson.M{"status": model.RoomActive},
		options.Find().SetProjection(bson.M{"roomName": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var names []string
	for cur.Next(ctx) {
		var doc struct {
			RoomName string `bson:"roomName"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		names = append(names, doc.RoomName)
	}
	return names, cur.Err()
}

func (r *sessionRepo) FindExpiredActive(ctx context.Context, now time.Time) ([]*model.SessionRecord, error) {
	cur, err := r.collection.Find(ctx, bson.M{
		"status":    model.RoomActive,
		"expiresAt": bson.M{"$lt": now},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var records []*model.SessionRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// MarkRoomEnded transitions a single room to ended. The status filter makes
// the transition happen at most once; the bool reports whether this call did
// the transition.
func (r *sessionRepo) MarkRoomEnded(ctx context.Context, roomName string, endedAt time.Time) (bool, error) {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"roomName": roomName, "status": model.RoomActive},
		bson.M{"$set": bson.M{"status": model.RoomEnded, "endedAt": endedAt}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

func (r *sessionRepo) MarkSessionEnded(ctx context.Context, sessionID string, endedAt time.Time) (int64, error) {
	res, err := r.collection.UpdateMany(ctx,
		bson.M{"sessionId": sessionID, "status": model.RoomActive},
		bson.M{"$set": bson.M{"status": model.RoomEnded, "endedAt": endedAt}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *sessionRepo) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{
		"status":    model.RoomEnded,
		"createdAt": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
