package repository

import (
	"context"
	"errors"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tandem/internal/model"
)

// ErrDuplicateUser is returned when a user already has a waiting entry.
var ErrDuplicateUser = errors.New("user already queued")

// QueueRepo is the durable FIFO of waiting users. Entries are never cached
// in-process; every matching decision reads fresh rows so fairness holds
// across server instances.
type QueueRepo interface {
	Insert(ctx context.Context, entry *model.QueueEntry) error
	FindByUser(ctx context.Context, userID string) (*model.QueueEntry, error)
	OldestByLevel(ctx context.Context, level string, limit int64) ([]*model.QueueEntry, error)
	AllWaiting(ctx context.Context) ([]*model.QueueEntry, error)
	Position(ctx context.Context, level string, joinedAt time.Time) (int64, error)
	DeleteUsers(ctx context.Context, userIDs []string) error
	DeleteAll(ctx context.Context) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type queueRepo struct {
	collection *mongo.Collection
}

// NewQueueRepo creates a queue repository. A unique index on userId backs the
// one-waiting-entry-per-user invariant.
func NewQueueRepo(db *mongo.Database) QueueRepo {
	coll := db.Collection("queue")

	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(context.Background(), idx); err != nil {
		log.Printf("Queue: failed to ensure userId index: %v", err)
	}

	return &queueRepo{collection: coll}
}

func (r *queueRepo) Insert(ctx context.Context, entry *model.QueueEntry) error {
	_, err := r.collection.InsertOne(ctx, entry)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateUser
	}
	return err
}

func (r *queueRepo) FindByUser(ctx context.Context, userID string) (*model.QueueEntry, error) {
	var entry model.QueueEntry
	err := r.collection.FindOne(ctx, bson.M{"userId": userID}).Decode(&entry)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *queueRepo) OldestByLevel(ctx context.Context, level string, limit int64) ([]*model.QueueEntry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "joinedAt", Value: 1}, {Key: "userId", Value: 1}}).
		SetLimit(limit)
	cur, err := r.collection.Find(ctx, bson.M{"level": level}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var entries []*model.QueueEntry
	if err := cur.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *queueRepo) AllWaiting(ctx context.Context) ([]*model.QueueEntry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "joinedAt", Value: 1}, {Key: "userId", Value: 1}})
	cur, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var entries []*model.QueueEntry
	if err := cur.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *queueRepo) Position(ctx context.Context, level string, joinedAt time.Time) (int64, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{
		"level":    level,
		"joinedAt": bson.M{"$lt": joinedAt},
	})
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

func (r *queueRepo) DeleteUsers(ctx context.Context, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := r.collection.DeleteMany(ctx, bson.M{"userId": bson.M{"$in": userIDs}})
	return err
}

func (r *queueRepo) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (r *queueRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{"joinedAt": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
