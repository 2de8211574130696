package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tandem/internal/model"
)

// ScheduleRepo persists the matching schedule config.
type ScheduleRepo interface {
	Load(ctx context.Context) (*model.ScheduleConfig, error)
	Save(ctx context.Context, cfg *model.ScheduleConfig) error
}

type scheduleRepo struct {
	collection *mongo.Collection
}

func NewScheduleRepo(db *mongo.Database) ScheduleRepo {
	return &scheduleRepo{collection: db.Collection("schedule")}
}

// Load returns the stored config, or nil if none has been saved yet.
func (r *scheduleRepo) Load(ctx context.Context) (*model.ScheduleConfig, error) {
	var cfg model.ScheduleConfig
	err := r.collection.FindOne(ctx, bson.M{"_id": model.ScheduleConfigID}).Decode(&cfg)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *scheduleRepo) Save(ctx context.Context, cfg *model.ScheduleConfig) error {
	cfg.ID = model.ScheduleConfigID
	_, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": model.ScheduleConfigID}, cfg,
		options.Replace().SetUpsert(true))
	return err
}
