// Command seed writes an initial matching schedule into MongoDB.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tandem/internal/model"
)

func main() {
	mongoURI := os.Getenv("MONGO_URI")
	if mongoURI == "" {
		mongoURI = "mongodb://localhost:27017"
	}
	dbName := os.Getenv("MONGO_DB")
	if dbName == "" {
		dbName = "tandem"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer client.Disconnect(ctx)

	cfg := model.ScheduleConfig{
		ID:       model.ScheduleConfigID,
		Disabled: false,
		Periods: []model.ActivePeriod{
			{Start: model.TimeOfDay{Hour: 8, Minute: 0}, End: model.TimeOfDay{Hour: 12, Minute: 0}},
			{Start: model.TimeOfDay{Hour: 14, Minute: 0}, End: model.TimeOfDay{Hour: 22, Minute: 0}},
		},
		UpdatedAt: time.Now(),
	}

	coll := client.Database(dbName).Collection("schedule")
	_, err = coll.ReplaceOne(ctx,
		bson.M{"_id": model.ScheduleConfigID}, cfg,
		options.Replace().SetUpsert(true))
	if err != nil {
		log.Fatalf("Failed to seed schedule: %v", err)
	}

	log.Printf("Seeded schedule with %d period(s)", len(cfg.Periods))
}
