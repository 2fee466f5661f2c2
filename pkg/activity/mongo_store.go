package activity

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

const collectionName = "activity_log"

// entryDoc is the persisted shape. The user id is stored as a string,
// matching how the rest of the data layer keys documents.
type entryDoc struct {
	ID         string         `bson:"_id"`
	UserID     string         `bson:"user_id"`
	Action     string         `bson:"action"`
	EntityType string         `bson:"entity_type"`
	Details    map[string]any `bson:"details,omitempty"`
	CreatedAt  time.Time      `bson:"created_at"`
}

// MongoStore appends entries to the activity_log collection.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore creates a store backed by the given database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(collectionName)}
}

func (s *MongoStore) Insert(ctx context.Context, entry Entry) error {
	doc := entryDoc{
		ID:         entry.ID,
		UserID:     entry.UserID.String(),
		Action:     entry.Action,
		EntityType: entry.EntityType,
		Details:    entry.Details,
		CreatedAt:  entry.CreatedAt,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert activity entry: %w", err)
	}
	return nil
}
