package activity

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"loghold/internal/logger"
)

const collectionName = "system_messages"

// MongoWriter persists activities as system messages. Failures are logged
// and swallowed; the sink never propagates errors to its callers.
type MongoWriter struct {
	collection *mongo.Collection
	nodeID     string
	log        logger.Logger
}

func NewMongoWriter(db *mongo.Database, nodeID string, log logger.Logger) *MongoWriter {
	return &MongoWriter{
		collection: db.Collection(collectionName),
		nodeID:     nodeID,
		log:        log,
	}
}

func (w *MongoWriter) Write(ctx context.Context, a Activity) {
	timestamp := a.Time
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	doc := bson.M{
		"caller":    a.Caller,
		"content":   a.Message,
		"node_id":   w.nodeID,
		"timestamp": timestamp,
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := w.collection.InsertOne(writeCtx, doc); err != nil {
		w.log.Warnw("Failed to persist activity, continuing",
			"error", err,
			"activity", a.Message,
		)
	}
}
