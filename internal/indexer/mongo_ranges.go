package indexer

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	pkgerrors "loghold/pkg/errors"
)

const rangesCollection = "index_ranges"

// MongoRangeRepository stores index ranges in a document collection keyed by
// index name.
type MongoRangeRepository struct {
	collection *mongo.Collection
}

func NewMongoRangeRepository(db *mongo.Database) *MongoRangeRepository {
	return &MongoRangeRepository{
		collection: db.Collection(rangesCollection),
	}
}

func (r *MongoRangeRepository) Store(ctx context.Context, rng IndexRange) error {
	filter := bson.M{"index_name": rng.IndexName}
	opts := options.Replace().SetUpsert(true)

	if _, err := r.collection.ReplaceOne(ctx, filter, rng, opts); err != nil {
		return fmt.Errorf("storing range for index %s: %w", rng.IndexName, err)
	}
	return nil
}

func (r *MongoRangeRepository) Get(ctx context.Context, indexName string) (*IndexRange, error) {
	var rng IndexRange
	err := r.collection.FindOne(ctx, bson.M{"index_name": indexName}).Decode(&rng)

	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, pkgerrors.ErrNotFound.WithCause(err).WithDetail("message", fmt.Sprintf("no range for index %s", indexName))
	}
	if err != nil {
		return nil, fmt.Errorf("loading range for index %s: %w", indexName, err)
	}

	return &rng, nil
}
