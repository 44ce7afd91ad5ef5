package indexer

import (
	"context"
	"time"
)

// IndexRange is the time-range metadata of one physical index, used by
// range-pruning queries to skip indices that cannot contain a match. It is
// recomputed whenever the deflector cycles.
type IndexRange struct {
	IndexName    string    `bson:"index_name"`
	Begin        time.Time `bson:"begin"`
	End          time.Time `bson:"end"`
	CalculatedAt time.Time `bson:"calculated_at"`
	TookMs       int64     `bson:"took_ms"`
}

// RangeRepository persists index ranges, replacing any previous record for
// the same index.
type RangeRepository interface {
	Store(ctx context.Context, r IndexRange) error
	Get(ctx context.Context, indexName string) (*IndexRange, error)
}
