package sysjobs

import (
	"context"
	"fmt"

	"loghold/internal/indexer"
	"loghold/internal/logger"
)

const (
	JobTypeSetReadOnly      = "set-index-read-only"
	JobTypeCreateIndexRange = "create-index-range"
)

// IndexMaintenance is the slice of the backend the retirement job needs.
type IndexMaintenance interface {
	SetReadOnly(ctx context.Context, indexName string) error
	Optimize(ctx context.Context, indexName string) error
}

// RangeCalculator computes the time range covered by one index.
type RangeCalculator interface {
	CalculateRange(ctx context.Context, indexName string) (indexer.IndexRange, error)
}

// Factory builds the background jobs scheduled after a deflector cycle.
type Factory struct {
	maintenance IndexMaintenance
	calculator  RangeCalculator
	ranges      indexer.RangeRepository
	log         logger.Logger
}

func NewFactory(maintenance IndexMaintenance, calculator RangeCalculator, ranges indexer.RangeRepository, log logger.Logger) *Factory {
	return &Factory{
		maintenance: maintenance,
		calculator:  calculator,
		ranges:      ranges,
		log:         log,
	}
}

func (f *Factory) NewSetReadOnlyJob(indexName string) indexer.Job {
	return &setReadOnlyJob{
		maintenance: f.maintenance,
		indexName:   indexName,
		log:         f.log,
	}
}

func (f *Factory) NewCreateRangeJob(indexName string) indexer.Job {
	return &createRangeJob{
		calculator: f.calculator,
		ranges:     f.ranges,
		indexName:  indexName,
		log:        f.log,
	}
}

// setReadOnlyJob finalizes a retired write target: the index is flipped
// read-only and then merged down, since no further writes will reach it.
type setReadOnlyJob struct {
	maintenance IndexMaintenance
	indexName   string
	log         logger.Logger
}

func (j *setReadOnlyJob) Type() string   { return JobTypeSetReadOnly }
func (j *setReadOnlyJob) Target() string { return j.indexName }

func (j *setReadOnlyJob) Run(ctx context.Context) error {
	j.log.Infow("Setting index to read-only", "index", j.indexName)
	if err := j.maintenance.SetReadOnly(ctx, j.indexName); err != nil {
		return fmt.Errorf("setting index %s read-only: %w", j.indexName, err)
	}

	j.log.Infow("Optimizing read-only index", "index", j.indexName)
	if err := j.maintenance.Optimize(ctx, j.indexName); err != nil {
		return fmt.Errorf("optimizing index %s: %w", j.indexName, err)
	}
	return nil
}

// createRangeJob recomputes and persists the time-range metadata of one
// index so range-pruning queries stay correct after a cycle.
type createRangeJob struct {
	calculator RangeCalculator
	ranges     indexer.RangeRepository
	indexName  string
	log        logger.Logger
}

func (j *createRangeJob) Type() string   { return JobTypeCreateIndexRange }
func (j *createRangeJob) Target() string { return j.indexName }

func (j *createRangeJob) Run(ctx context.Context) error {
	rng, err := j.calculator.CalculateRange(ctx, j.indexName)
	if err != nil {
		return fmt.Errorf("calculating range of index %s: %w", j.indexName, err)
	}

	if err := j.ranges.Store(ctx, rng); err != nil {
		return err
	}

	j.log.Infow("Calculated index range",
		"index", j.indexName,
		"begin", rng.Begin,
		"end", rng.End,
		"took_ms", rng.TookMs,
	)
	return nil
}
