package indexer

import (
	"context"
	"errors"
	"time"
)

// HealthStatus mirrors the search backend's index health reporting.
type HealthStatus string

const (
	HealthGreen  HealthStatus = "green"
	HealthYellow HealthStatus = "yellow"
	HealthRed    HealthStatus = "red"
)

// IndexStats is the per-index summary returned by a backend scan.
type IndexStats struct {
	Documents      int64
	StoreSizeBytes int64
}

// Indices is the search backend collaborator. Implementations own their own
// timeout and retry policy; the deflector treats every call as a synchronous
// black box. CycleAliasFrom must remove the old mapping and add the new one
// atomically so the alias never resolves to zero or two targets.
type Indices interface {
	Create(ctx context.Context, indexName string) bool
	WaitForRecovery(ctx context.Context, indexName string) HealthStatus
	AliasExists(ctx context.Context, aliasName string) (bool, error)
	AliasTarget(ctx context.Context, aliasName string) (string, error)
	CycleAlias(ctx context.Context, aliasName, newIndex string) error
	CycleAliasFrom(ctx context.Context, aliasName, newIndex, oldIndex string) error
	ListAll(ctx context.Context) (map[string]IndexStats, error)
}

// Job is one unit of deferred background work keyed by (type, target). The
// scheduler runs at most one job per key at a time.
type Job interface {
	Type() string
	Target() string
	Run(ctx context.Context) error
}

// ErrJobConcurrency signals that an equivalent job is already pending or
// running. Callers in this package always treat it as log-and-continue.
var ErrJobConcurrency = errors.New("an equivalent system job is already pending")

// JobScheduler is the background work collaborator.
type JobScheduler interface {
	Submit(job Job) error
	SubmitWithDelay(job Job, delay time.Duration) error
}

// JobFactory builds the jobs the deflector schedules after a cycle. Injected
// so the deflector never depends on how the jobs do their work.
type JobFactory interface {
	NewSetReadOnlyJob(indexName string) Job
	NewCreateRangeJob(indexName string) Job
}
