package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"loghold/internal/activity"
	"loghold/internal/config"
	"loghold/internal/logger"
	"loghold/pkg/metrics"
)

const activityCaller = "Deflector"

// ErrNoTargetIndex means no managed physical index exists yet. Expected
// during first boot, before the first cycle has run.
var ErrNoTargetIndex = errors.New("there is no index target to point to")

// ErrAliasCollision means an ordinary index occupies the alias name. The
// deflector cannot take over that name; an operator has to remove or rename
// the index.
var ErrAliasCollision = errors.New("an index with the deflector alias name exists")

// Deflector keeps a stable write alias pointed at the newest index in a
// strictly ordered sequence of physical indices, and retires old targets.
//
// Cycle and SetUp are serialized per instance: two concurrent cycles would
// both read the same newest number and race to create the same target.
type Deflector struct {
	indices   Indices
	scheduler JobScheduler
	jobs      JobFactory
	activity  activity.Writer
	log       logger.Logger

	indexPrefix   string
	deflectorName string
	retireDelay   time.Duration

	mu sync.Mutex
}

func NewDeflector(
	indices Indices,
	scheduler JobScheduler,
	jobs JobFactory,
	activityWriter activity.Writer,
	cfg config.IndexerConfig,
	log logger.Logger,
) *Deflector {
	return &Deflector{
		indices:       indices,
		scheduler:     scheduler,
		jobs:          jobs,
		activity:      activityWriter,
		log:           log,
		indexPrefix:   cfg.IndexPrefix,
		deflectorName: BuildAliasName(cfg.IndexPrefix),
		retireDelay:   cfg.RetireDelay(),
	}
}

// Name returns the alias name.
func (d *Deflector) Name() string {
	return d.deflectorName
}

// Wildcard matches every index sharing the configured prefix, alias included.
func (d *Deflector) Wildcard() string {
	return d.indexPrefix + Separator + "*"
}

func (d *Deflector) IsAlias(indexName string) bool {
	return d.deflectorName == indexName
}

// IsUp reports whether the alias currently exists in the backend.
func (d *Deflector) IsUp(ctx context.Context) bool {
	exists, err := d.indices.AliasExists(ctx, d.deflectorName)
	if err != nil {
		d.log.Errorw("Could not check deflector alias", "alias", d.deflectorName, "error", err)
		return false
	}
	return exists
}

// SetUp is the idempotent bootstrap. With the alias already present it does
// nothing. With managed indices but no alias (a prior cycle was interrupted
// between creating and aliasing) it repoints to the highest-numbered index
// without creating a new one. With nothing at all it runs the first cycle.
// An ordinary index squatting on the alias name aborts startup.
func (d *Deflector) SetUp(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.IsUp(ctx) {
		d.log.Infow("Found deflector alias. Using it.", "alias", d.deflectorName)
		return nil
	}

	d.log.Infow("Did not find a deflector alias. Setting one up now.", "alias", d.deflectorName)

	currentTarget, err := d.NewestTargetName(ctx)
	switch {
	case err == nil:
		d.log.Infow("Pointing to already existing index target", "target", currentTarget)
		return d.indices.CycleAlias(ctx, d.deflectorName, currentTarget)

	case errors.Is(err, ErrNoTargetIndex):
		all, listErr := d.indices.ListAll(ctx)
		if listErr != nil {
			return fmt.Errorf("scanning indices during deflector setup: %w", listErr)
		}
		if _, occupied := all[d.deflectorName]; occupied {
			d.log.Errorw("There already is an index with the deflector name, refusing to set up",
				"name", d.deflectorName,
			)
			return fmt.Errorf("%w: %s", ErrAliasCollision, d.deflectorName)
		}

		msg := "There is no index target to point to. Creating one now."
		d.log.Infow(msg)
		d.activity.Write(ctx, activity.New(msg, activityCaller))
		return d.cycle(ctx)

	default:
		return err
	}
}

// Cycle creates the next physical index and atomically repoints the alias to
// it, then schedules retirement of the previous target.
func (d *Deflector) Cycle(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cycle(ctx)
}

func (d *Deflector) cycle(ctx context.Context) error {
	d.log.Infow("Cycling deflector to next index now.", "alias", d.deflectorName)

	oldNumber, err := d.NewestTargetNumber(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoTargetIndex) {
			metrics.DeflectorCyclesTotal.WithLabelValues("failed").Inc()
			return err
		}
		oldNumber = -1
	}
	newNumber := oldNumber + 1

	newTarget := BuildIndexName(d.indexPrefix, newNumber)
	oldTarget := ""
	if oldNumber != -1 {
		oldTarget = BuildIndexName(d.indexPrefix, oldNumber)
		d.log.Infow("Cycling deflector", "from", oldTarget, "to", newTarget)
	} else {
		d.log.Infow("Cycling deflector", "from", "<none>", "to", newTarget)
	}

	// Creation failure is not fatal: the index may already exist, created
	// out-of-band, and should still become the target.
	d.log.Infow("Creating index target", "target", newTarget)
	if !d.indices.Create(ctx, newTarget) {
		d.log.Errorw("Could not properly create new target", "target", newTarget)
	}

	d.log.Infow("Waiting for index allocation", "target", newTarget)
	health := d.indices.WaitForRecovery(ctx, newTarget)
	d.log.Debugw("Health status of new index", "target", newTarget, "status", string(health))

	var act activity.Activity
	if oldNumber == -1 {
		// Bootstrap: nothing to swap away from.
		if err := d.indices.CycleAlias(ctx, d.deflectorName, newTarget); err != nil {
			metrics.DeflectorCyclesTotal.WithLabelValues("failed").Inc()
			return fmt.Errorf("pointing deflector to %s: %w", newTarget, err)
		}
		act = activity.New(fmt.Sprintf("Cycled deflector from <none> to <%s>", newTarget), activityCaller)
	} else {
		// The combined swap keeps the alias resolving to exactly one target
		// at every instant; never split this into remove+add.
		if err := d.indices.CycleAliasFrom(ctx, d.deflectorName, newTarget, oldTarget); err != nil {
			metrics.DeflectorCyclesTotal.WithLabelValues("failed").Inc()
			return fmt.Errorf("repointing deflector from %s to %s: %w", oldTarget, newTarget, err)
		}

		d.scheduleIndexRange(ctx, oldTarget)

		// A write request may have resolved the alias to the old target just
		// before the swap and still be in flight. The delay lets such writes
		// drain before the index goes read-only; it is a heuristic, not a
		// proven bound.
		readOnlyJob := d.jobs.NewSetReadOnlyJob(oldTarget)
		if err := d.scheduler.SubmitWithDelay(readOnlyJob, d.retireDelay); err != nil {
			d.log.Errorw("Cannot schedule read-only job for old index. It won't be optimized.",
				"index", oldTarget,
				"error", err,
			)
		}

		act = activity.New(fmt.Sprintf("Cycled deflector from <%s> to <%s>", oldTarget, newTarget), activityCaller)
	}

	d.scheduleIndexRange(ctx, newTarget)

	metrics.DeflectorCyclesTotal.WithLabelValues("success").Inc()
	metrics.DeflectorCurrentTargetNumber.Set(float64(newNumber))

	d.log.Infow("Done cycling deflector", "target", newTarget)
	d.activity.Write(ctx, act)
	return nil
}

func (d *Deflector) scheduleIndexRange(ctx context.Context, indexName string) {
	if err := d.scheduler.Submit(d.jobs.NewCreateRangeJob(indexName)); err != nil {
		msg := fmt.Sprintf("Could not calculate index ranges for index %s after cycling deflector: %v", indexName, err)
		d.log.Errorw(msg, "index", indexName)
		d.activity.Write(ctx, activity.New(msg, activityCaller))
	}
}

// NewestTargetNumber scans the backend for managed indices and returns the
// highest sequence number. Names with a non-numeric tail are skipped.
func (d *Deflector) NewestTargetNumber(ctx context.Context) (int, error) {
	all, err := d.indices.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing indices: %w", err)
	}

	highest := -1
	found := false
	for indexName := range all {
		if !IsManagedIndex(d.indexPrefix, indexName) {
			continue
		}

		number, err := ExtractIndexNumber(indexName)
		if err != nil {
			d.log.Debugw("Could not extract index number from index name, skipping",
				"index", indexName,
			)
			continue
		}

		if !found || number > highest {
			highest = number
			found = true
		}
	}

	if !found {
		return 0, ErrNoTargetIndex
	}
	return highest, nil
}

func (d *Deflector) NewestTargetName(ctx context.Context) (string, error) {
	number, err := d.NewestTargetNumber(ctx)
	if err != nil {
		return "", err
	}
	return BuildIndexName(d.indexPrefix, number), nil
}

// PointTo assigns the alias its first target. Once an old target exists,
// PointToFrom is the only permitted form.
func (d *Deflector) PointTo(ctx context.Context, newIndex string) error {
	return d.indices.CycleAlias(ctx, d.deflectorName, newIndex)
}

// PointToFrom atomically moves the alias from oldIndex to newIndex.
func (d *Deflector) PointToFrom(ctx context.Context, newIndex, oldIndex string) error {
	return d.indices.CycleAliasFrom(ctx, d.deflectorName, newIndex, oldIndex)
}

// CurrentTarget resolves the alias to the physical index it points at.
func (d *Deflector) CurrentTarget(ctx context.Context) (string, error) {
	return d.indices.AliasTarget(ctx, d.deflectorName)
}

// ManagedIndexNames lists the physical indices belonging to this deflector.
func (d *Deflector) ManagedIndexNames(ctx context.Context) ([]string, error) {
	all, err := d.indices.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing indices: %w", err)
	}

	names := make([]string, 0, len(all))
	for indexName := range all {
		if IsManagedIndex(d.indexPrefix, indexName) {
			names = append(names, indexName)
		}
	}
	return names, nil
}

// ManagedIndices returns stats for the physical indices belonging to this
// deflector.
func (d *Deflector) ManagedIndices(ctx context.Context) (map[string]IndexStats, error) {
	all, err := d.indices.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing indices: %w", err)
	}

	managed := make(map[string]IndexStats, len(all))
	for indexName, stats := range all {
		if IsManagedIndex(d.indexPrefix, indexName) {
			managed[indexName] = stats
		}
	}
	return managed, nil
}
