package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loghold/internal/activity"
	"loghold/internal/config"
	"loghold/internal/logger"
)

type aliasOp struct {
	kind     string // "assign" or "swap"
	newIndex string
	oldIndex string
}

type fakeIndices struct {
	mu      sync.Mutex
	indices map[string]IndexStats
	aliases map[string]string

	failCreate bool
	listErr    error

	created  []string
	aliasOps []aliasOp
}

func newFakeIndices(names ...string) *fakeIndices {
	f := &fakeIndices{
		indices: make(map[string]IndexStats),
		aliases: make(map[string]string),
	}
	for _, name := range names {
		f.indices[name] = IndexStats{}
	}
	return f
}

func (f *fakeIndices) Create(_ context.Context, indexName string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, indexName)
	if f.failCreate {
		return false
	}
	f.indices[indexName] = IndexStats{}
	return true
}

func (f *fakeIndices) WaitForRecovery(context.Context, string) HealthStatus {
	return HealthGreen
}

func (f *fakeIndices) AliasExists(_ context.Context, aliasName string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.aliases[aliasName]
	return ok, nil
}

func (f *fakeIndices) AliasTarget(_ context.Context, aliasName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aliases[aliasName], nil
}

func (f *fakeIndices) CycleAlias(_ context.Context, aliasName, newIndex string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliasOps = append(f.aliasOps, aliasOp{kind: "assign", newIndex: newIndex})
	f.aliases[aliasName] = newIndex
	return nil
}

func (f *fakeIndices) CycleAliasFrom(_ context.Context, aliasName, newIndex, oldIndex string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.aliases[aliasName] != oldIndex {
		return fmt.Errorf("alias %s does not point at %s", aliasName, oldIndex)
	}
	f.aliasOps = append(f.aliasOps, aliasOp{kind: "swap", newIndex: newIndex, oldIndex: oldIndex})
	// One step, exactly like the backend's atomic action list.
	f.aliases[aliasName] = newIndex
	return nil
}

func (f *fakeIndices) ListAll(context.Context) (map[string]IndexStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make(map[string]IndexStats, len(f.indices))
	for name, stats := range f.indices {
		out[name] = stats
	}
	return out, nil
}

type submittedJob struct {
	jobType string
	target  string
	delay   time.Duration
	delayed bool
}

type fakeScheduler struct {
	mu        sync.Mutex
	submitted []submittedJob
	submitErr error
	delayErr  error
}

func (s *fakeScheduler) Submit(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return s.submitErr
	}
	s.submitted = append(s.submitted, submittedJob{jobType: job.Type(), target: job.Target()})
	return nil
}

func (s *fakeScheduler) SubmitWithDelay(job Job, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delayErr != nil {
		return s.delayErr
	}
	s.submitted = append(s.submitted, submittedJob{jobType: job.Type(), target: job.Target(), delay: delay, delayed: true})
	return nil
}

func (s *fakeScheduler) byType(jobType string) []submittedJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []submittedJob
	for _, job := range s.submitted {
		if job.jobType == jobType {
			out = append(out, job)
		}
	}
	return out
}

type fakeJob struct {
	jobType string
	target  string
}

func (j fakeJob) Type() string              { return j.jobType }
func (j fakeJob) Target() string            { return j.target }
func (j fakeJob) Run(context.Context) error { return nil }

type fakeJobFactory struct{}

func (fakeJobFactory) NewSetReadOnlyJob(indexName string) Job {
	return fakeJob{jobType: "set-read-only", target: indexName}
}

func (fakeJobFactory) NewCreateRangeJob(indexName string) Job {
	return fakeJob{jobType: "create-index-range", target: indexName}
}

type recordingActivityWriter struct {
	mu       sync.Mutex
	messages []string
}

func (w *recordingActivityWriter) Write(_ context.Context, a activity.Activity) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, a.Message)
}

func newTestDeflector(indices *fakeIndices) (*Deflector, *fakeScheduler, *recordingActivityWriter) {
	scheduler := &fakeScheduler{}
	sink := &recordingActivityWriter{}
	d := NewDeflector(indices, scheduler, fakeJobFactory{}, sink, config.IndexerConfig{
		IndexPrefix: "logdata",
	}, logger.NopLogger())
	return d, scheduler, sink
}

func TestNewestTargetNumber(t *testing.T) {
	indices := newFakeIndices("logdata_0", "logdata_1", "logdata_7", "other_9", "logdata_deflector")
	d, _, _ := newTestDeflector(indices)

	number, err := d.NewestTargetNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, number)

	name, err := d.NewestTargetName(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "logdata_7", name)
}

func TestNewestTargetNumberNoManagedIndices(t *testing.T) {
	tests := []struct {
		name    string
		indices []string
	}{
		{"empty backend", nil},
		{"only foreign indices", []string{"other_9", "unrelated"}},
		{"only unparseable names", []string{"logdata_backup", "logdata_old_copy"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _, _ := newTestDeflector(newFakeIndices(tt.indices...))

			_, err := d.NewestTargetNumber(context.Background())
			assert.ErrorIs(t, err, ErrNoTargetIndex)

			_, err = d.NewestTargetName(context.Background())
			assert.ErrorIs(t, err, ErrNoTargetIndex)
		})
	}
}

func TestCycleFromExistingTarget(t *testing.T) {
	indices := newFakeIndices("logdata_0", "logdata_1", "logdata_2", "logdata_3")
	indices.aliases["logdata_deflector"] = "logdata_3"
	d, scheduler, sink := newTestDeflector(indices)

	require.NoError(t, d.Cycle(context.Background()))

	assert.Equal(t, []string{"logdata_4"}, indices.created)

	// Exactly one alias mutation, and it is the atomic dual-target swap.
	require.Len(t, indices.aliasOps, 1)
	assert.Equal(t, aliasOp{kind: "swap", newIndex: "logdata_4", oldIndex: "logdata_3"}, indices.aliasOps[0])
	assert.Equal(t, "logdata_4", indices.aliases["logdata_deflector"])

	readOnly := scheduler.byType("set-read-only")
	require.Len(t, readOnly, 1)
	assert.Equal(t, "logdata_3", readOnly[0].target)
	assert.True(t, readOnly[0].delayed)
	assert.Equal(t, config.DefaultRetireDelaySeconds*time.Second, readOnly[0].delay)

	ranges := scheduler.byType("create-index-range")
	require.Len(t, ranges, 2)
	assert.Equal(t, "logdata_3", ranges[0].target)
	assert.Equal(t, "logdata_4", ranges[1].target)

	require.Len(t, sink.messages, 1)
	assert.Equal(t, "Cycled deflector from <logdata_3> to <logdata_4>", sink.messages[0])
}

func TestCycleBootstrap(t *testing.T) {
	indices := newFakeIndices()
	d, scheduler, sink := newTestDeflector(indices)

	require.NoError(t, d.Cycle(context.Background()))

	assert.Equal(t, []string{"logdata_0"}, indices.created)

	// First cycle has no old target, so the single-target assignment is used.
	require.Len(t, indices.aliasOps, 1)
	assert.Equal(t, aliasOp{kind: "assign", newIndex: "logdata_0"}, indices.aliasOps[0])

	assert.Empty(t, scheduler.byType("set-read-only"))

	ranges := scheduler.byType("create-index-range")
	require.Len(t, ranges, 1)
	assert.Equal(t, "logdata_0", ranges[0].target)

	require.Len(t, sink.messages, 1)
	assert.Equal(t, "Cycled deflector from <none> to <logdata_0>", sink.messages[0])
}

func TestCycleProceedsWhenCreateFails(t *testing.T) {
	indices := newFakeIndices("logdata_0")
	indices.aliases["logdata_deflector"] = "logdata_0"
	indices.failCreate = true
	// The target exists already, created out-of-band.
	indices.indices["logdata_1"] = IndexStats{}

	d, _, _ := newTestDeflector(indices)

	require.NoError(t, d.Cycle(context.Background()))
	assert.Equal(t, "logdata_1", indices.aliases["logdata_deflector"])
}

func TestCycleSurvivesJobSchedulingConflicts(t *testing.T) {
	indices := newFakeIndices("logdata_0")
	indices.aliases["logdata_deflector"] = "logdata_0"
	d, scheduler, sink := newTestDeflector(indices)
	scheduler.submitErr = ErrJobConcurrency
	scheduler.delayErr = ErrJobConcurrency

	require.NoError(t, d.Cycle(context.Background()))

	assert.Equal(t, "logdata_1", indices.aliases["logdata_deflector"])

	// Range job conflicts are reported to the audit sink, plus the cycle
	// record itself.
	require.Len(t, sink.messages, 3)
	assert.Contains(t, sink.messages[0], "Could not calculate index ranges for index logdata_0")
	assert.Contains(t, sink.messages[1], "Could not calculate index ranges for index logdata_1")
	assert.Equal(t, "Cycled deflector from <logdata_0> to <logdata_1>", sink.messages[2])
}

func TestCycleSkipsUnparseableIndexNames(t *testing.T) {
	indices := newFakeIndices("logdata_0", "logdata_restored_archive")
	indices.aliases["logdata_deflector"] = "logdata_0"
	d, _, _ := newTestDeflector(indices)

	require.NoError(t, d.Cycle(context.Background()))
	assert.Equal(t, "logdata_1", indices.aliases["logdata_deflector"])
}

func TestConcurrentCyclesAreSerialized(t *testing.T) {
	indices := newFakeIndices()
	d, _, _ := newTestDeflector(indices)

	const cycles = 5
	var wg sync.WaitGroup
	for i := 0; i < cycles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, d.Cycle(context.Background()))
		}()
	}
	wg.Wait()

	// Serialized cycles see each other's target and never collide.
	require.Len(t, indices.created, cycles)
	seen := make(map[string]bool)
	for _, name := range indices.created {
		assert.False(t, seen[name], "target %s created twice", name)
		seen[name] = true
	}
	assert.Equal(t, "logdata_4", indices.aliases["logdata_deflector"])
}

func TestIsUp(t *testing.T) {
	indices := newFakeIndices()
	d, _, _ := newTestDeflector(indices)

	assert.False(t, d.IsUp(context.Background()))

	indices.aliases["logdata_deflector"] = "logdata_0"
	assert.True(t, d.IsUp(context.Background()))
}

func TestSetUpIsIdempotent(t *testing.T) {
	indices := newFakeIndices()
	d, _, _ := newTestDeflector(indices)

	require.NoError(t, d.SetUp(context.Background()))
	assert.True(t, d.IsUp(context.Background()))

	createdAfterFirst := len(indices.created)
	aliasOpsAfterFirst := len(indices.aliasOps)

	require.NoError(t, d.SetUp(context.Background()))

	assert.Equal(t, createdAfterFirst, len(indices.created), "second SetUp must not create indices")
	assert.Equal(t, aliasOpsAfterFirst, len(indices.aliasOps), "second SetUp must not touch the alias")
}

func TestSetUpRecoversExistingTarget(t *testing.T) {
	// A prior cycle created logdata_2 but crashed before aliasing it.
	indices := newFakeIndices("logdata_0", "logdata_2")
	d, _, _ := newTestDeflector(indices)

	require.NoError(t, d.SetUp(context.Background()))

	assert.Empty(t, indices.created, "recovery must not create a new index")
	assert.Equal(t, "logdata_2", indices.aliases["logdata_deflector"])
}

func TestSetUpBootstrapsFirstIndex(t *testing.T) {
	indices := newFakeIndices()
	d, _, sink := newTestDeflector(indices)

	require.NoError(t, d.SetUp(context.Background()))

	assert.Equal(t, []string{"logdata_0"}, indices.created)
	assert.Equal(t, "logdata_0", indices.aliases["logdata_deflector"])

	var hasBootstrapRecord bool
	for _, msg := range sink.messages {
		if strings.Contains(msg, "There is no index target to point to") {
			hasBootstrapRecord = true
		}
	}
	assert.True(t, hasBootstrapRecord)
}

func TestSetUpAbortsOnAliasCollision(t *testing.T) {
	// An ordinary index squats on the literal alias name.
	indices := newFakeIndices("logdata_deflector")
	d, _, _ := newTestDeflector(indices)

	err := d.SetUp(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAliasCollision)

	assert.Empty(t, indices.created)
	assert.Empty(t, indices.aliasOps)
}

func TestSetUpPropagatesListFailure(t *testing.T) {
	indices := newFakeIndices()
	indices.listErr = errors.New("backend unavailable")
	d, _, _ := newTestDeflector(indices)

	err := d.SetUp(context.Background())
	require.Error(t, err)
}

func TestManagedIndexEnumeration(t *testing.T) {
	indices := newFakeIndices("logdata_0", "logdata_3", "other_1", "logdata_deflector")
	d, _, _ := newTestDeflector(indices)

	names, err := d.ManagedIndexNames(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"logdata_0", "logdata_3"}, names)

	stats, err := d.ManagedIndices(context.Background())
	require.NoError(t, err)
	assert.Len(t, stats, 2)
	assert.Contains(t, stats, "logdata_0")
	assert.Contains(t, stats, "logdata_3")
}

func TestDeflectorNames(t *testing.T) {
	d, _, _ := newTestDeflector(newFakeIndices())

	assert.Equal(t, "logdata_deflector", d.Name())
	assert.Equal(t, "logdata_*", d.Wildcard())
	assert.True(t, d.IsAlias("logdata_deflector"))
	assert.False(t, d.IsAlias("logdata_0"))
}
