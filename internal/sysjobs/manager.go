package sysjobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"loghold/internal/indexer"
	"loghold/internal/logger"
	"loghold/pkg/metrics"
)

// Manager runs system jobs in the background. At most one job per
// (type, target) pair is pending or running at any time; a duplicate
// submission is rejected with indexer.ErrJobConcurrency, which callers treat
// as advisory. A delayed job holds its slot for the whole delay, so the
// guard also covers the drain window.
type Manager struct {
	sem *semaphore.Weighted
	log logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool
}

func NewManager(maxConcurrent int64, log logger.Logger) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		sem:     semaphore.NewWeighted(maxConcurrent),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]struct{}),
	}
}

func (m *Manager) Submit(job indexer.Job) error {
	return m.SubmitWithDelay(job, 0)
}

func (m *Manager) SubmitWithDelay(job indexer.Job, delay time.Duration) error {
	key := jobKey(job)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("job manager is shut down")
	}
	if _, dup := m.pending[key]; dup {
		m.mu.Unlock()
		metrics.SystemJobsSubmittedTotal.WithLabelValues(job.Type(), "rejected").Inc()
		return fmt.Errorf("%w: %s", indexer.ErrJobConcurrency, key)
	}
	m.pending[key] = struct{}{}
	m.mu.Unlock()

	metrics.SystemJobsSubmittedTotal.WithLabelValues(job.Type(), "accepted").Inc()

	m.wg.Add(1)
	go m.run(job, key, delay)
	return nil
}

func (m *Manager) run(job indexer.Job, key string, delay time.Duration) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.pending, key)
		m.mu.Unlock()
	}()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-m.ctx.Done():
			m.log.Infow("Skipping delayed system job, manager is shutting down",
				"type", job.Type(), "target", job.Target())
			return
		}
	}

	if err := m.sem.Acquire(m.ctx, 1); err != nil {
		return
	}
	defer m.sem.Release(1)

	metrics.SystemJobsRunning.Inc()
	defer metrics.SystemJobsRunning.Dec()

	start := time.Now()
	if err := job.Run(m.ctx); err != nil {
		m.log.Errorw("System job failed",
			"type", job.Type(),
			"target", job.Target(),
			"error", err,
		)
		return
	}

	m.log.Infow("System job finished",
		"type", job.Type(),
		"target", job.Target(),
		"took", time.Since(start),
	)
}

// Shutdown stops accepting jobs, cancels pending delays, and waits for
// running jobs to finish or the context to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job manager shutdown: %w", ctx.Err())
	}
}

func jobKey(job indexer.Job) string {
	return job.Type() + ":" + job.Target()
}
