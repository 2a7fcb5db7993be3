package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/price-monitor/internal/domain"
	"github.com/user/price-monitor/internal/storage"
)

var ErrAlreadyRunning = errors.New("a run is already in progress")

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// RunLock serializes runs across processes.
type RunLock interface {
	AcquireRunLock(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	ReleaseRunLock(ctx context.Context, owner string) error
}

// StatusPublisher receives every status change, e.g. to share it through Redis.
type StatusPublisher interface {
	SaveStatus(ctx context.Context, st domain.Status) error
}

// Runner owns the run status. It rejects a run while another one is in
// progress in this process, and across processes when a RunLock is set.
type Runner struct {
	pipeline *Pipeline
	targets  storage.TargetStore
	logger   *zap.Logger

	lock      RunLock
	lockTTL   time.Duration
	publisher StatusPublisher

	base context.Context
	wg   sync.WaitGroup

	mu     sync.RWMutex
	status domain.Status
}

type RunnerOption func(*Runner)

func WithRunLock(l RunLock, ttl time.Duration) RunnerOption {
	return func(r *Runner) { r.lock, r.lockTTL = l, ttl }
}

func WithStatusPublisher(p StatusPublisher) RunnerOption {
	return func(r *Runner) { r.publisher = p }
}

// NewRunner creates a Runner. Background runs started with Start derive from
// base, so cancelling base stops them.
func NewRunner(base context.Context, p *Pipeline, ts storage.TargetStore, l *zap.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{pipeline: p, targets: ts, logger: l, base: base, lockTTL: 2 * time.Hour}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Status returns a snapshot of the current or last run.
func (r *Runner) Status() domain.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := r.status
	if st.LastRun != nil {
		t := *st.LastRun
		st.LastRun = &t
	}
	return st
}

// Start launches a run in the background and returns its id.
func (r *Runner) Start(ctx context.Context) (string, error) {
	runID, err := r.begin(ctx)
	if err != nil {
		return "", err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.execute(r.base, runID)
	}()
	return runID, nil
}

// RunSync runs to completion in the caller's goroutine.
func (r *Runner) RunSync(ctx context.Context) (*domain.RunReport, error) {
	runID, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	return r.execute(ctx, runID)
}

// Wait blocks until background runs have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) begin(ctx context.Context) (string, error) {
	runID := uuid.NewString()

	r.mu.Lock()
	if r.status.Running {
		r.mu.Unlock()
		return "", ErrAlreadyRunning
	}
	prev := r.status
	r.status.Running = true
	r.status.RunID = runID
	r.status.LastStatus = StatusRunning
	r.status.Error = ""
	r.status.Progress = domain.Progress{}
	r.mu.Unlock()

	if r.lock != nil {
		ok, err := r.lock.AcquireRunLock(ctx, runID, r.lockTTL)
		if err != nil || !ok {
			r.mu.Lock()
			r.status = prev
			r.mu.Unlock()
			if err != nil {
				return "", fmt.Errorf("pipeline.Runner: run lock: %w", err)
			}
			return "", ErrAlreadyRunning
		}
	}

	r.publish()
	return runID, nil
}

func (r *Runner) execute(ctx context.Context, runID string) (*domain.RunReport, error) {
	log := r.logger.With(zap.String("run_id", runID))
	defer func() {
		if r.lock == nil {
			return
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := r.lock.ReleaseRunLock(rctx, runID); err != nil {
			log.Error("failed to release run lock", zap.Error(err))
		}
	}()

	var report *domain.RunReport
	targets, err := r.targets.ListTargets(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, err)
	} else {
		r.setProgress(domain.Progress{Total: len(targets)})
		report, err = r.pipeline.Execute(ctx, targets, RunOptions{RunID: runID, OnProgress: r.setProgress})
	}

	r.finish(report, err)
	if err != nil {
		log.Error("run ended with error", zap.Error(err))
	}
	return report, err
}

func (r *Runner) setProgress(p domain.Progress) {
	r.mu.Lock()
	if p.Done >= r.status.Progress.Done {
		r.status.Progress = p
	}
	r.mu.Unlock()
}

func (r *Runner) finish(report *domain.RunReport, err error) {
	now := time.Now()

	r.mu.Lock()
	r.status.Running = false
	r.status.LastRun = &now
	r.status.LastReport = report
	switch {
	case err == nil:
		r.status.LastStatus = StatusCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		r.status.LastStatus = StatusCancelled
		r.status.Error = err.Error()
	default:
		r.status.LastStatus = StatusFailed
		r.status.Error = err.Error()
	}
	r.mu.Unlock()

	r.pipeline.Metrics.IncRun(r.Status().LastStatus)
	r.publish()
}

func (r *Runner) publish() {
	if r.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.publisher.SaveStatus(ctx, r.Status()); err != nil {
		r.logger.Warn("failed to publish run status", zap.Error(err))
	}
}
