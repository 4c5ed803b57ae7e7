package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// MonitorRepository defines the interface for stalled-job detection.
// A job is stalled when it has sat in processing since before the cutoff,
// which usually means its worker died mid-run.
type MonitorRepository interface {
	// StalledJobs returns processing jobs whose started_at predates cutoff
	StalledJobs(ctx context.Context, cutoff time.Time) ([]*Job, error)

	// StalledCount counts processing jobs whose started_at predates cutoff
	StalledCount(ctx context.Context, cutoff time.Time) (int, error)

	// RetryJob and DeadLetterJob mirror WorkerRepository so a sweep can push
	// a stalled job through the normal failure path
	RetryJob(ctx context.Context, jobID uuid.UUID, errorMsg string, attempt int, nextRun time.Time) error
	DeadLetterJob(ctx context.Context, jobID uuid.UUID, errorMsg string, attempt int) error
}

// Monitor detects jobs stuck in processing. Detection is read-only and safe
// to run from dashboards; RequeueStalled is the explicit recovery sweep and
// assumes the stalled workers are truly gone, since a live handler whose job
// is requeued would race a second execution.
type Monitor struct {
	repo         MonitorRepository
	stalledAfter time.Duration
	retryPolicy  RetryPolicy
	logger       *slog.Logger
	events       EventBroadcaster
}

// NewMonitor creates a stalled-job monitor
func NewMonitor(repo MonitorRepository, opts ...MonitorOption) (*Monitor, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &monitorOptions{
		stalledAfter: 10 * time.Minute,
		retryPolicy:  DefaultRetryPolicy(),
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Monitor{
		repo:         repo,
		stalledAfter: options.stalledAfter,
		retryPolicy:  options.retryPolicy,
		logger:       options.logger,
		events:       options.events,
	}, nil
}

// StalledJobs lists jobs that have been processing longer than the threshold
func (m *Monitor) StalledJobs(ctx context.Context) ([]*Job, error) {
	jobs, err := m.repo.StalledJobs(ctx, time.Now().Add(-m.stalledAfter))
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled jobs: %w", err)
	}
	return jobs, nil
}

// StalledCount counts jobs that have been processing longer than the threshold
func (m *Monitor) StalledCount(ctx context.Context) (int, error) {
	count, err := m.repo.StalledCount(ctx, time.Now().Add(-m.stalledAfter))
	if err != nil {
		return 0, fmt.Errorf("failed to count stalled jobs: %w", err)
	}
	return count, nil
}

// RequeueStalled pushes every stalled job through the failure path: the
// stalled attempt counts against the budget, so the job either reschedules
// with backoff or dead-letters. Returns the number of jobs swept.
func (m *Monitor) RequeueStalled(ctx context.Context) (int, error) {
	jobs, err := m.StalledJobs(ctx)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, job := range jobs {
		errorMsg := fmt.Sprintf("job stalled in processing for over %s", m.stalledAfter)

		event := jobEvent(EventJobStalled, job)
		event.Error = errorMsg
		publishEvent(ctx, m.events, event)

		if job.Attempts >= job.MaxAttempts {
			if err := m.repo.DeadLetterJob(ctx, job.ID, errorMsg, job.Attempts); err != nil {
				m.logger.Error("failed to dead-letter stalled job",
					slog.String("job_id", job.ID.String()),
					slog.String("error", err.Error()))
				continue
			}
		} else {
			nextRun := m.retryPolicy.NextRun(time.Now(), job.Attempts)
			if err := m.repo.RetryJob(ctx, job.ID, errorMsg, job.Attempts, nextRun); err != nil {
				m.logger.Error("failed to requeue stalled job",
					slog.String("job_id", job.ID.String()),
					slog.String("error", err.Error()))
				continue
			}
		}

		m.logger.Warn("stalled job swept",
			slog.String("job_id", job.ID.String()),
			slog.String("job_type", job.Type),
			slog.Int("attempt", job.Attempts))

		swept++
	}

	return swept, nil
}

// Run periodically sweeps stalled jobs until ctx is done; suitable for errgroup
func (m *Monitor) Run(ctx context.Context, interval time.Duration) func() error {
	return func() error {
		if interval <= 0 {
			interval = m.stalledAfter
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if _, err := m.RequeueStalled(ctx); err != nil {
					m.logger.Error("stalled job sweep failed",
						slog.String("error", err.Error()))
				}
			}
		}
	}
}

// MonitorOption is a functional option for configuring a Monitor
type MonitorOption func(*monitorOptions)

type monitorOptions struct {
	stalledAfter time.Duration
	retryPolicy  RetryPolicy
	logger       *slog.Logger
	events       EventBroadcaster
}

// WithStalledAfter sets how long a job may sit in processing before it
// counts as stalled. Must exceed the longest expected handler runtime.
func WithStalledAfter(d time.Duration) MonitorOption {
	return func(o *monitorOptions) {
		if d > 0 {
			o.stalledAfter = d
		}
	}
}

// WithMonitorRetryPolicy sets the backoff policy for swept jobs
func WithMonitorRetryPolicy(p RetryPolicy) MonitorOption {
	return func(o *monitorOptions) {
		o.retryPolicy = p
	}
}

// WithMonitorLogger sets the logger for the monitor
func WithMonitorLogger(logger *slog.Logger) MonitorOption {
	return func(o *monitorOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMonitorEvents sets the broadcaster for job:stalled events
func WithMonitorEvents(b EventBroadcaster) MonitorOption {
	return func(o *monitorOptions) {
		if b != nil {
			o.events = b
		}
	}
}
