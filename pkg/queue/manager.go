package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// ManagerRepository defines the interface for queue management operations
type ManagerRepository interface {
	// GetJob returns the job by id, or ErrJobNotFound
	GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error)

	// CancelJob atomically cancels a claimable job. The conditional update
	// returns false without error when the job exists but is processing or
	// terminal, and ErrJobNotFound when it does not exist.
	CancelJob(ctx context.Context, jobID uuid.UUID) (bool, error)

	// QueueStats returns job counts by status for one queue
	QueueStats(ctx context.Context, queue string) (QueueStats, error)

	// DeadLetterJobs returns dead-lettered jobs, newest first, optionally
	// filtered by queue (empty string matches all queues)
	DeadLetterJobs(ctx context.Context, queue string, limit int) ([]*Job, error)

	// RequeueDeadLetter resets a dead-lettered job to pending with a fresh
	// attempt budget. Returns ErrJobNotDeadLettered for jobs in any other
	// status.
	RequeueDeadLetter(ctx context.Context, jobID uuid.UUID) error
}

// Manager exposes the queue's operational surface: lookups, cancellation,
// per-queue stats, and dead-letter recovery. Route modules and admin tooling
// talk to the queue through a Manager; only workers claim.
type Manager struct {
	repo   ManagerRepository
	logger *slog.Logger
	events EventBroadcaster
}

// NewManager creates a new queue manager
func NewManager(repo ManagerRepository, opts ...ManagerOption) (*Manager, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &managerOptions{
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Manager{
		repo:   repo,
		logger: options.logger,
		events: options.events,
	}, nil
}

// Job returns the job by id
func (m *Manager) Job(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	job, err := m.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return job, nil
}

// CancelJob cancels a job that has not been claimed yet. Processing jobs are
// never interrupted: the claim already promised the job to a worker, so the
// caller gets false and decides whether to wait or ignore the outcome.
func (m *Manager) CancelJob(ctx context.Context, jobID uuid.UUID) (bool, error) {
	cancelled, err := m.repo.CancelJob(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}

	if cancelled {
		m.logger.Info("job cancelled", slog.String("job_id", jobID.String()))
		publishEvent(ctx, m.events, Event{Kind: EventJobCancelled, JobID: jobID})
	}

	return cancelled, nil
}

// Stats returns job counts by status for one queue
func (m *Manager) Stats(ctx context.Context, queue string) (QueueStats, error) {
	stats, err := m.repo.QueueStats(ctx, queue)
	if err != nil {
		return QueueStats{}, fmt.Errorf("failed to get stats for queue %q: %w", queue, err)
	}
	return stats, nil
}

// DeadLetterJobs returns terminally failed jobs for inspection, newest first.
// An empty queue matches all queues; limit caps the result (default 50).
func (m *Manager) DeadLetterJobs(ctx context.Context, queue string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}

	jobs, err := m.repo.DeadLetterJobs(ctx, queue, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead-letter jobs: %w", err)
	}
	return jobs, nil
}

// RequeueDeadLetter gives a dead-lettered job a fresh run: status back to
// pending, attempts reset, immediately claimable. The job keeps its payload,
// priority, and last_error history.
func (m *Manager) RequeueDeadLetter(ctx context.Context, jobID uuid.UUID) error {
	if err := m.repo.RequeueDeadLetter(ctx, jobID); err != nil {
		return fmt.Errorf("failed to requeue dead-letter job %s: %w", jobID, err)
	}

	m.logger.Info("dead-letter job requeued", slog.String("job_id", jobID.String()))

	return nil
}

// ManagerOption is a functional option for configuring a Manager
type ManagerOption func(*managerOptions)

type managerOptions struct {
	logger *slog.Logger
	events EventBroadcaster
}

// WithManagerLogger sets the logger for the manager
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(o *managerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithManagerEvents sets the broadcaster for cancellation events
func WithManagerEvents(b EventBroadcaster) ManagerOption {
	return func(o *managerOptions) {
		if b != nil {
			o.events = b
		}
	}
}
