package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/renderkit/renderkit/pkg/pg"
	"github.com/renderkit/renderkit/pkg/queue"
)

const jobColumns = `id, queue, job_type, payload, status, priority, attempts,
	max_attempts, scheduled_at, idempotency_key, steps, step_state, worker_id,
	last_error, last_error_attempt, created_at, started_at, completed_at`

// CreateJob implements queue.EnqueuerRepository
func (s *Storage) CreateJob(ctx context.Context, job *queue.Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`,
		job.ID, job.Queue, job.Type, job.Payload,
		string(job.Status), job.Priority.Rank(), job.Attempts, job.MaxAttempts,
		job.ScheduledAt, job.IdempotencyKey,
		stepsParam(job.Steps), stepStateParam(job.StepState), job.WorkerID,
		job.LastError, job.LastErrorAttempt,
		job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.ConstraintName == "jobs_pkey" {
				return fmt.Errorf("job with ID %s already exists", job.ID)
			}
			return queue.ErrDuplicateJob
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}

	return nil
}

// GetActiveJobByKey implements queue.EnqueuerRepository
func (s *Storage) GetActiveJobByKey(ctx context.Context, q, jobType, idempotencyKey string) (*queue.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE queue = $1 AND job_type = $2 AND idempotency_key = $3
		  AND status IN ('pending', 'processing', 'failed_retrying')
		LIMIT 1
	`, q, jobType, idempotencyKey)

	job, err := scanJob(row)
	if pg.IsNotFoundError(err) {
		return nil, queue.ErrJobNotFound
	}
	return job, err
}

// ClaimJob implements queue.WorkerRepository. FOR UPDATE SKIP LOCKED lets
// concurrent workers on separate connections pick distinct rows instead of
// queueing behind each other's row locks.
func (s *Storage) ClaimJob(ctx context.Context, workerID uuid.UUID, queues []string) (*queue.Job, error) {
	if len(queues) == 0 {
		return nil, queue.ErrNoJobToClaim
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'processing',
		    worker_id = $1,
		    attempts = attempts + 1,
		    started_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status IN ('pending', 'failed_retrying')
			  AND queue = ANY($2)
			  AND scheduled_at <= now()
			ORDER BY priority ASC, scheduled_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns+`
	`, workerID, queues)

	job, err := scanJob(row)
	if pg.IsNotFoundError(err) {
		return nil, queue.ErrNoJobToClaim
	}
	return job, err
}

// CompleteJob implements queue.WorkerRepository
func (s *Storage) CompleteJob(ctx context.Context, jobID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'completed', completed_at = now(), worker_id = NULL
		WHERE id = $1 AND status = 'processing'
	`, jobID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	return s.checkAffected(ctx, tag, jobID, "processing")
}

// RetryJob implements queue.WorkerRepository
func (s *Storage) RetryJob(ctx context.Context, jobID uuid.UUID, errorMsg string, attempt int, nextRun time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed_retrying',
		    scheduled_at = $2,
		    last_error = $3,
		    last_error_attempt = $4,
		    worker_id = NULL,
		    started_at = NULL
		WHERE id = $1 AND status = 'processing'
	`, jobID, nextRun, errorMsg, attempt)
	if err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}

	return s.checkAffected(ctx, tag, jobID, "processing")
}

// DeadLetterJob implements queue.WorkerRepository
func (s *Storage) DeadLetterJob(ctx context.Context, jobID uuid.UUID, errorMsg string, attempt int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'dead_letter',
		    last_error = $2,
		    last_error_attempt = $3,
		    completed_at = now(),
		    worker_id = NULL
		WHERE id = $1 AND status = 'processing'
	`, jobID, errorMsg, attempt)
	if err != nil {
		return fmt.Errorf("failed to dead-letter job: %w", err)
	}

	return s.checkAffected(ctx, tag, jobID, "processing")
}

// UpdateStepState implements queue.WorkerRepository. The || operator merges
// the patch into the stored JSONB document server-side, so concurrent
// progress writes cannot lose keys.
func (s *Storage) UpdateStepState(ctx context.Context, jobID uuid.UUID, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET step_state = COALESCE(step_state, '{}'::jsonb) || $2
		WHERE id = $1
	`, jobID, patch)
	if err != nil {
		return fmt.Errorf("failed to update step state: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return queue.ErrJobNotFound
	}

	return nil
}

// GetJob implements queue.ManagerRepository
func (s *Storage) GetJob(ctx context.Context, jobID uuid.UUID) (*queue.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE id = $1
	`, jobID)

	job, err := scanJob(row)
	if pg.IsNotFoundError(err) {
		return nil, queue.ErrJobNotFound
	}
	return job, err
}

// CancelJob implements queue.ManagerRepository. The status predicate is the
// atomic guard: a job already claimed or finished leaves zero rows affected.
func (s *Storage) CancelJob(ctx context.Context, jobID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'cancelled', completed_at = now()
		WHERE id = $1 AND status IN ('pending', 'failed_retrying')
	`, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}

	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Zero rows: either the job is gone or it is past cancelling
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return false, err
	}
	return false, nil
}

// QueueStats implements queue.ManagerRepository
func (s *Storage) QueueStats(ctx context.Context, q string) (queue.QueueStats, error) {
	stats := queue.QueueStats{Queue: q}

	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM jobs
		WHERE queue = $1
		GROUP BY status
	`, q)
	if err != nil {
		return stats, fmt.Errorf("failed to query queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		switch queue.JobStatus(status) {
		case queue.JobStatusPending:
			stats.Pending = count
		case queue.JobStatusProcessing:
			stats.Processing = count
		case queue.JobStatusCompleted:
			stats.Completed = count
		case queue.JobStatusFailedRetrying:
			stats.Retrying = count
		case queue.JobStatusDeadLetter:
			stats.DeadLetter = count
		case queue.JobStatusCancelled:
			stats.Cancelled = count
		}
	}

	return stats, rows.Err()
}

// DeadLetterJobs implements queue.ManagerRepository
func (s *Storage) DeadLetterJobs(ctx context.Context, q string, limit int) ([]*queue.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = 'dead_letter'`
	args := []any{}
	if q != "" {
		query += ` AND queue = $1`
		args = append(args, q)
	}
	query += fmt.Sprintf(` ORDER BY completed_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead-letter jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// RequeueDeadLetter implements queue.ManagerRepository. Moving the row back
// into pending re-enters the idempotency index; a conflict means the key was
// retaken by a fresh enqueue and surfaces as ErrDuplicateJob.
func (s *Storage) RequeueDeadLetter(ctx context.Context, jobID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'pending',
		    attempts = 0,
		    scheduled_at = now(),
		    started_at = NULL,
		    completed_at = NULL,
		    worker_id = NULL
		WHERE id = $1 AND status = 'dead_letter'
	`, jobID)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return queue.ErrDuplicateJob
		}
		return fmt.Errorf("failed to requeue dead-letter job: %w", err)
	}

	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
		return queue.ErrJobNotDeadLettered
	}

	return nil
}

// StalledJobs implements queue.MonitorRepository
func (s *Storage) StalledJobs(ctx context.Context, cutoff time.Time) ([]*queue.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'processing' AND started_at < $1
		ORDER BY started_at ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stalled jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// StalledCount implements queue.MonitorRepository
func (s *Storage) StalledCount(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM jobs
		WHERE status = 'processing' AND started_at < $1
	`, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count stalled jobs: %w", err)
	}
	return count, nil
}

// checkAffected resolves a zero-row conditional update into a precise error.
// The update itself is the atomic guard; the follow-up read is diagnostic only.
func (s *Storage) checkAffected(ctx context.Context, tag pgconn.CommandTag, jobID uuid.UUID, wantStatus string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s, want %s", queue.ErrInvalidTransition, jobID, job.Status, wantStatus)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*queue.Job, error) {
	var (
		job    queue.Job
		status string
		rank   int
	)

	err := row.Scan(
		&job.ID, &job.Queue, &job.Type, &job.Payload, &status, &rank,
		&job.Attempts, &job.MaxAttempts, &job.ScheduledAt, &job.IdempotencyKey,
		&job.Steps, &job.StepState, &job.WorkerID, &job.LastError,
		&job.LastErrorAttempt, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = queue.JobStatus(status)
	job.Priority = queue.PriorityFromRank(rank)
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]*queue.Job, error) {
	var jobs []*queue.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// stepsParam and stepStateParam encode empty values as SQL NULL instead of
// empty arrays or JSON null, keeping column semantics identical across
// storage backends.
func stepsParam(steps []string) any {
	if len(steps) == 0 {
		return nil
	}
	return steps
}

func stepStateParam(state map[string]any) any {
	if len(state) == 0 {
		return nil
	}
	return state
}
