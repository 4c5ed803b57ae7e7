package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

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

	steps, stepState, err := encodeStepColumns(job)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID.String(), job.Queue, job.Type, job.Payload,
		string(job.Status), job.Priority.Rank(), job.Attempts, job.MaxAttempts,
		job.ScheduledAt.UnixNano(), nullString(job.IdempotencyKey),
		steps, stepState, nullUUID(job.WorkerID),
		nullString(job.LastError), job.LastErrorAttempt,
		job.CreatedAt.UnixNano(), nullTime(job.StartedAt), nullTime(job.CompletedAt),
	)
	if err != nil {
		switch {
		case isPrimaryKeyError(err):
			return fmt.Errorf("job with ID %s already exists", job.ID)
		case isUniqueConstraintError(err):
			return queue.ErrDuplicateJob
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}

	return nil
}

// GetActiveJobByKey implements queue.EnqueuerRepository
func (s *Storage) GetActiveJobByKey(ctx context.Context, q, jobType, idempotencyKey string) (*queue.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE queue = ? AND job_type = ? AND idempotency_key = ?
		  AND status IN (?, ?, ?)
		LIMIT 1
	`, q, jobType, idempotencyKey,
		string(queue.JobStatusPending), string(queue.JobStatusProcessing), string(queue.JobStatusFailedRetrying))

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrJobNotFound
	}
	return job, err
}

// ClaimJob implements queue.WorkerRepository. One statement claims the oldest
// due job of the highest priority; RETURNING hands back the claimed row, so
// concurrent claimers can never observe the same job.
func (s *Storage) ClaimJob(ctx context.Context, workerID uuid.UUID, queues []string) (*queue.Job, error) {
	if len(queues) == 0 {
		return nil, queue.ErrNoJobToClaim
	}

	now := time.Now()
	args := make([]any, 0, len(queues)+5)
	args = append(args, workerID.String(), now.UnixNano(),
		string(queue.JobStatusPending), string(queue.JobStatusFailedRetrying))
	for _, q := range queues {
		args = append(args, q)
	}
	args = append(args, now.UnixNano())

	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'processing',
		    worker_id = ?,
		    attempts = attempts + 1,
		    started_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status IN (?, ?)
			  AND queue IN (`+placeholders(len(queues))+`)
			  AND scheduled_at <= ?
			ORDER BY priority ASC, scheduled_at ASC, id ASC
			LIMIT 1
		)
		RETURNING `+jobColumns+`
	`, args...)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrNoJobToClaim
	}
	return job, err
}

// CompleteJob implements queue.WorkerRepository
func (s *Storage) CompleteJob(ctx context.Context, jobID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed', completed_at = ?, worker_id = NULL
		WHERE id = ? AND status = 'processing'
	`, time.Now().UnixNano(), jobID.String())
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	return s.checkAffected(ctx, res, jobID, "processing")
}

// RetryJob implements queue.WorkerRepository
func (s *Storage) RetryJob(ctx context.Context, jobID uuid.UUID, errorMsg string, attempt int, nextRun time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed_retrying',
		    scheduled_at = ?,
		    last_error = ?,
		    last_error_attempt = ?,
		    worker_id = NULL,
		    started_at = NULL
		WHERE id = ? AND status = 'processing'
	`, nextRun.UnixNano(), errorMsg, attempt, jobID.String())
	if err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}

	return s.checkAffected(ctx, res, jobID, "processing")
}

// DeadLetterJob implements queue.WorkerRepository
func (s *Storage) DeadLetterJob(ctx context.Context, jobID uuid.UUID, errorMsg string, attempt int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'dead_letter',
		    last_error = ?,
		    last_error_attempt = ?,
		    completed_at = ?,
		    worker_id = NULL
		WHERE id = ? AND status = 'processing'
	`, errorMsg, attempt, time.Now().UnixNano(), jobID.String())
	if err != nil {
		return fmt.Errorf("failed to dead-letter job: %w", err)
	}

	return s.checkAffected(ctx, res, jobID, "processing")
}

// UpdateStepState implements queue.WorkerRepository. json_patch merges the
// patch server-side, so concurrent progress writes from handler and monitor
// cannot lose keys.
func (s *Storage) UpdateStepState(ctx context.Context, jobID uuid.UUID, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}

	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal step state patch: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET step_state = json_patch(COALESCE(step_state, '{}'), ?)
		WHERE id = ?
	`, string(raw), jobID.String())
	if err != nil {
		return fmt.Errorf("failed to update step state: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return queue.ErrJobNotFound
	}

	return nil
}

// GetJob implements queue.ManagerRepository
func (s *Storage) GetJob(ctx context.Context, jobID uuid.UUID) (*queue.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE id = ?
	`, jobID.String())

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrJobNotFound
	}
	return job, err
}

// CancelJob implements queue.ManagerRepository. The status predicate is the
// atomic guard: a job already claimed or finished leaves zero rows affected.
func (s *Storage) CancelJob(ctx context.Context, jobID uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'cancelled', completed_at = ?
		WHERE id = ? AND status IN ('pending', 'failed_retrying')
	`, time.Now().UnixNano(), jobID.String())
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 1 {
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM jobs
		WHERE queue = ?
		GROUP BY status
	`, q)
	if err != nil {
		return queue.QueueStats{}, fmt.Errorf("failed to query queue stats: %w", err)
	}
	defer rows.Close()

	stats := queue.QueueStats{Queue: q}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return queue.QueueStats{}, fmt.Errorf("failed to scan stats row: %w", err)
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

// DeadLetterJobs implements queue.ManagerRepository, newest failures first
func (s *Storage) DeadLetterJobs(ctx context.Context, q string, limit int) ([]*queue.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = 'dead_letter'`
	args := []any{}
	if q != "" {
		query += ` AND queue = ?`
		args = append(args, q)
	}
	query += `
		ORDER BY completed_at DESC
		LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead-letter jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*queue.Job, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// RequeueDeadLetter implements queue.ManagerRepository. Re-entering the
// partial unique index fails if another active job took the freed
// idempotency key in the meantime.
func (s *Storage) RequeueDeadLetter(ctx context.Context, jobID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending',
		    attempts = 0,
		    scheduled_at = ?,
		    started_at = NULL,
		    completed_at = NULL,
		    worker_id = NULL
		WHERE id = ? AND status = 'dead_letter'
	`, time.Now().UnixNano(), jobID.String())
	if err != nil {
		if isUniqueConstraintError(err) {
			return queue.ErrDuplicateJob
		}
		return fmt.Errorf("failed to requeue dead-letter job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
		return queue.ErrJobNotDeadLettered
	}

	return nil
}

// StalledJobs implements queue.MonitorRepository
func (s *Storage) StalledJobs(ctx context.Context, cutoff time.Time) ([]*queue.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'processing' AND started_at < ?
		ORDER BY started_at ASC
	`, cutoff.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query stalled jobs: %w", err)
	}
	defer rows.Close()

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

// StalledCount implements queue.MonitorRepository
func (s *Storage) StalledCount(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM jobs
		WHERE status = 'processing' AND started_at < ?
	`, cutoff.UnixNano()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count stalled jobs: %w", err)
	}

	return count, nil
}

// checkAffected turns a zero-row conditional update into the precise error:
// the job is either missing or not in the required status.
func (s *Storage) checkAffected(ctx context.Context, res sql.Result, jobID uuid.UUID, want string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s, not %s", queue.ErrInvalidTransition, jobID, job.Status, want)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*queue.Job, error) {
	var (
		job              queue.Job
		id               string
		status           string
		priorityRank     int
		scheduledAt      int64
		createdAt        int64
		idempotencyKey   sql.NullString
		steps, stepState sql.NullString
		workerID         sql.NullString
		lastError        sql.NullString
		startedAt        sql.NullInt64
		completedAt      sql.NullInt64
	)

	err := row.Scan(
		&id, &job.Queue, &job.Type, &job.Payload, &status, &priorityRank,
		&job.Attempts, &job.MaxAttempts, &scheduledAt, &idempotencyKey,
		&steps, &stepState, &workerID, &lastError, &job.LastErrorAttempt,
		&createdAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("failed to parse job id %q: %w", id, err)
	}

	job.Status = queue.JobStatus(status)
	job.Priority = queue.PriorityFromRank(priorityRank)
	job.ScheduledAt = time.Unix(0, scheduledAt)
	job.CreatedAt = time.Unix(0, createdAt)

	if idempotencyKey.Valid {
		job.IdempotencyKey = &idempotencyKey.String
	}
	if steps.Valid && steps.String != "" {
		if err := json.Unmarshal([]byte(steps.String), &job.Steps); err != nil {
			return nil, fmt.Errorf("failed to decode steps for job %s: %w", id, err)
		}
	}
	if stepState.Valid && stepState.String != "" {
		if err := json.Unmarshal([]byte(stepState.String), &job.StepState); err != nil {
			return nil, fmt.Errorf("failed to decode step state for job %s: %w", id, err)
		}
	}
	if workerID.Valid {
		wid, err := uuid.Parse(workerID.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse worker id %q: %w", workerID.String, err)
		}
		job.WorkerID = &wid
	}
	if lastError.Valid {
		job.LastError = &lastError.String
	}
	if startedAt.Valid {
		t := time.Unix(0, startedAt.Int64)
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64)
		job.CompletedAt = &t
	}

	return &job, nil
}

func encodeStepColumns(job *queue.Job) (steps, stepState sql.NullString, err error) {
	if len(job.Steps) > 0 {
		raw, err := json.Marshal(job.Steps)
		if err != nil {
			return steps, stepState, fmt.Errorf("failed to encode steps: %w", err)
		}
		steps = sql.NullString{String: string(raw), Valid: true}
	}
	if job.StepState != nil {
		raw, err := json.Marshal(job.StepState)
		if err != nil {
			return steps, stepState, fmt.Errorf("failed to encode step state: %w", err)
		}
		stepState = sql.NullString{String: string(raw), Valid: true}
	}
	return steps, stepState, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullUUID(id *uuid.UUID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
