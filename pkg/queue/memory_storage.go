package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements all queue repository interfaces for testing and
// local development. Claim ordering and idempotency semantics mirror the SQL
// backends exactly so components behave identically across stores.
type MemoryStorage struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*Job

	// Secondary indexes, maintained on every status transition
	byQueue  map[string][]uuid.UUID
	byStatus map[JobStatus][]uuid.UUID
	byKey    map[string]uuid.UUID // active idempotency keys
}

// NewMemoryStorage creates a new in-memory storage implementation
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		jobs:     make(map[uuid.UUID]*Job),
		byQueue:  make(map[string][]uuid.UUID),
		byStatus: make(map[JobStatus][]uuid.UUID),
		byKey:    make(map[string]uuid.UUID),
	}
}

// CreateJob implements EnqueuerRepository
func (ms *MemoryStorage) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.jobs[job.ID]; exists {
		return fmt.Errorf("job with ID %s already exists", job.ID)
	}

	// Enforce idempotency uniqueness among non-terminal jobs
	if job.IdempotencyKey != nil {
		key := idempotencyIndexKey(job.Queue, job.Type, *job.IdempotencyKey)
		if _, taken := ms.byKey[key]; taken {
			return ErrDuplicateJob
		}
		ms.byKey[key] = job.ID
	}

	// Clone job to prevent external modifications
	ms.jobs[job.ID] = cloneJob(job)

	ms.byQueue[job.Queue] = append(ms.byQueue[job.Queue], job.ID)
	ms.byStatus[job.Status] = append(ms.byStatus[job.Status], job.ID)

	return nil
}

// GetActiveJobByKey implements EnqueuerRepository
func (ms *MemoryStorage) GetActiveJobByKey(ctx context.Context, queue, jobType, idempotencyKey string) (*Job, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	jobID, ok := ms.byKey[idempotencyIndexKey(queue, jobType, idempotencyKey)]
	if !ok {
		return nil, ErrJobNotFound
	}

	job, exists := ms.jobs[jobID]
	if !exists {
		return nil, ErrJobNotFound
	}

	return cloneJob(job), nil
}

// ClaimJob implements WorkerRepository
func (ms *MemoryStorage) ClaimJob(ctx context.Context, workerID uuid.UUID, queues []string) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	var best *Job

	// Selection mirrors the SQL claim: rank ASC, scheduled_at ASC, id ASC
	for _, status := range []JobStatus{JobStatusPending, JobStatusFailedRetrying} {
		for _, jobID := range ms.byStatus[status] {
			job := ms.jobs[jobID]

			if !slices.Contains(queues, job.Queue) {
				continue
			}

			if job.ScheduledAt.After(now) {
				continue
			}

			if best == nil || claimOrderLess(job, best) {
				best = job
			}
		}
	}

	if best == nil {
		return nil, ErrNoJobToClaim
	}

	// Claim the job
	prevStatus := best.Status
	best.Status = JobStatusProcessing
	best.Attempts++
	best.WorkerID = &workerID
	startedAt := now
	best.StartedAt = &startedAt

	// Move between status buckets
	ms.removeFromStatusIndex(best.ID, prevStatus)
	ms.byStatus[JobStatusProcessing] = append(ms.byStatus[JobStatusProcessing], best.ID)

	return cloneJob(best), nil
}

// CompleteJob implements WorkerRepository
func (ms *MemoryStorage) CompleteJob(ctx context.Context, jobID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}

	if job.Status != JobStatusProcessing {
		return fmt.Errorf("%w: job %s is %s, not processing", ErrInvalidTransition, jobID, job.Status)
	}

	now := time.Now()
	job.Status = JobStatusCompleted
	job.CompletedAt = &now
	job.WorkerID = nil

	ms.removeFromStatusIndex(jobID, JobStatusProcessing)
	ms.byStatus[JobStatusCompleted] = append(ms.byStatus[JobStatusCompleted], jobID)
	ms.releaseIdempotencyKey(job)

	return nil
}

// RetryJob implements WorkerRepository
func (ms *MemoryStorage) RetryJob(ctx context.Context, jobID uuid.UUID, errorMsg string, attempt int, nextRun time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}

	if job.Status != JobStatusProcessing {
		return fmt.Errorf("%w: job %s is %s, not processing", ErrInvalidTransition, jobID, job.Status)
	}

	job.Status = JobStatusFailedRetrying
	job.ScheduledAt = nextRun
	job.LastError = &errorMsg
	job.LastErrorAttempt = attempt
	job.WorkerID = nil
	job.StartedAt = nil

	ms.removeFromStatusIndex(jobID, JobStatusProcessing)
	ms.byStatus[JobStatusFailedRetrying] = append(ms.byStatus[JobStatusFailedRetrying], jobID)

	return nil
}

// DeadLetterJob implements WorkerRepository
func (ms *MemoryStorage) DeadLetterJob(ctx context.Context, jobID uuid.UUID, errorMsg string, attempt int) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}

	if job.Status != JobStatusProcessing {
		return fmt.Errorf("%w: job %s is %s, not processing", ErrInvalidTransition, jobID, job.Status)
	}

	now := time.Now()
	job.Status = JobStatusDeadLetter
	job.LastError = &errorMsg
	job.LastErrorAttempt = attempt
	job.CompletedAt = &now
	job.WorkerID = nil

	ms.removeFromStatusIndex(jobID, JobStatusProcessing)
	ms.byStatus[JobStatusDeadLetter] = append(ms.byStatus[JobStatusDeadLetter], jobID)
	ms.releaseIdempotencyKey(job)

	return nil
}

// UpdateStepState implements WorkerRepository and merges patch into the job's
// step_state document; keys absent from patch keep their stored values
func (ms *MemoryStorage) UpdateStepState(ctx context.Context, jobID uuid.UUID, patch map[string]any) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}

	if job.StepState == nil {
		job.StepState = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		job.StepState[k] = v
	}

	return nil
}

// GetJob implements ManagerRepository
func (ms *MemoryStorage) GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return nil, ErrJobNotFound
	}

	return cloneJob(job), nil
}

// CancelJob implements ManagerRepository. The conditional update succeeds
// only while the job is still claimable; a processing or terminal job
// reports false without error.
func (ms *MemoryStorage) CancelJob(ctx context.Context, jobID uuid.UUID) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return false, ErrJobNotFound
	}

	if !job.Status.Claimable() {
		return false, nil
	}

	now := time.Now()
	prevStatus := job.Status
	job.Status = JobStatusCancelled
	job.CompletedAt = &now

	ms.removeFromStatusIndex(jobID, prevStatus)
	ms.byStatus[JobStatusCancelled] = append(ms.byStatus[JobStatusCancelled], jobID)
	ms.releaseIdempotencyKey(job)

	return true, nil
}

// QueueStats implements ManagerRepository
func (ms *MemoryStorage) QueueStats(ctx context.Context, queue string) (QueueStats, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	stats := QueueStats{Queue: queue}
	for _, jobID := range ms.byQueue[queue] {
		job, exists := ms.jobs[jobID]
		if !exists {
			continue
		}
		switch job.Status {
		case JobStatusPending:
			stats.Pending++
		case JobStatusProcessing:
			stats.Processing++
		case JobStatusCompleted:
			stats.Completed++
		case JobStatusFailedRetrying:
			stats.Retrying++
		case JobStatusDeadLetter:
			stats.DeadLetter++
		case JobStatusCancelled:
			stats.Cancelled++
		}
	}

	return stats, nil
}

// DeadLetterJobs implements ManagerRepository, newest failures first
func (ms *MemoryStorage) DeadLetterJobs(ctx context.Context, queue string, limit int) ([]*Job, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	jobs := make([]*Job, 0, limit)
	for _, jobID := range ms.byStatus[JobStatusDeadLetter] {
		job := ms.jobs[jobID]
		if queue != "" && job.Queue != queue {
			continue
		}
		jobs = append(jobs, cloneJob(job))
	}

	slices.SortFunc(jobs, func(a, b *Job) int {
		switch {
		case a.CompletedAt == nil || b.CompletedAt == nil:
			return 0
		case a.CompletedAt.After(*b.CompletedAt):
			return -1
		case b.CompletedAt.After(*a.CompletedAt):
			return 1
		}
		return 0
	})

	if len(jobs) > limit {
		jobs = jobs[:limit]
	}

	return jobs, nil
}

// RequeueDeadLetter implements ManagerRepository
func (ms *MemoryStorage) RequeueDeadLetter(ctx context.Context, jobID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}

	if job.Status != JobStatusDeadLetter {
		return ErrJobNotDeadLettered
	}

	// The freed idempotency key may have been reused while this job sat in
	// the dead-letter set; requeueing then would break key uniqueness
	if job.IdempotencyKey != nil {
		key := idempotencyIndexKey(job.Queue, job.Type, *job.IdempotencyKey)
		if _, taken := ms.byKey[key]; taken {
			return ErrDuplicateJob
		}
		ms.byKey[key] = job.ID
	}

	job.Status = JobStatusPending
	job.Attempts = 0
	job.ScheduledAt = time.Now()
	job.StartedAt = nil
	job.CompletedAt = nil
	job.WorkerID = nil

	ms.removeFromStatusIndex(jobID, JobStatusDeadLetter)
	ms.byStatus[JobStatusPending] = append(ms.byStatus[JobStatusPending], jobID)

	return nil
}

// StalledJobs implements MonitorRepository
func (ms *MemoryStorage) StalledJobs(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var jobs []*Job
	for _, jobID := range ms.byStatus[JobStatusProcessing] {
		job := ms.jobs[jobID]
		if job.StartedAt != nil && job.StartedAt.Before(cutoff) {
			jobs = append(jobs, cloneJob(job))
		}
	}

	return jobs, nil
}

// StalledCount implements MonitorRepository
func (ms *MemoryStorage) StalledCount(ctx context.Context, cutoff time.Time) (int, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	count := 0
	for _, jobID := range ms.byStatus[JobStatusProcessing] {
		job := ms.jobs[jobID]
		if job.StartedAt != nil && job.StartedAt.Before(cutoff) {
			count++
		}
	}

	return count, nil
}

// Helper methods

func (ms *MemoryStorage) removeFromStatusIndex(jobID uuid.UUID, status JobStatus) {
	ms.byStatus[status] = slices.DeleteFunc(ms.byStatus[status], func(id uuid.UUID) bool {
		return id == jobID
	})
}

// releaseIdempotencyKey frees the job's key once the job is terminal, letting
// later enqueues reuse it
func (ms *MemoryStorage) releaseIdempotencyKey(job *Job) {
	if job.IdempotencyKey == nil {
		return
	}
	key := idempotencyIndexKey(job.Queue, job.Type, *job.IdempotencyKey)
	if holder, ok := ms.byKey[key]; ok && holder == job.ID {
		delete(ms.byKey, key)
	}
}

func idempotencyIndexKey(queue, jobType, key string) string {
	return queue + "\x00" + jobType + "\x00" + key
}

// claimOrderLess reports whether a should be claimed before b:
// higher priority first, then earliest scheduled, then smallest id
func claimOrderLess(a, b *Job) bool {
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra < rb
	}
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	return strings.Compare(a.ID.String(), b.ID.String()) < 0
}

// cloneJob deep-copies a job so callers cannot mutate stored state
func cloneJob(job *Job) *Job {
	c := *job
	if job.Steps != nil {
		c.Steps = slices.Clone(job.Steps)
	}
	if job.StepState != nil {
		c.StepState = make(map[string]any, len(job.StepState))
		for k, v := range job.StepState {
			c.StepState[k] = v
		}
	}
	if job.Payload != nil {
		c.Payload = slices.Clone(job.Payload)
	}
	if job.IdempotencyKey != nil {
		key := *job.IdempotencyKey
		c.IdempotencyKey = &key
	}
	if job.WorkerID != nil {
		id := *job.WorkerID
		c.WorkerID = &id
	}
	if job.LastError != nil {
		msg := *job.LastError
		c.LastError = &msg
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		c.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
