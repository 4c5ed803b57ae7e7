package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// defaultMaxAttempts is the attempt budget jobs get when neither the
// enqueuer nor the call overrides it.
const defaultMaxAttempts = 3

// EnqueuerRepository is the slice of storage the enqueuer needs.
type EnqueuerRepository interface {
	// CreateJob persists a new job. Implementations must return
	// ErrDuplicateJob when the job carries an idempotency key that collides
	// with a non-terminal job of the same queue and type.
	CreateJob(ctx context.Context, job *Job) error

	// GetActiveJobByKey returns the non-terminal job matching
	// (queue, type, idempotencyKey), or ErrJobNotFound.
	GetActiveJobByKey(ctx context.Context, queue, jobType, idempotencyKey string) (*Job, error)
}

// Enqueuer inserts jobs into the queue. It carries per-instance defaults
// that individual Enqueue calls can override.
type Enqueuer struct {
	repo            EnqueuerRepository
	defaultQueue    string
	defaultPriority Priority
	defaultAttempts int
	events          EventBroadcaster
}

// NewEnqueuer builds an enqueuer around repo and applies opts.
func NewEnqueuer(repo EnqueuerRepository, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	e := &Enqueuer{
		repo:            repo,
		defaultQueue:    DefaultQueueName,
		defaultPriority: PriorityDefault,
		defaultAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Enqueue persists one job built from payload and opts.
//
// The returned bool reports deduplication: when an idempotency key matches a
// non-terminal job of the same queue and type, that existing job is returned
// unchanged with deduplicated == true and nothing new is inserted. Dedup
// semantics follow the storage layer's unique constraint, so the guarantee
// holds across concurrent enqueuers.
func (e *Enqueuer) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) (*Job, bool, error) {
	if payload == nil {
		return nil, false, ErrPayloadNil
	}

	spec := jobSpec{
		queue:       e.defaultQueue,
		priority:    e.defaultPriority,
		maxAttempts: e.defaultAttempts,
	}
	for _, opt := range opts {
		opt(&spec)
	}
	if !spec.priority.Valid() {
		return nil, false, ErrInvalidPriority
	}

	job, err := spec.build(payload)
	if err != nil {
		return nil, false, err
	}

	if err := e.repo.CreateJob(ctx, job); err != nil {
		if errors.Is(err, ErrDuplicateJob) && job.IdempotencyKey != nil {
			return e.resolveDuplicate(ctx, job)
		}
		return nil, false, fmt.Errorf("failed to create job %q in queue %q: %w", job.Type, job.Queue, err)
	}

	publishEvent(ctx, e.events, jobEvent(EventJobCreated, job))

	return job, false, nil
}

// resolveDuplicate loads the existing job that won the idempotency race.
func (e *Enqueuer) resolveDuplicate(ctx context.Context, job *Job) (*Job, bool, error) {
	existing, err := e.repo.GetActiveJobByKey(ctx, job.Queue, job.Type, *job.IdempotencyKey)
	if err != nil {
		// The winning job finished between insert and lookup; surface the
		// conflict rather than racing the terminal transition.
		if errors.Is(err, ErrJobNotFound) {
			return nil, false, fmt.Errorf("idempotency key %q already used: %w", *job.IdempotencyKey, ErrDuplicateJob)
		}
		return nil, false, fmt.Errorf("failed to resolve duplicate job for key %q: %w", *job.IdempotencyKey, err)
	}

	publishEvent(ctx, e.events, jobEvent(EventJobDeduplicated, existing))

	return existing, true, nil
}

// build materializes the job row described by the spec. The payload's type
// names the job unless an explicit type was chosen.
func (s *jobSpec) build(payload any) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload %T: %w", payload, err)
	}

	now := time.Now()
	job := &Job{
		ID:          uuid.New(),
		Queue:       s.queue,
		Type:        s.jobType,
		Payload:     raw,
		Status:      JobStatusPending,
		Priority:    s.priority,
		MaxAttempts: s.maxAttempts,
		ScheduledAt: s.startAt(now),
		Steps:       s.steps,
		CreatedAt:   now,
	}
	if job.Type == "" {
		job.Type = jobTypeName(payload)
	}
	if s.idempotencyKey != "" {
		key := s.idempotencyKey
		job.IdempotencyKey = &key
	}
	if len(job.Steps) > 0 {
		job.StepState = map[string]any{}
	}

	return job, nil
}

// startAt resolves when the job becomes claimable: an absolute schedule
// wins over a relative delay.
func (s *jobSpec) startAt(now time.Time) time.Time {
	if s.notBefore != nil {
		return *s.notBefore
	}
	if s.delay > 0 {
		return now.Add(s.delay)
	}
	return now
}
