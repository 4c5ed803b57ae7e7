package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// Handler processes claimed jobs of one type.
type Handler interface {
	Type() string
	Handle(ctx context.Context, job *ActiveJob) error
}

// JobHandlerFunc is a typed handler body; payload is the job's JSON payload
// decoded into T.
type JobHandlerFunc[T any] func(ctx context.Context, job *ActiveJob, payload T) error

type jobHandler[T any] struct {
	jobType string
	fn      JobHandlerFunc[T]
}

// NewJobHandler wraps a typed function into a Handler. The job type is
// derived from T's qualified name, matching what Enqueue derives for the
// same payload type.
func NewJobHandler[T any](fn JobHandlerFunc[T]) Handler {
	return &jobHandler[T]{jobType: jobTypeName((*T)(nil)), fn: fn}
}

// NewNamedJobHandler wraps a typed function into a Handler for an explicitly
// named job type, for jobs enqueued with WithJobType.
func NewNamedJobHandler[T any](jobType string, fn JobHandlerFunc[T]) Handler {
	return &jobHandler[T]{jobType: jobType, fn: fn}
}

func (h *jobHandler[T]) Type() string {
	return h.jobType
}

func (h *jobHandler[T]) Handle(ctx context.Context, job *ActiveJob) error {
	var payload T
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		// A payload that cannot decode will fail identically on every
		// attempt, so retrying is wasted work
		return Permanent(fmt.Errorf("failed to decode payload for job type %q: %w", h.jobType, err))
	}
	return h.fn(ctx, job, payload)
}

// StepStateRepository persists handler progress updates
type StepStateRepository interface {
	// UpdateStepState merges patch into the job's step_state document.
	// Keys absent from patch keep their stored values.
	UpdateStepState(ctx context.Context, jobID uuid.UUID, patch map[string]any) error
}

// ActiveJob is the handler's view of a claimed job: a snapshot of the row at
// claim time plus progress reporting. Snapshot fields are not refreshed
// mid-run; only the job's owning worker mutates the row.
type ActiveJob struct {
	Job

	steps StepStateRepository
}

// NewActiveJob binds a claimed job snapshot to its step-state sink.
// Exposed for storage and handler tests; workers construct these internally.
func NewActiveJob(job Job, steps StepStateRepository) *ActiveJob {
	return &ActiveJob{Job: job, steps: steps}
}

// SetStepState merges a single key into the job's step_state document
func (j *ActiveJob) SetStepState(ctx context.Context, key string, value any) error {
	return j.MergeStepState(ctx, map[string]any{key: value})
}

// MergeStepState merges patch into the job's step_state document. The local
// snapshot is updated alongside the store so handlers read their own writes.
func (j *ActiveJob) MergeStepState(ctx context.Context, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}
	if j.steps == nil {
		return ErrRepositoryNil
	}

	if err := j.steps.UpdateStepState(ctx, j.ID, patch); err != nil {
		return fmt.Errorf("failed to update step state for job %s: %w", j.ID, err)
	}

	if j.StepState == nil {
		j.StepState = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		j.StepState[k] = v
	}

	return nil
}

// EnterStep records the named phase the handler is in. Step names outside the
// job's declared Steps are rejected so progress readers can trust the value.
func (j *ActiveJob) EnterStep(ctx context.Context, step string) error {
	if len(j.Steps) > 0 && !slices.Contains(j.Steps, step) {
		return fmt.Errorf("step %q is not declared for job %s", step, j.ID)
	}
	return j.SetStepState(ctx, "current_step", step)
}
