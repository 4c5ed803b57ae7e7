package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/renderkit/renderkit/pkg/queue"
)

// Enqueuer is the slice of the queue enqueuer the runner needs.
// *queue.Enqueuer satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload any, opts ...queue.EnqueueOption) (*queue.Job, bool, error)
}

// Runner turns automation firings into queued jobs and resolves execution
// records when those jobs finish. One runner serves all automations; the
// definitions themselves live with the caller.
type Runner struct {
	store     ExecutionStore
	enqueuer  Enqueuer
	events    queue.EventBroadcaster
	queueName string
	log       *slog.Logger
}

// RunnerOption is a functional option for configuring a Runner
type RunnerOption func(*runnerOptions)

type runnerOptions struct {
	events    queue.EventBroadcaster
	queueName string
	logger    *slog.Logger
}

// WithRunnerEvents sets the broadcaster the runner subscribes to for
// execution resolution. Without it, executions stay queued until something
// else resolves them.
func WithRunnerEvents(b queue.EventBroadcaster) RunnerOption {
	return func(o *runnerOptions) {
		if b != nil {
			o.events = b
		}
	}
}

// WithRunnerQueue overrides the queue automation jobs are enqueued on
func WithRunnerQueue(name string) RunnerOption {
	return func(o *runnerOptions) {
		if name != "" {
			o.queueName = name
		}
	}
}

// WithRunnerLogger sets the logger for the runner
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(o *runnerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewRunner creates an automation runner backed by the given execution
// store and enqueuer.
func NewRunner(store ExecutionStore, enqueuer Enqueuer, opts ...RunnerOption) (*Runner, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if enqueuer == nil {
		return nil, ErrEnqueuerNil
	}

	options := &runnerOptions{
		queueName: queue.QueueAutomation,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Runner{
		store:     store,
		enqueuer:  enqueuer,
		events:    options.events,
		queueName: options.queueName,
		log:       options.logger,
	}, nil
}

// TriggerOption is a functional option for the Trigger method
type TriggerOption func(*triggerOptions)

type triggerOptions struct {
	idempotencyKey string
}

// WithIdempotencyKey collapses concurrent firings that carry the same key
// onto one execution; later callers get ErrExecutionInProgress
func WithIdempotencyKey(key string) TriggerOption {
	return func(o *triggerOptions) {
		if key != "" {
			o.idempotencyKey = key
		}
	}
}

// Trigger fires the automation: it records an execution and enqueues exactly
// one job carrying the automation's action list. The job's type is derived
// from the action list and its priority from the trigger kind.
//
// When the idempotency key matches an in-flight firing, the queue
// deduplicates the enqueue; the freshly created execution is rolled back and
// ErrExecutionInProgress is returned, so one firing never yields two
// executions.
func (r *Runner) Trigger(ctx context.Context, a *Automation, payload any, opts ...TriggerOption) (*TriggerResult, error) {
	if a == nil {
		return nil, ErrAutomationNil
	}
	if !a.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrAutomationDisabled, a.Name)
	}
	if len(a.Actions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoActions, a.Name)
	}

	options := &triggerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	var triggerData json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal trigger payload: %w", err)
		}
		triggerData = raw
	}

	exec := &Execution{
		ID:           uuid.New(),
		AutomationID: a.ID,
		Status:       ExecutionStatusQueued,
		CreatedAt:    time.Now(),
	}
	if err := r.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	enqueueOpts := []queue.EnqueueOption{
		queue.WithQueue(r.queueName),
		queue.WithJobType(JobTypeFor(a.Actions)),
		queue.WithPriority(a.Trigger.Kind.Priority()),
	}
	if options.idempotencyKey != "" {
		enqueueOpts = append(enqueueOpts, queue.WithIdempotencyKey(options.idempotencyKey))
	}

	job, deduplicated, err := r.enqueuer.Enqueue(ctx, RunPayload{
		AutomationID: a.ID,
		ExecutionID:  exec.ID,
		Name:         a.Name,
		Actions:      a.Actions,
		TriggerData:  triggerData,
	}, enqueueOpts...)
	if err != nil {
		// The execution never got a job; drop it rather than leave an
		// orphan that can never resolve.
		r.rollbackExecution(ctx, exec.ID)
		return nil, fmt.Errorf("failed to enqueue automation job: %w", err)
	}

	if deduplicated {
		r.rollbackExecution(ctx, exec.ID)
		r.log.InfoContext(ctx, "automation firing deduplicated",
			slog.String("automation_id", a.ID.String()),
			slog.String("job_id", job.ID.String()))
		return nil, fmt.Errorf("%w: job %s", ErrExecutionInProgress, job.ID)
	}

	if err := r.store.SetExecutionJob(ctx, exec.ID, job.ID); err != nil {
		return nil, fmt.Errorf("failed to link execution to job: %w", err)
	}

	a.TriggerCount++
	now := time.Now()
	a.LastTriggeredAt = &now

	r.log.InfoContext(ctx, "automation triggered",
		slog.String("automation_id", a.ID.String()),
		slog.String("automation_name", a.Name),
		slog.String("execution_id", exec.ID.String()),
		slog.String("job_id", job.ID.String()),
		slog.String("trigger", string(a.Trigger.Kind)))

	return &TriggerResult{ExecutionID: exec.ID, JobID: job.ID}, nil
}

// Execution looks up one execution record.
func (r *Runner) Execution(ctx context.Context, id uuid.UUID) (*Execution, error) {
	exec, err := r.store.GetExecution(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get execution %s: %w", id, err)
	}
	return exec, nil
}

// ExecutionsByAutomation lists an automation's executions, newest first.
func (r *Runner) ExecutionsByAutomation(ctx context.Context, automationID uuid.UUID) ([]*Execution, error) {
	executions, err := r.store.GetExecutionsByAutomation(ctx, automationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return executions, nil
}

// Run returns the execution resolution loop for errgroup composition. It
// subscribes to job lifecycle events and marks executions succeeded or
// failed when their jobs reach a terminal state.
func (r *Runner) Run(ctx context.Context) func() error {
	return func() error {
		if r.events == nil {
			return errors.New("runner has no event broadcaster configured")
		}

		sub := r.events.Subscribe(ctx)
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case msg, ok := <-sub.Receive(ctx):
				if !ok {
					return nil
				}
				r.handleEvent(ctx, msg.Data)
			}
		}
	}
}

func (r *Runner) handleEvent(ctx context.Context, event queue.Event) {
	if event.Queue != r.queueName {
		return
	}

	var (
		status ExecutionStatus
		errMsg string
	)
	switch event.Kind {
	case queue.EventJobCompleted:
		status = ExecutionStatusSucceeded
	case queue.EventJobDeadLetter:
		status = ExecutionStatusFailed
		errMsg = event.Error
	default:
		return
	}

	exec, err := r.store.ResolveExecutionByJob(ctx, event.JobID, status, errMsg)
	if err != nil {
		// Jobs enqueued outside Trigger (or records already evicted) have
		// no execution to resolve; that is not a fault.
		if !errors.Is(err, ErrExecutionNotFound) {
			r.log.ErrorContext(ctx, "failed to resolve execution",
				slog.String("job_id", event.JobID.String()),
				slog.String("error", err.Error()))
		}
		return
	}

	r.log.InfoContext(ctx, "execution resolved",
		slog.String("execution_id", exec.ID.String()),
		slog.String("automation_id", exec.AutomationID.String()),
		slog.String("job_id", event.JobID.String()),
		slog.String("status", string(status)))
}

func (r *Runner) rollbackExecution(ctx context.Context, id uuid.UUID) {
	if err := r.store.DeleteExecution(ctx, id); err != nil && !errors.Is(err, ErrExecutionNotFound) {
		r.log.ErrorContext(ctx, "failed to roll back execution",
			slog.String("execution_id", id.String()),
			slog.String("error", err.Error()))
	}
}
