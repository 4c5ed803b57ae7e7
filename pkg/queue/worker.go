package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/renderkit/renderkit/pkg/logger"
)

// WorkerRepository defines the storage operations the worker drives.
type WorkerRepository interface {
	// ClaimJob atomically claims the next claimable job across queues:
	// status in (pending, failed_retrying), scheduled_at <= now, ordered by
	// priority rank, scheduled_at, id. The claim sets status=processing,
	// worker_id, started_at and increments attempts in the same statement.
	// Returns ErrNoJobToClaim when nothing is eligible.
	ClaimJob(ctx context.Context, workerID uuid.UUID, queues []string) (*Job, error)

	// CompleteJob marks a processing job completed
	CompleteJob(ctx context.Context, jobID uuid.UUID) error

	// RetryJob reschedules a processing job: status=failed_retrying,
	// scheduled_at=nextRun, last_error recorded against the given attempt
	RetryJob(ctx context.Context, jobID uuid.UUID, errorMsg string, attempt int, nextRun time.Time) error

	// DeadLetterJob terminally fails a processing job, retaining last_error
	DeadLetterJob(ctx context.Context, jobID uuid.UUID, errorMsg string, attempt int) error

	// UpdateStepState merges handler progress into the job's step_state
	UpdateStepState(ctx context.Context, jobID uuid.UUID, patch map[string]any) error
}

// Worker claims jobs from its queues and runs their handlers.
//
// Claiming is poll-driven: each tick drains eligible jobs into free
// concurrency slots. Handlers run in their own goroutines under a per-job
// deadline detached from the worker lifecycle, so a stopping worker lets
// in-flight jobs finish and settle.
type Worker struct {
	repo        WorkerRepository
	id          uuid.UUID
	queues      []string
	concurrency int

	pollInterval time.Duration
	jobTimeout   time.Duration
	retryPolicy  RetryPolicy
	log          *slog.Logger
	events       EventBroadcaster

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	sem      chan struct{}
	inflight sync.WaitGroup
}

// NewWorker builds a worker with the default claim settings and applies opts.
func NewWorker(repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	w := &Worker{
		repo:         repo,
		id:           uuid.New(),
		queues:       []string{DefaultQueueName},
		concurrency:  4,
		pollInterval: time.Second,
		jobTimeout:   15 * time.Minute,
		retryPolicy:  DefaultRetryPolicy(),
		log:          slog.Default(),
		handlers:     make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.sem = make(chan struct{}, w.concurrency)

	return w, nil
}

// ID returns the identity this worker claims jobs under.
func (w *Worker) ID() uuid.UUID {
	return w.id
}

// RegisterHandler registers handler under its job type. Each type has
// exactly one handler; a second registration fails with
// ErrHandlerAlreadyRegistered.
func (w *Worker) RegisterHandler(handler Handler) error {
	if handler == nil {
		return nil
	}

	w.handlersMu.Lock()
	defer w.handlersMu.Unlock()

	if _, taken := w.handlers[handler.Type()]; taken {
		return fmt.Errorf("%w: %s", ErrHandlerAlreadyRegistered, handler.Type())
	}
	w.handlers[handler.Type()] = handler
	return nil
}

// RegisterHandlers registers handlers in order, stopping at the first
// conflict.
func (w *Worker) RegisterHandlers(handlers ...Handler) error {
	for _, h := range handlers {
		if err := w.RegisterHandler(h); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the claim loop in the background. It fails with
// ErrNoHandlers before any handler is registered and with ErrWorkerRunning
// on a worker that is already running.
func (w *Worker) Start(ctx context.Context) error {
	w.handlersMu.RLock()
	registered := len(w.handlers)
	w.handlersMu.RUnlock()
	if registered == 0 {
		return ErrNoHandlers
	}

	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return ErrWorkerRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel, w.done = cancel, done
	w.mu.Unlock()

	go w.run(runCtx, done)

	w.log.InfoContext(ctx, "worker started",
		logger.WorkerID(w.id),
		slog.Any("queues", w.queues),
		slog.Int("concurrency", w.concurrency))
	publishEvent(ctx, w.events, Event{Kind: EventWorkerStarted, WorkerID: w.id})

	return nil
}

// Stop cancels claiming and blocks until in-flight jobs have settled.
func (w *Worker) Stop() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return ErrWorkerNotRunning
	}

	cancel()
	w.log.Info("worker stopping", logger.WorkerID(w.id))
	<-done
	w.log.Info("worker stopped", logger.WorkerID(w.id))

	return nil
}

// Run adapts the worker to an errgroup: it starts the claim loop, blocks on
// ctx, and stops the worker when the group winds down.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return w.Stop()
	}
}

// run owns the poll loop. Every inflight.Add happens here, so the final
// Wait cannot race a concurrent Add.
func (w *Worker) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			// Drain the backlog into free slots before sleeping again; one
			// claim per tick would starve busy queues.
			for w.dispatch(ctx) {
			}
		}
	}

	w.inflight.Wait()
}

// dispatch claims one job and hands it to a goroutine, reporting whether
// the tick's drain should continue. A full slot table, an empty queue, or a
// claim error ends the drain.
func (w *Worker) dispatch(ctx context.Context) bool {
	select {
	case w.sem <- struct{}{}:
	default:
		w.log.DebugContext(ctx, "all worker slots busy", logger.WorkerID(w.id))
		return false
	}

	job, err := w.claim(ctx)
	if err != nil || job == nil {
		<-w.sem
		if err != nil {
			w.log.ErrorContext(ctx, "claim failed", logger.WorkerID(w.id), logger.Error(err))
		}
		return false
	}

	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		defer func() { <-w.sem }()
		w.process(ctx, job)
	}()

	return true
}

// claim pulls the next eligible job. An empty queue and a cancelled context
// are quiet non-events.
func (w *Worker) claim(ctx context.Context) (*Job, error) {
	job, err := w.repo.ClaimJob(ctx, w.id, w.queues)
	if err != nil {
		if errors.Is(err, ErrNoJobToClaim) || errors.Is(err, context.Canceled) {
			return nil, nil
		}
		return nil, err
	}
	if job == nil {
		return nil, nil
	}

	w.log.DebugContext(ctx, "job claimed",
		logger.WorkerID(w.id),
		logger.JobID(job.ID),
		logger.JobType(job.Type),
		logger.Queue(job.Queue),
		logger.Attempt(job.Attempts))
	publishEvent(ctx, w.events, jobEvent(EventJobStarted, job))

	return job, nil
}

// process runs one claimed job to a settled outcome. Settlement uses a
// context that survives worker cancellation, so jobs finishing during a
// graceful stop still record their result.
func (w *Worker) process(ctx context.Context, job *Job) {
	start := time.Now()
	finishCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("handler panicked",
				logger.WorkerID(w.id),
				logger.JobID(job.ID),
				logger.JobType(job.Type),
				slog.Any("panic", r))
			w.settle(finishCtx, job, fmt.Errorf("panic in handler: %v", r), time.Since(start))
		}
	}()

	handler, ok := w.lookup(job.Type)
	if !ok {
		// A missing handler cannot improve by retrying; the job parks in
		// the dead-letter set until the handler ships and an operator
		// requeues it.
		w.log.Error("no handler registered for job type",
			logger.WorkerID(w.id),
			logger.JobID(job.ID),
			logger.JobType(job.Type))
		w.deadLetter(finishCtx, job, "no handler registered for job type: "+job.Type)
		return
	}

	jobCtx, cancel := context.WithTimeout(finishCtx, w.jobTimeout)
	defer cancel()

	err := handler.Handle(jobCtx, NewActiveJob(*job, w.repo))
	w.settle(finishCtx, job, err, time.Since(start))
}

func (w *Worker) lookup(jobType string) (Handler, bool) {
	w.handlersMu.RLock()
	defer w.handlersMu.RUnlock()
	h, ok := w.handlers[jobType]
	return h, ok
}

// settle records the outcome of one attempt.
//
// Failure routing: permanent errors and an exhausted attempt budget
// dead-letter the job; every other error reschedules it through the retry
// policy.
func (w *Worker) settle(ctx context.Context, job *Job, execErr error, took time.Duration) {
	if execErr == nil {
		if err := w.repo.CompleteJob(ctx, job.ID); err != nil {
			w.log.ErrorContext(ctx, "completion write failed",
				logger.WorkerID(w.id), logger.JobID(job.ID), logger.Error(err))
			return
		}
		w.log.InfoContext(ctx, "job completed",
			logger.WorkerID(w.id),
			logger.JobID(job.ID),
			logger.JobType(job.Type),
			logger.Queue(job.Queue),
			logger.Duration(took))
		publishEvent(ctx, w.events, jobEvent(EventJobCompleted, job))
		return
	}

	w.log.ErrorContext(ctx, "job failed",
		logger.WorkerID(w.id),
		logger.JobID(job.ID),
		logger.JobType(job.Type),
		logger.Attempt(job.Attempts),
		slog.Int("max_attempts", job.MaxAttempts),
		logger.Duration(took),
		logger.Error(execErr))

	if errors.Is(execErr, ErrPermanent) || job.Attempts >= job.MaxAttempts {
		w.deadLetter(ctx, job, execErr.Error())
		return
	}

	nextRun := w.retryPolicy.NextRun(time.Now(), job.Attempts)
	if err := w.repo.RetryJob(ctx, job.ID, execErr.Error(), job.Attempts, nextRun); err != nil {
		w.log.ErrorContext(ctx, "retry write failed",
			logger.WorkerID(w.id), logger.JobID(job.ID), logger.Error(err))
		return
	}

	w.log.InfoContext(ctx, "job scheduled for retry",
		logger.WorkerID(w.id),
		logger.JobID(job.ID),
		logger.JobType(job.Type),
		logger.Attempt(job.Attempts),
		slog.Time("next_run", nextRun))

	ev := jobEvent(EventJobRetrying, job)
	ev.Error = execErr.Error()
	publishEvent(ctx, w.events, ev)
}

// deadLetter terminally parks the job, keeping reason as its last error.
func (w *Worker) deadLetter(ctx context.Context, job *Job, reason string) {
	if err := w.repo.DeadLetterJob(ctx, job.ID, reason, job.Attempts); err != nil {
		w.log.ErrorContext(ctx, "dead-letter write failed",
			logger.WorkerID(w.id), logger.JobID(job.ID), logger.Error(err))
		return
	}

	w.log.WarnContext(ctx, "job dead-lettered",
		logger.WorkerID(w.id),
		logger.JobID(job.ID),
		logger.JobType(job.Type),
		logger.Attempt(job.Attempts))

	ev := jobEvent(EventJobDeadLetter, job)
	ev.Error = reason
	publishEvent(ctx, w.events, ev)
}
