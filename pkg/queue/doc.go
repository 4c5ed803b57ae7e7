// Package queue provides a storage-agnostic, priority-ordered job queue for
// render and automation workloads, with idempotent enqueueing, atomic claims,
// exponential-backoff retries, and dead-lettering.
//
// The package is organised around four components:
//
//   - Enqueuer — inserts jobs, deduplicating on an optional idempotency key
//   - Worker   — polls for claimable jobs and dispatches them to registered Handlers
//   - Manager  — lookup, cancellation, per-queue stats, and dead-letter operations
//   - Monitor  — detects jobs stuck in processing and optionally requeues them
//
// Components interact only through small repository interfaces, keeping the
// queue logic decoupled from persistence. The canonical production backend is
// the embedded SQLite store in the sqlite subpackage; the postgres subpackage
// serves multi-node deployments and MemoryStorage serves tests.
//
// # Job lifecycle
//
// A job is created pending and claimed by exactly one worker at a time; the
// claim is a single atomic statement in the storage layer, so concurrent
// workers never double-process. Each claim increments Attempts. A failed
// attempt either reschedules the job (failed_retrying, with exponential
// backoff) or dead-letters it once MaxAttempts is exhausted. Handlers may wrap
// errors with ErrPermanent to skip retries. dead_letter and cancelled are
// terminal.
//
// Among claimable jobs of a queue the next claim is always the
// highest-priority row, oldest scheduled time first, smallest id as the final
// tie-break.
//
// # Usage
//
// Enqueue a render job:
//
//	type RenderPayload struct {
//	    ProjectID string `json:"project_id"`
//	}
//
//	func example(repo queue.EnqueuerRepository) error {
//	    e, err := queue.NewEnqueuer(repo)
//	    if err != nil {
//	        return err
//	    }
//
//	    _, _, err = e.Enqueue(context.Background(),
//	        RenderPayload{ProjectID: "prj_42"},
//	        queue.WithQueue("renders"),
//	        queue.WithPriority(queue.PriorityHigh),
//	        queue.WithIdempotencyKey("render:prj_42:v1"),
//	    )
//	    return err
//	}
//
// Process it:
//
//	w, _ := queue.NewWorker(repo, queue.WithQueues("renders"))
//	_ = w.RegisterHandler(queue.NewJobHandler(func(ctx context.Context, job *queue.ActiveJob, p RenderPayload) error {
//	    return job.SetStepState(ctx, "project_id", p.ProjectID)
//	}))
//	go w.Start(context.Background())
//
// # Events
//
// Lifecycle transitions are published as typed Events over a
// broadcast.Broadcaster configured with WithEventBroadcaster. Delivery is
// best-effort; slow subscribers lose messages rather than slowing the queue.
//
// # Error handling
//
// Package-level sentinel errors (ErrJobNotFound, ErrDuplicateJob,
// ErrPermanent, ...) signal invariant violations and can be checked with
// errors.Is.
package queue
