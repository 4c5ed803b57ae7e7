package queue

import (
	"log/slog"
	"time"
)

// WorkerOption adjusts a Worker at construction. Out-of-range values are
// ignored and the default stands.
type WorkerOption func(*Worker)

// WithQueues sets which queues the worker claims from, in no particular
// order; claim ordering is decided by the storage layer across all of them.
func WithQueues(queues ...string) WorkerOption {
	return func(w *Worker) {
		if len(queues) == 0 {
			return
		}
		w.queues = queues
	}
}

// WithPollInterval sets how often the worker looks for claimable jobs.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d <= 0 {
			return
		}
		w.pollInterval = d
	}
}

// WithJobTimeout sets the deadline a handler gets per attempt.
func WithJobTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d <= 0 {
			return
		}
		w.jobTimeout = d
	}
}

// WithConcurrency sets how many jobs the worker runs at once.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n <= 0 {
			return
		}
		w.concurrency = n
	}
}

// WithRetryPolicy sets the backoff policy for failed attempts.
func WithRetryPolicy(p RetryPolicy) WorkerOption {
	return func(w *Worker) {
		w.retryPolicy = p
	}
}

// WithWorkerLogger routes the worker's lifecycle and claim logs.
func WithWorkerLogger(log *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if log == nil {
			return
		}
		w.log = log
	}
}

// WithWorkerEvents sets the broadcaster for job lifecycle events.
func WithWorkerEvents(b EventBroadcaster) WorkerOption {
	return func(w *Worker) {
		if b == nil {
			return
		}
		w.events = b
	}
}
