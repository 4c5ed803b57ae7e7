package queue

import "time"

// EnqueuerOption adjusts an Enqueuer's defaults at construction. Invalid
// values are ignored and the default stands.
type EnqueuerOption func(*Enqueuer)

// WithDefaultQueue sets the queue jobs land on when Enqueue names none.
func WithDefaultQueue(queue string) EnqueuerOption {
	return func(e *Enqueuer) {
		if queue == "" {
			return
		}
		e.defaultQueue = queue
	}
}

// WithDefaultPriority sets the priority jobs get when Enqueue names none.
func WithDefaultPriority(priority Priority) EnqueuerOption {
	return func(e *Enqueuer) {
		if !priority.Valid() {
			return
		}
		e.defaultPriority = priority
	}
}

// WithDefaultMaxAttempts sets the default attempt budget for new jobs.
func WithDefaultMaxAttempts(n int) EnqueuerOption {
	return func(e *Enqueuer) {
		if n <= 0 {
			return
		}
		e.defaultAttempts = n
	}
}

// WithEnqueuerEvents sets the broadcaster for job:created and
// job:deduplicated events.
func WithEnqueuerEvents(b EventBroadcaster) EnqueuerOption {
	return func(e *Enqueuer) {
		if b == nil {
			return
		}
		e.events = b
	}
}

// jobSpec is the shape of one enqueue call: the enqueuer's defaults plus
// whatever the EnqueueOptions override.
type jobSpec struct {
	queue          string
	jobType        string
	priority       Priority
	maxAttempts    int
	delay          time.Duration
	notBefore      *time.Time
	idempotencyKey string
	steps          []string
}

// EnqueueOption shapes a single enqueue call.
type EnqueueOption func(*jobSpec)

// WithQueue routes the job to a specific queue.
func WithQueue(queue string) EnqueueOption {
	return func(s *jobSpec) {
		if queue == "" {
			return
		}
		s.queue = queue
	}
}

// WithPriority sets the job's claim priority.
func WithPriority(priority Priority) EnqueueOption {
	return func(s *jobSpec) {
		s.priority = priority
	}
}

// WithMaxAttempts sets the job's attempt budget. The budget is capped at 10
// so a persistently failing job cannot retry forever.
func WithMaxAttempts(n int) EnqueueOption {
	return func(s *jobSpec) {
		if n < 1 || n > 10 {
			return
		}
		s.maxAttempts = n
	}
}

// WithDelay keeps the job unclaimable for the given duration.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(s *jobSpec) {
		if delay <= 0 {
			return
		}
		s.delay = delay
	}
}

// WithScheduledAt keeps the job unclaimable until an absolute time. It wins
// over WithDelay when both are given.
func WithScheduledAt(at time.Time) EnqueueOption {
	return func(s *jobSpec) {
		s.notBefore = &at
	}
}

// WithJobType names the job explicitly instead of deriving the name from
// the payload's type.
func WithJobType(jobType string) EnqueueOption {
	return func(s *jobSpec) {
		if jobType == "" {
			return
		}
		s.jobType = jobType
	}
}

// WithIdempotencyKey makes the enqueue idempotent: while a job with the
// same (queue, type, key) is non-terminal, repeated enqueues return it
// unchanged.
func WithIdempotencyKey(key string) EnqueueOption {
	return func(s *jobSpec) {
		if key == "" {
			return
		}
		s.idempotencyKey = key
	}
}

// WithSteps declares the ordered named phases the job's handler walks
// through; handlers report progress against them via step state.
func WithSteps(steps ...string) EnqueueOption {
	return func(s *jobSpec) {
		if len(steps) == 0 {
			return
		}
		s.steps = steps
	}
}
