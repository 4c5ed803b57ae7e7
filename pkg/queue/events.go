package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/renderkit/renderkit/pkg/broadcast"
)

// EventKind identifies a job lifecycle transition
type EventKind string

const (
	EventJobCreated      EventKind = "job:created"
	EventJobDeduplicated EventKind = "job:deduplicated"
	EventJobStarted      EventKind = "job:started"
	EventJobCompleted    EventKind = "job:completed"
	EventJobRetrying     EventKind = "job:retrying"
	EventJobDeadLetter   EventKind = "job:dead_letter"
	EventJobCancelled    EventKind = "job:cancelled"
	EventJobStalled      EventKind = "job:stalled"
	EventWorkerStarted   EventKind = "worker:started"
)

// Event is the typed notification published on job lifecycle transitions.
// Delivery is best-effort: the in-memory broadcaster drops messages for slow
// subscribers instead of blocking queue progress.
type Event struct {
	Kind     EventKind `json:"kind"`
	JobID    uuid.UUID `json:"job_id,omitempty"`
	Queue    string    `json:"queue,omitempty"`
	JobType  string    `json:"job_type,omitempty"`
	Attempt  int       `json:"attempt,omitempty"`
	Error    string    `json:"error,omitempty"`
	WorkerID uuid.UUID `json:"worker_id,omitempty"`
	At       time.Time `json:"at"`
}

// EventBroadcaster is the pub/sub surface queue components publish to.
// broadcast.MemoryBroadcaster[Event] satisfies it in-process; the broadcast
// package's Redis implementation fans events out across processes.
type EventBroadcaster = broadcast.Broadcaster[Event]

// NewMemoryEventBroadcaster returns an in-process broadcaster sized for
// bursty lifecycle traffic.
func NewMemoryEventBroadcaster() EventBroadcaster {
	return broadcast.NewMemoryBroadcaster[Event](64)
}

// publishEvent sends e to the broadcaster, tolerating a nil sink
func publishEvent(ctx context.Context, b EventBroadcaster, e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_ = b.Broadcast(ctx, broadcast.Message[Event]{Data: e})
}

func jobEvent(kind EventKind, job *Job) Event {
	e := Event{
		Kind:    kind,
		JobID:   job.ID,
		Queue:   job.Queue,
		JobType: job.Type,
		Attempt: job.Attempts,
		At:      time.Now(),
	}
	if job.WorkerID != nil {
		e.WorkerID = *job.WorkerID
	}
	return e
}
