package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueName is the default queue name used when no queue is specified
const DefaultQueueName = "default"

// Well-known queue names. Any string is a valid queue; these are the ones the
// render platform routes to by default.
const (
	QueueRenders    = "renders"
	QueueAutomation = "automation"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending        JobStatus = "pending"
	JobStatusProcessing     JobStatus = "processing"
	JobStatusCompleted      JobStatus = "completed"
	JobStatusFailedRetrying JobStatus = "failed_retrying"
	JobStatusDeadLetter     JobStatus = "dead_letter"
	JobStatusCancelled      JobStatus = "cancelled"
)

// Valid checks if the status is a member of the closed status set
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted,
		JobStatusFailedRetrying, JobStatusDeadLetter, JobStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status permits no further transitions
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusDeadLetter, JobStatusCancelled:
		return true
	}
	return false
}

// Claimable reports whether a job in this status is eligible for claiming
// once its scheduled time has passed
func (s JobStatus) Claimable() bool {
	return s == JobStatusPending || s == JobStatusFailedRetrying
}

// jobTransitions is the allowed status transition table. Storage
// implementations consult it via CanTransition before rewriting status.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:        {JobStatusProcessing, JobStatusCancelled},
	JobStatusFailedRetrying: {JobStatusProcessing, JobStatusCancelled},
	JobStatusProcessing:     {JobStatusCompleted, JobStatusFailedRetrying, JobStatusDeadLetter},
	JobStatusCompleted:      {},
	JobStatusDeadLetter:     {JobStatusPending}, // operator requeue only
	JobStatusCancelled:      {},
}

// CanTransition reports whether moving from s to next is a legal lifecycle step
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Priority represents job priority as a closed, named set.
// Persisted as its integer rank so storage can order claims with a plain index.
type Priority string

const (
	PriorityUrgent  Priority = "urgent"
	PriorityHigh    Priority = "high"
	PriorityNormal  Priority = "normal"
	PriorityLow     Priority = "low"
	PriorityDefault          = PriorityNormal
)

var priorityRanks = map[Priority]int{
	PriorityUrgent: 0,
	PriorityHigh:   1,
	PriorityNormal: 2,
	PriorityLow:    3,
}

// Valid checks if the priority is a member of the closed priority set
func (p Priority) Valid() bool {
	_, ok := priorityRanks[p]
	return ok
}

// Rank returns the claim-ordering rank; urgent is 0 and ranks increase as
// priority drops, so storage orders by rank ascending
func (p Priority) Rank() int {
	if r, ok := priorityRanks[p]; ok {
		return r
	}
	return priorityRanks[PriorityDefault]
}

// PriorityFromRank maps a persisted rank back to its named priority
func PriorityFromRank(rank int) Priority {
	for p, r := range priorityRanks {
		if r == rank {
			return p
		}
	}
	return PriorityDefault
}

// Job represents a unit of background work
type Job struct {
	ID               uuid.UUID      `json:"id"`
	Queue            string         `json:"queue"`
	Type             string         `json:"type"`
	Payload          []byte         `json:"payload,omitempty"`
	Status           JobStatus      `json:"status"`
	Priority         Priority       `json:"priority"`
	Attempts         int            `json:"attempts"`
	MaxAttempts      int            `json:"max_attempts"`
	ScheduledAt      time.Time      `json:"scheduled_at"`
	IdempotencyKey   *string        `json:"idempotency_key,omitempty"`
	Steps            []string       `json:"steps,omitempty"`
	StepState        map[string]any `json:"step_state,omitempty"`
	WorkerID         *uuid.UUID     `json:"worker_id,omitempty"`
	LastError        *string        `json:"last_error,omitempty"`
	LastErrorAttempt int            `json:"last_error_attempt,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

// UnmarshalPayload decodes the job payload into v
func (j *Job) UnmarshalPayload(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal payload for job %s: %w", j.ID, err)
	}
	return nil
}

// QueueStats summarizes job counts by status for one queue
type QueueStats struct {
	Queue      string `json:"queue"`
	Pending    int    `json:"pending"`
	Processing int    `json:"processing"`
	Completed  int    `json:"completed"`
	Retrying   int    `json:"retrying"`
	DeadLetter int    `json:"dead_letter"`
	Cancelled  int    `json:"cancelled"`
}

// Total returns the number of jobs across all statuses
func (s QueueStats) Total() int {
	return s.Pending + s.Processing + s.Completed + s.Retrying + s.DeadLetter + s.Cancelled
}
