package automation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/renderkit/renderkit/pkg/queue"
)

// TriggerKind identifies what fires an automation.
type TriggerKind string

const (
	TriggerWebhook     TriggerKind = "webhook"
	TriggerSchedule    TriggerKind = "schedule"
	TriggerAssetUpload TriggerKind = "asset_upload"
)

// Valid checks if the kind is a member of the closed trigger set
func (k TriggerKind) Valid() bool {
	switch k {
	case TriggerWebhook, TriggerSchedule, TriggerAssetUpload:
		return true
	}
	return false
}

// Priority maps the trigger kind to the queue priority of the job it
// produces. Webhook firings sit behind an interactive caller, so they jump
// ahead of uploads; scheduled work has no one waiting on it.
func (k TriggerKind) Priority() queue.Priority {
	switch k {
	case TriggerWebhook:
		return queue.PriorityHigh
	case TriggerSchedule:
		return queue.PriorityLow
	default:
		return queue.PriorityNormal
	}
}

// Trigger describes what fires an automation. Schedule is a parseable
// expression (see ParseSchedule) and is only meaningful for schedule kinds.
type Trigger struct {
	Kind     TriggerKind `json:"kind"`
	Schedule string      `json:"schedule,omitempty"`
}

// Action is one step of an automation's action list. Params are
// action-type-specific; executors validate them at run time.
type Action struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// StringParam returns a string-typed param, with ok reporting both presence
// and type match.
func (a Action) StringParam(key string) (string, bool) {
	v, ok := a.Params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// IntParam returns an integer-typed param. Params decoded from JSON carry
// numbers as float64, so both forms are accepted.
func (a Action) IntParam(key string) (int, bool) {
	switch v := a.Params[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Automation is a stored trigger + action definition. The definition itself
// is owned by the calling layer; the runner consumes it and maintains the
// trigger counters on the passed value.
type Automation struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	Enabled         bool       `json:"enabled"`
	Trigger         Trigger    `json:"trigger"`
	Actions         []Action   `json:"actions"`
	TriggerCount    int        `json:"trigger_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
}

// ExecutionStatus represents the lifecycle state of one automation firing
type ExecutionStatus string

const (
	ExecutionStatusQueued    ExecutionStatus = "queued"
	ExecutionStatusSucceeded ExecutionStatus = "succeeded"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Valid checks if the status is a member of the closed status set
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStatusQueued, ExecutionStatusSucceeded, ExecutionStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the execution has resolved
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusSucceeded || s == ExecutionStatusFailed
}

// Execution records one firing of an automation and tracks the job it
// produced. JobID is uuid.Nil until the enqueue succeeds.
type Execution struct {
	ID           uuid.UUID       `json:"id"`
	AutomationID uuid.UUID       `json:"automation_id"`
	JobID        uuid.UUID       `json:"job_id,omitempty"`
	Status       ExecutionStatus `json:"status"`
	Error        *string         `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// TriggerResult is returned by Runner.Trigger: the synchronous handle a
// caller polls while the job runs in the background.
type TriggerResult struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	JobID       uuid.UUID `json:"job_id"`
}

// RunPayload is the job payload for automation jobs. The handler re-reads
// the action list from here rather than from live automation state, so an
// edit mid-flight never changes what an already-queued firing does.
type RunPayload struct {
	AutomationID uuid.UUID       `json:"automation_id"`
	ExecutionID  uuid.UUID       `json:"execution_id"`
	Name         string          `json:"name"`
	Actions      []Action        `json:"actions"`
	TriggerData  json.RawMessage `json:"trigger_data,omitempty"`
}

// JobTypePrefix namespaces automation job types within the queue.
const JobTypePrefix = "automation."

// JobTypeSequence is the job type for automations with more than one action.
const JobTypeSequence = JobTypePrefix + "sequence"

// JobTypeFor derives the queue job type from an action list: single-action
// automations surface their action type in queue stats, longer lists
// collapse to the sequence type.
func JobTypeFor(actions []Action) string {
	if len(actions) == 1 {
		return JobTypePrefix + actions[0].Type
	}
	return JobTypeSequence
}
