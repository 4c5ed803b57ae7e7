package automation

import "errors"

// Common errors
var (
	// ErrStoreNil is returned when a nil execution store is provided
	ErrStoreNil = errors.New("execution store cannot be nil")

	// ErrEnqueuerNil is returned when a nil enqueuer is provided
	ErrEnqueuerNil = errors.New("enqueuer cannot be nil")

	// ErrAutomationNil is returned when a nil automation is triggered
	ErrAutomationNil = errors.New("automation cannot be nil")

	// ErrAutomationDisabled is returned when triggering a disabled automation;
	// nothing is written before this check
	ErrAutomationDisabled = errors.New("automation is disabled")

	// ErrNoActions is returned when an automation carries an empty action list
	ErrNoActions = errors.New("automation has no actions")

	// ErrExecutionInProgress is returned when the idempotency key collides
	// with an in-flight firing; callers treat it as an already-accepted request
	ErrExecutionInProgress = errors.New("automation execution already in progress")

	// ErrExecutionNil is returned when a nil execution is stored
	ErrExecutionNil = errors.New("execution cannot be nil")

	// ErrExecutionNotFound is returned when an execution lookup misses
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionExists is returned when an execution ID collides in the store
	ErrExecutionExists = errors.New("execution already exists")

	// ErrUnknownActionType is returned by the handler for action types with no
	// registered executor; the failure is permanent since retrying cannot
	// conjure an executor
	ErrUnknownActionType = errors.New("unknown action type")

	// ErrInvalidSchedule is returned when a schedule expression cannot be parsed
	ErrInvalidSchedule = errors.New("invalid schedule expression")

	// ErrNotScheduleTrigger is returned when a non-schedule automation is
	// registered with the scheduler
	ErrNotScheduleTrigger = errors.New("automation trigger is not a schedule")

	// ErrAlreadyRegistered is returned when an automation is registered with
	// the scheduler twice
	ErrAlreadyRegistered = errors.New("automation already registered")

	// ErrNoAutomations is returned when the scheduler starts with nothing registered
	ErrNoAutomations = errors.New("no automations registered")
)
