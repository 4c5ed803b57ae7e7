package queue

import "errors"

// Common errors
var (
	// ErrRepositoryNil is returned when a nil repository is provided
	ErrRepositoryNil = errors.New("repository cannot be nil")

	// ErrPayloadNil is returned when attempting to enqueue a nil payload
	ErrPayloadNil = errors.New("payload cannot be nil")

	// ErrInvalidPriority is returned when priority is not one of urgent, high, normal, low
	ErrInvalidPriority = errors.New("priority must be one of: urgent, high, normal, low")

	// ErrInvalidStatus is returned when a status value is outside the closed status set
	ErrInvalidStatus = errors.New("invalid job status")

	// ErrInvalidTransition is returned when a status change violates the lifecycle table
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrJobNotFound is returned when a job lookup misses
	ErrJobNotFound = errors.New("job not found")

	// ErrNoJobToClaim is returned by storage when no claimable job is available
	ErrNoJobToClaim = errors.New("no job available to claim")

	// ErrDuplicateJob is returned by storage when an idempotency key collides
	// with a non-terminal job in the same queue and type
	ErrDuplicateJob = errors.New("duplicate job for idempotency key")

	// ErrJobNotCancellable is returned when cancellation targets a job that is
	// already processing or terminal
	ErrJobNotCancellable = errors.New("job is not in a cancellable state")

	// ErrJobNotDeadLettered is returned when a requeue targets a job outside dead_letter
	ErrJobNotDeadLettered = errors.New("job is not in the dead-letter state")

	// ErrHandlerNotFound is returned when no handler is registered for a job type
	ErrHandlerNotFound = errors.New("no handler registered for job type")

	// ErrHandlerAlreadyRegistered is returned when two handlers claim one job type
	ErrHandlerAlreadyRegistered = errors.New("handler already registered for job type")

	// ErrNoHandlers is returned when worker starts with no handlers registered
	ErrNoHandlers = errors.New("no job handlers registered")

	// ErrWorkerRunning is returned by Start on a worker that is already running
	ErrWorkerRunning = errors.New("worker already running")

	// ErrWorkerNotRunning is returned by Stop on a worker that is not running
	ErrWorkerNotRunning = errors.New("worker is not running")

	// ErrPermanent marks a handler failure as non-retryable; wrap with
	// Permanent or check with errors.Is. Jobs failing permanently dead-letter
	// regardless of remaining attempts.
	ErrPermanent = errors.New("permanent job failure")
)

// Permanent wraps err so the worker dead-letters the job immediately instead
// of scheduling a retry. The original message is preserved for last_error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() []error { return []error{e.err, ErrPermanent} }
