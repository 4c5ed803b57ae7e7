package render

import "errors"

var (
	// ErrInvalidPayload wraps every payload validation failure. Handlers
	// treat it as permanent.
	ErrInvalidPayload = errors.New("invalid render payload")

	// ErrEngineNil is returned when a handler is built without an engine.
	ErrEngineNil = errors.New("engine cannot be nil")

	// ErrLedgerNil is returned when a handler is built without a ledger.
	ErrLedgerNil = errors.New("ledger cannot be nil")

	// ErrArtifactsNil is returned when a handler is built without artifact
	// storage.
	ErrArtifactsNil = errors.New("artifact storage cannot be nil")

	// ErrEnqueuerNil is returned when an enqueuer dependency is missing.
	ErrEnqueuerNil = errors.New("enqueuer cannot be nil")
)
