package artifact

import "errors"

var (
	// Validation errors
	ErrInvalidKey    = errors.New("invalid artifact key")
	ErrNilReader     = errors.New("artifact reader is nil")
	ErrInvalidConfig = errors.New("invalid configuration")

	// Lookup errors
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrPrefixNotFound   = errors.New("no artifacts under prefix")

	// S3 classification
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrServiceUnavailable = errors.New("storage temporarily unavailable")
	ErrFailedToLoadConfig = errors.New("failed to load AWS config")
	ErrPaginatorNil       = errors.New("paginator factory returned nil")

	// Context outcomes
	ErrOperationTimeout  = errors.New("storage operation timed out")
	ErrOperationCanceled = errors.New("storage operation canceled")
)
