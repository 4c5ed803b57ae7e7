package config

import "errors"

var (
	// ErrNilTarget reports a nil destination pointer passed to Load or Reload.
	ErrNilTarget = errors.New("config destination is nil")

	// ErrParse wraps parse failures: malformed values, missing required
	// variables, or a destination that is not a struct.
	ErrParse = errors.New("parse config from environment")

	// ErrEnvFile wraps failures reading an env file from disk.
	ErrEnvFile = errors.New("load env file")
)
