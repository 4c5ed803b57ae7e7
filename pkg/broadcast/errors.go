package broadcast

import "errors"

var (
	// ErrBroadcasterClosed is returned by RedisBroadcaster.Broadcast after
	// Close. The in-memory implementation silently drops instead; the Redis
	// one reports it because the caller still owns a live client and the
	// publish would otherwise look like it reached subscribers.
	ErrBroadcasterClosed = errors.New("broadcast: broadcaster is closed")

	// ErrEmptyChannel is returned when a RedisBroadcaster is created without
	// a channel name to publish on.
	ErrEmptyChannel = errors.New("broadcast: channel name is empty")

	// ErrClientNil is returned when a RedisBroadcaster is created without a client.
	ErrClientNil = errors.New("broadcast: redis client is nil")
)
