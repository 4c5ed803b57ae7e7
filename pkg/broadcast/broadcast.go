package broadcast

import "context"

// Message carries one value of type T to subscribers.
type Message[T any] struct {
	Data T
}

// Subscriber is one receiving end of a Broadcaster.
type Subscriber[T any] interface {
	// Receive returns the channel messages arrive on. The channel closes
	// when the subscription ends. The context is accepted for adapters
	// whose delivery blocks; the in-memory implementation ignores it.
	Receive(ctx context.Context) <-chan Message[T]

	// Close ends the subscription and closes the receive channel. Close is
	// idempotent.
	Close() error
}

// Broadcaster fans messages out to all current subscribers. Delivery is
// best-effort: implementations drop messages for subscribers that cannot
// keep up rather than block the publisher.
type Broadcaster[T any] interface {
	// Subscribe registers a new subscriber. Cancelling ctx ends the
	// subscription.
	Subscribe(ctx context.Context) Subscriber[T]

	// Broadcast delivers msg to every subscriber with buffer room.
	Broadcast(ctx context.Context, msg Message[T]) error

	// Close shuts down the broadcaster and every subscriber it handed out.
	Close() error
}
