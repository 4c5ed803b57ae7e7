package broadcast

import (
	"context"
	"sync"
)

// MemoryBroadcaster fans messages out to in-process subscribers. Delivery
// never blocks: a subscriber whose buffer is full misses the message but
// stays subscribed. Subscribers that were closed are pruned on the next
// broadcast.
type MemoryBroadcaster[T any] struct {
	mu      sync.Mutex
	subs    map[*subscriber[T]]struct{}
	buffer  int
	closed  bool
	done    chan struct{}
	watchWg sync.WaitGroup
}

// NewMemoryBroadcaster creates a broadcaster whose subscribers buffer up to
// bufferSize messages each. The buffer is at least 1, keeping delivery
// non-blocking.
func NewMemoryBroadcaster[T any](bufferSize int) *MemoryBroadcaster[T] {
	return &MemoryBroadcaster[T]{
		subs:   make(map[*subscriber[T]]struct{}),
		buffer: max(bufferSize, 1),
		done:   make(chan struct{}),
	}
}

// Subscribe registers a new subscriber. Cancelling ctx ends the
// subscription. Subscribing to a closed broadcaster yields an
// already-closed subscriber.
func (b *MemoryBroadcaster[T]) Subscribe(ctx context.Context) Subscriber[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newSubscriber[T](b.buffer)
	if b.closed {
		_ = sub.Close()
		return sub
	}
	b.subs[sub] = struct{}{}

	if ctx.Done() != nil {
		b.watchWg.Add(1)
		go func() {
			defer b.watchWg.Done()
			select {
			case <-ctx.Done():
				b.drop(sub)
			case <-b.done:
			}
		}()
	}
	return sub
}

// Broadcast delivers msg to every open subscriber. It returns nil even when
// some subscribers had no buffer room and missed the message.
func (b *MemoryBroadcaster[T]) Broadcast(ctx context.Context, msg Message[T]) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	for sub := range b.subs {
		if _, open := sub.send(msg); !open {
			delete(b.subs, sub)
		}
	}
	return nil
}

// Close closes every subscriber and shuts the broadcaster down. Context
// watchers started by Subscribe are released even when their contexts never
// cancel. Close is idempotent.
func (b *MemoryBroadcaster[T]) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	for sub := range b.subs {
		_ = sub.Close()
	}
	clear(b.subs)
	b.mu.Unlock()

	b.watchWg.Wait()
	return nil
}

func (b *MemoryBroadcaster[T]) drop(sub *subscriber[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
	_ = sub.Close()
}
