package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBroadcaster distributes messages across processes through a single
// Redis pub/sub channel. Broadcast publishes the JSON encoding of the
// message; every subscriber, local or in another process, decodes it back.
// Local delivery keeps the same drop-on-full semantics as MemoryBroadcaster,
// so a stalled consumer loses messages instead of stalling the Redis reader.
//
// Messages are fire-and-forget: Redis pub/sub has no replay, and a subscriber
// that connects after a publish never sees it. That matches job lifecycle
// events, which are advisory by contract.
type RedisBroadcaster[T any] struct {
	client     redis.UniversalClient
	channel    string
	bufferSize int

	subs   map[*subscriber[T]]*redis.PubSub
	closed bool
	mu     sync.Mutex
	wg     sync.WaitGroup
}

// RedisOption configures a RedisBroadcaster.
type RedisOption func(*redisConfig)

type redisConfig struct {
	bufferSize int
}

// WithBufferSize sets the local buffer for each subscriber. When the buffer
// is full, further messages are dropped for that subscriber.
func WithBufferSize(n int) RedisOption {
	return func(c *redisConfig) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// NewRedisBroadcaster creates a broadcaster publishing on the given channel.
// The client is owned by the caller and is not closed by Close.
func NewRedisBroadcaster[T any](client redis.UniversalClient, channel string, opts ...RedisOption) (*RedisBroadcaster[T], error) {
	if client == nil {
		return nil, ErrClientNil
	}
	if channel == "" {
		return nil, ErrEmptyChannel
	}

	cfg := &redisConfig{bufferSize: 64}
	for _, opt := range opts {
		opt(cfg)
	}

	return &RedisBroadcaster[T]{
		client:     client,
		channel:    channel,
		bufferSize: cfg.bufferSize,
		subs:       make(map[*subscriber[T]]*redis.PubSub),
	}, nil
}

// Subscribe opens a dedicated Redis subscription and returns a Subscriber fed
// from it. The subscription ends when the context is cancelled, the returned
// subscriber is closed, or the broadcaster is closed.
func (b *RedisBroadcaster[T]) Subscribe(ctx context.Context) Subscriber[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newSubscriber[T](b.bufferSize)
	if b.closed {
		_ = sub.Close()
		return sub
	}

	// Each subscriber holds its own pub/sub connection; go-redis dedicates a
	// connection to a subscription anyway, and it keeps teardown independent.
	ps := b.client.Subscribe(ctx, b.channel)
	b.subs[sub] = ps

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		for msg := range ps.Channel() {
			var m Message[T]
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				continue
			}
			sub.send(m)
		}
		b.unsubscribe(sub)
	}()
	go func() {
		defer b.wg.Done()
		select {
		case <-ctx.Done():
			// Closing the pub/sub ends the reader loop above.
			_ = ps.Close()
		case <-sub.done:
		}
	}()

	return sub
}

// Broadcast publishes the message to the Redis channel. Delivery to
// subscribers in this and other processes happens asynchronously.
func (b *RedisBroadcaster[T]) Broadcast(ctx context.Context, msg Message[T]) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBroadcasterClosed
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("broadcast: encode message: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("broadcast: publish to %q: %w", b.channel, err)
	}
	return nil
}

// Close ends all subscriptions and waits for their readers to drain. The
// Redis client itself stays open.
func (b *RedisBroadcaster[T]) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, ps := range b.subs {
		_ = ps.Close()
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

func (b *RedisBroadcaster[T]) unsubscribe(sub *subscriber[T]) {
	b.mu.Lock()
	ps, ok := b.subs[sub]
	delete(b.subs, sub)
	b.mu.Unlock()

	if ok {
		_ = ps.Close()
	}
	_ = sub.Close()
}
