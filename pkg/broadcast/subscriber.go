package broadcast

import (
	"context"
	"sync"
)

// subscriber is the buffered-channel Subscriber both broadcasters hand out.
// done closes together with the subscriber; the redis adapter watches it to
// tear down the pub/sub connection behind a consumer-initiated Close.
type subscriber[T any] struct {
	mu     sync.Mutex
	ch     chan Message[T]
	done   chan struct{}
	closed bool
}

func newSubscriber[T any](buffer int) *subscriber[T] {
	return &subscriber[T]{
		ch:   make(chan Message[T], buffer),
		done: make(chan struct{}),
	}
}

func (s *subscriber[T]) Receive(ctx context.Context) <-chan Message[T] {
	return s.ch
}

func (s *subscriber[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
		close(s.done)
	}
	return nil
}

// send delivers msg without blocking. delivered reports whether the message
// entered the buffer; open reports whether the subscriber can still receive
// at all.
func (s *subscriber[T]) send(msg Message[T]) (delivered, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}
	select {
	case s.ch <- msg:
		return true, true
	default:
		return false, true
	}
}
