// Package broadcast fans typed messages out to many subscribers. The queue
// publishes its job lifecycle events through a Broadcaster: single-process
// deployments use MemoryBroadcaster, multi-node ones RedisBroadcaster so
// every node sees every event.
//
// Delivery is best-effort by contract. A subscriber whose buffer is full
// misses the message and stays subscribed; nothing ever blocks the
// publisher. Consumers that need a complete record read the store, not the
// stream.
//
//	b := broadcast.NewMemoryBroadcaster[queue.Event](64)
//	defer b.Close()
//
//	sub := b.Subscribe(ctx)
//	for msg := range sub.Receive(ctx) {
//	    handle(msg.Data)
//	}
//
// The receive channel closes when the subscription ends, through sub.Close,
// context cancellation, or closing the broadcaster.
//
// The Redis implementation carries messages as JSON over one pub/sub
// channel and applies the same local buffering to each subscriber:
//
//	b, err := broadcast.NewRedisBroadcaster[queue.Event](client, "renderkit:events")
package broadcast
