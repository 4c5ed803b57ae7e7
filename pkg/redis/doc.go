// Package redis dials the Redis server behind the cross-process event
// broadcaster. Everything else in the daemon talks to the relational store;
// Redis only carries queue and automation events between processes.
//
//	var cfg redis.Config
//	if err := config.Load(&cfg); err != nil {
//	    return err
//	}
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Connect keeps pinging until the server answers or the connect timeout
// runs out. Healthcheck wraps the same ping for the readiness endpoint.
package redis
