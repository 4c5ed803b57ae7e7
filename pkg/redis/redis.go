package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidURL reports a connection URL redis.ParseURL cannot understand.
	ErrInvalidURL = errors.New("invalid redis url")

	// ErrUnavailable reports that Redis never answered a ping before the
	// connect timeout expired.
	ErrUnavailable = errors.New("redis unavailable")

	// ErrHealthcheck wraps ping failures from the Healthcheck probe.
	ErrHealthcheck = errors.New("redis healthcheck")
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultRetryInterval  = 2 * time.Second
)

// Config describes the Redis connection carrying cross-process queue events.
type Config struct {
	// URL in the form redis://:password@host:6379/0.
	URL            string        `env:"REDIS_URL,required" envDefault:"redis://localhost:6379/0"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"2s"`
}

// Connect dials Redis and verifies it answers a ping, retrying every
// RetryInterval until ConnectTimeout expires. The one client is reused
// across attempts; go-redis reconnects its pool on its own.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(ErrInvalidURL, err)
	}

	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client := redis.NewClient(opt)
	for {
		lastErr := client.Ping(ctx).Err()
		if lastErr == nil {
			return client, nil
		}
		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, errors.Join(ErrUnavailable, lastErr)
		case <-time.After(cfg.RetryInterval):
		}
	}
}

// Healthcheck adapts a ping on client to the probe shape the ops listener
// aggregates.
func Healthcheck(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return errors.Join(ErrHealthcheck, err)
		}
		return nil
	}
}
