package queue

import "time"

// Config holds the configuration for the job queue
type Config struct {
	PollInterval    time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	Concurrency     int           `env:"QUEUE_CONCURRENCY" envDefault:"4"`
	ShutdownTimeout time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	StalledAfter    time.Duration `env:"QUEUE_STALLED_AFTER" envDefault:"10m"`
	RetryBaseDelay  time.Duration `env:"QUEUE_RETRY_BASE_DELAY" envDefault:"30s"`
	RetryMaxDelay   time.Duration `env:"QUEUE_RETRY_MAX_DELAY" envDefault:"1h"`
	RetryJitter     float64       `env:"QUEUE_RETRY_JITTER" envDefault:"0.1"`
}

// RetryPolicy derives the retry policy from the configured delays
func (c Config) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:    c.RetryBaseDelay,
		MaxDelay:     c.RetryMaxDelay,
		JitterFactor: c.RetryJitter,
	}
}
