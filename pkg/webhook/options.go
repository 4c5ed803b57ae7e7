package webhook

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// SenderOption configures a Sender at construction.
type SenderOption func(*Sender)

// WithClient replaces the default pooled HTTP client. Nil clients are
// ignored.
func WithClient(client *http.Client) SenderOption {
	return func(s *Sender) {
		if client != nil {
			s.client = client
		}
	}
}

// WithUserAgent overrides the User-Agent header on outgoing deliveries.
func WithUserAgent(ua string) SenderOption {
	return func(s *Sender) {
		if ua != "" {
			s.userAgent = ua
		}
	}
}

// WithBreakerLimits tunes the per-endpoint breaker: failLimit consecutive
// unreachable outcomes suspend a host, probeAfter is how long the
// suspension holds before deliveries are let through again, and
// successNeed consecutive successes clear it. Non-positive values keep
// the defaults (5, 30s, 2).
func WithBreakerLimits(failLimit int, probeAfter time.Duration, successNeed int) SenderOption {
	return func(s *Sender) {
		s.endpoints = newEndpointSet(failLimit, probeAfter, successNeed)
	}
}

// WithoutBreaker disables endpoint suspension entirely. Deliveries then
// always go on the wire, which is usually what tests want.
func WithoutBreaker() SenderOption {
	return func(s *Sender) {
		s.endpoints = nil
	}
}

type sendConfig struct {
	timeout    time.Duration
	attempts   int
	schedule   RetrySchedule
	headers    map[string]string
	secret     string
	eventName  string
	deliveryID uuid.UUID
}

func newSendConfig(opts []SendOption) sendConfig {
	cfg := sendConfig{
		timeout:  10 * time.Second,
		attempts: 3,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// SendOption configures one delivery.
type SendOption func(*sendConfig)

// WithTimeout bounds each attempt. The parent context still applies on
// top. Default is 10s.
func WithTimeout(d time.Duration) SendOption {
	return func(c *sendConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHeader adds a custom request header. Content-Type and the delivery
// headers cannot be overridden.
func WithHeader(key, value string) SendOption {
	return func(c *sendConfig) {
		if key == "" || value == "" {
			return
		}
		if c.headers == nil {
			c.headers = make(map[string]string)
		}
		c.headers[key] = value
	}
}

// WithSignature signs the delivery with the shared secret; receivers
// check it with Verify.
func WithSignature(secret string) SendOption {
	return func(c *sendConfig) {
		c.secret = secret
	}
}

// WithEventName labels the delivery via the X-Renderkit-Event header so
// receivers can route before parsing the body.
func WithEventName(name string) SendOption {
	return func(c *sendConfig) {
		c.eventName = name
	}
}

// WithDeliveryID pins the X-Renderkit-Delivery header instead of minting
// a fresh UUID. Deliveries made from queue jobs pass the job ID here, so
// a receiver sees the same delivery ID when the job retries and can
// deduplicate.
func WithDeliveryID(id uuid.UUID) SendOption {
	return func(c *sendConfig) {
		c.deliveryID = id
	}
}

// WithMaxAttempts sets the total attempt budget, first try included.
// Default is 3.
func WithMaxAttempts(n int) SendOption {
	return func(c *sendConfig) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithRetrySchedule replaces the default backoff between attempts.
func WithRetrySchedule(rs RetrySchedule) SendOption {
	return func(c *sendConfig) {
		c.schedule = rs
	}
}

// WithNoRetry makes the delivery a single attempt. Deliveries made from
// queue jobs use this: the job's retry policy owns the backoff, and a
// second in-process attempt would just delay it.
func WithNoRetry() SendOption {
	return func(c *sendConfig) {
		c.attempts = 1
	}
}
