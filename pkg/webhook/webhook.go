package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sender delivers signed JSON webhooks. It keeps per-endpoint health, so
// a destination that stops answering is suspended instead of being
// hammered by every job that wants to notify it.
//
// One Sender is meant to be shared process-wide; the zero value is not
// usable.
type Sender struct {
	client    *http.Client
	userAgent string
	endpoints *endpointSet
}

// NewSender builds a Sender with a pooled HTTP client and the default
// endpoint breaker.
func NewSender(opts ...SenderOption) *Sender {
	s := &Sender{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: "renderkit-webhook/1.0",
		endpoints: newEndpointSet(0, 0, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EndpointState reports how the sender currently treats the URL's host.
// Unknown hosts are healthy.
func (s *Sender) EndpointState(rawURL string) BreakerState {
	if s.endpoints == nil {
		return EndpointHealthy
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return EndpointHealthy
	}
	return s.endpoints.state(u.Host)
}

// Send marshals event to JSON and POSTs it to rawURL. The delivery
// carries an X-Renderkit-Delivery ID (minted, or pinned with
// WithDeliveryID) and, when a secret is set, the signature headers.
//
// Classification of the outcome:
//   - 2xx: nil.
//   - Most 4xx: ErrPermanentFailure, no further attempts.
//   - Anything else: retried per the schedule, then ErrDeliveryFailed.
//   - Suspended endpoint: ErrEndpointSuspended before any attempt.
func (s *Sender) Send(ctx context.Context, rawURL string, event any, opts ...SendOption) error {
	host, err := endpointHost(rawURL)
	if err != nil {
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook event: %w", err)
	}

	if s.endpoints != nil && !s.endpoints.allow(host) {
		return fmt.Errorf("%w: %s", ErrEndpointSuspended, host)
	}

	cfg := newSendConfig(opts)
	if cfg.deliveryID == uuid.Nil {
		cfg.deliveryID = uuid.New()
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.schedule.Delay(attempt - 1)):
			}
		}

		status, err := s.attempt(ctx, rawURL, body, cfg)

		// 4xx means the endpoint answered; only dead or melting hosts
		// count against the breaker.
		if s.endpoints != nil {
			s.endpoints.record(host, err == nil || (status >= 400 && status < 500))
		}

		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrDeliveryFailed, ctx.Err())
		}
		lastErr = err

		if permanentStatus(status) {
			return fmt.Errorf("%w: %w", ErrPermanentFailure, err)
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailed, cfg.attempts, lastErr)
}

func (s *Sender) attempt(ctx context.Context, rawURL string, body []byte, cfg sendConfig) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build webhook request: %w", err)
	}

	for k, v := range cfg.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set(HeaderDelivery, cfg.deliveryID.String())
	if cfg.eventName != "" {
		req.Header.Set(HeaderEvent, cfg.eventName)
	}
	if cfg.secret != "" {
		signRequest(req, cfg.secret, body, time.Now())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, fmt.Errorf("endpoint returned %d%s", resp.StatusCode, responseSnippet(resp.Body))
}

// endpointHost validates the destination and returns its host for breaker
// bookkeeping. Only absolute http(s) URLs are deliverable.
func endpointHost(rawURL string) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: no host", ErrInvalidURL)
	}
	return u.Host, nil
}

// permanentStatus reports whether an HTTP status is worth retrying.
// 408, 425, and 429 are the 4xx codes that can resolve on their own.
func permanentStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	}
	return status >= 400 && status < 500
}

// responseSnippet renders a short single-line excerpt of an error
// response for diagnostics.
func responseSnippet(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 512))
	text := strings.Join(strings.Fields(string(raw)), " ")
	if text == "" {
		return ""
	}
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	return ": " + text
}
