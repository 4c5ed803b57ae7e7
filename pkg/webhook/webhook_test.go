package webhook_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderkit/renderkit/pkg/webhook"
)

type testEvent struct {
	Kind  string `json:"kind"`
	JobID string `json:"job_id"`
}

// captureServer records the last request's body and headers and responds
// with the status codes queued in statuses (the last one repeats).
type captureServer struct {
	srv      *httptest.Server
	hits     atomic.Int32
	statuses []int

	lastBody    atomic.Pointer[[]byte]
	lastHeaders atomic.Pointer[http.Header]
}

func newCaptureServer(t *testing.T, statuses ...int) *captureServer {
	t.Helper()
	if len(statuses) == 0 {
		statuses = []int{http.StatusOK}
	}
	cs := &captureServer{statuses: statuses}
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		headers := r.Header.Clone()
		cs.lastBody.Store(&body)
		cs.lastHeaders.Store(&headers)

		n := int(cs.hits.Add(1))
		status := cs.statuses[min(n, len(cs.statuses))-1]
		w.WriteHeader(status)
	}))
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *captureServer) body() []byte {
	if p := cs.lastBody.Load(); p != nil {
		return *p
	}
	return nil
}

func (cs *captureServer) headers() http.Header {
	if p := cs.lastHeaders.Load(); p != nil {
		return *p
	}
	return http.Header{}
}

func TestSender_Send(t *testing.T) {
	t.Parallel()

	t.Run("delivers JSON with delivery headers", func(t *testing.T) {
		t.Parallel()

		cs := newCaptureServer(t)
		sender := webhook.NewSender()

		event := testEvent{Kind: "render.completed", JobID: uuid.NewString()}
		require.NoError(t, sender.Send(context.Background(), cs.srv.URL, event))

		var got testEvent
		require.NoError(t, json.Unmarshal(cs.body(), &got))
		assert.Equal(t, event, got)

		h := cs.headers()
		assert.Equal(t, "application/json", h.Get("Content-Type"))
		assert.Equal(t, "renderkit-webhook/1.0", h.Get("User-Agent"))
		_, err := uuid.Parse(h.Get(webhook.HeaderDelivery))
		assert.NoError(t, err, "delivery id must be a UUID")
		assert.Empty(t, h.Get(webhook.HeaderSignature), "unsigned send must not carry a signature")
	})

	t.Run("event name and pinned delivery id", func(t *testing.T) {
		t.Parallel()

		cs := newCaptureServer(t)
		sender := webhook.NewSender()
		jobID := uuid.New()

		err := sender.Send(context.Background(), cs.srv.URL, testEvent{Kind: "automation.fired"},
			webhook.WithEventName("automation.fired"),
			webhook.WithDeliveryID(jobID),
		)
		require.NoError(t, err)

		h := cs.headers()
		assert.Equal(t, "automation.fired", h.Get(webhook.HeaderEvent))
		assert.Equal(t, jobID.String(), h.Get(webhook.HeaderDelivery))
	})

	t.Run("custom headers cannot shadow delivery headers", func(t *testing.T) {
		t.Parallel()

		cs := newCaptureServer(t)
		sender := webhook.NewSender()

		err := sender.Send(context.Background(), cs.srv.URL, testEvent{Kind: "x"},
			webhook.WithHeader("X-Tenant", "acme"),
			webhook.WithHeader("Content-Type", "text/plain"),
		)
		require.NoError(t, err)

		h := cs.headers()
		assert.Equal(t, "acme", h.Get("X-Tenant"))
		assert.Equal(t, "application/json", h.Get("Content-Type"))
	})

	t.Run("4xx rejects permanently without retrying", func(t *testing.T) {
		t.Parallel()

		cs := newCaptureServer(t, http.StatusNotFound)
		sender := webhook.NewSender()

		err := sender.Send(context.Background(), cs.srv.URL, testEvent{Kind: "x"},
			webhook.WithMaxAttempts(5),
			webhook.WithRetrySchedule(webhook.RetrySchedule{Base: time.Millisecond, Cap: time.Millisecond}),
		)
		require.ErrorIs(t, err, webhook.ErrPermanentFailure)
		assert.EqualValues(t, 1, cs.hits.Load())
	})

	t.Run("5xx retries until success", func(t *testing.T) {
		t.Parallel()

		cs := newCaptureServer(t, http.StatusInternalServerError, http.StatusBadGateway, http.StatusOK)
		sender := webhook.NewSender()

		err := sender.Send(context.Background(), cs.srv.URL, testEvent{Kind: "x"},
			webhook.WithMaxAttempts(3),
			webhook.WithRetrySchedule(webhook.RetrySchedule{Base: time.Millisecond, Cap: time.Millisecond}),
		)
		require.NoError(t, err)
		assert.EqualValues(t, 3, cs.hits.Load())
	})

	t.Run("429 is retryable", func(t *testing.T) {
		t.Parallel()

		cs := newCaptureServer(t, http.StatusTooManyRequests, http.StatusOK)
		sender := webhook.NewSender()

		err := sender.Send(context.Background(), cs.srv.URL, testEvent{Kind: "x"},
			webhook.WithRetrySchedule(webhook.RetrySchedule{Base: time.Millisecond, Cap: time.Millisecond}),
		)
		require.NoError(t, err)
		assert.EqualValues(t, 2, cs.hits.Load())
	})

	t.Run("exhausted attempts report the budget", func(t *testing.T) {
		t.Parallel()

		cs := newCaptureServer(t, http.StatusServiceUnavailable)
		sender := webhook.NewSender()

		err := sender.Send(context.Background(), cs.srv.URL, testEvent{Kind: "x"},
			webhook.WithMaxAttempts(2),
			webhook.WithRetrySchedule(webhook.RetrySchedule{Base: time.Millisecond, Cap: time.Millisecond}),
		)
		require.ErrorIs(t, err, webhook.ErrDeliveryFailed)
		assert.Contains(t, err.Error(), "after 2 attempts")
		assert.EqualValues(t, 2, cs.hits.Load())
	})

	t.Run("no-retry is a single attempt", func(t *testing.T) {
		t.Parallel()

		cs := newCaptureServer(t, http.StatusInternalServerError)
		sender := webhook.NewSender()

		err := sender.Send(context.Background(), cs.srv.URL, testEvent{Kind: "x"},
			webhook.WithNoRetry(),
		)
		require.ErrorIs(t, err, webhook.ErrDeliveryFailed)
		assert.EqualValues(t, 1, cs.hits.Load())
	})

	t.Run("context cancellation stops the backoff wait", func(t *testing.T) {
		t.Parallel()

		cs := newCaptureServer(t, http.StatusInternalServerError)
		sender := webhook.NewSender()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := sender.Send(ctx, cs.srv.URL, testEvent{Kind: "x"},
			webhook.WithMaxAttempts(3),
			webhook.WithRetrySchedule(webhook.RetrySchedule{Base: 10 * time.Second, Cap: 10 * time.Second}),
		)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.EqualValues(t, 1, cs.hits.Load())
	})

	t.Run("unmarshalable event", func(t *testing.T) {
		t.Parallel()

		sender := webhook.NewSender()
		err := sender.Send(context.Background(), "http://localhost:1/hook", make(chan int))
		require.ErrorContains(t, err, "marshal")
	})

	t.Run("invalid destinations", func(t *testing.T) {
		t.Parallel()

		sender := webhook.NewSender()
		for _, raw := range []string{"", "ftp://files.example.com/in", "http://", "not a url at all"} {
			err := sender.Send(context.Background(), raw, testEvent{Kind: "x"})
			assert.ErrorIs(t, err, webhook.ErrInvalidURL, "url %q", raw)
		}
	})
}

func TestSender_EndpointBreaker(t *testing.T) {
	t.Parallel()

	t.Run("suspends after consecutive failures and recovers via probe", func(t *testing.T) {
		t.Parallel()

		var healthy atomic.Bool
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			if healthy.Load() {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		sender := webhook.NewSender(webhook.WithBreakerLimits(2, 50*time.Millisecond, 1))
		send := func() error {
			return sender.Send(context.Background(), srv.URL, testEvent{Kind: "x"}, webhook.WithNoRetry())
		}

		require.ErrorIs(t, send(), webhook.ErrDeliveryFailed)
		require.ErrorIs(t, send(), webhook.ErrDeliveryFailed)
		assert.Equal(t, webhook.EndpointSuspended, sender.EndpointState(srv.URL))

		// Fails fast without touching the wire.
		require.ErrorIs(t, send(), webhook.ErrEndpointSuspended)
		assert.EqualValues(t, 2, hits.Load())

		time.Sleep(60 * time.Millisecond)
		assert.Equal(t, webhook.EndpointProbing, sender.EndpointState(srv.URL))

		healthy.Store(true)
		require.NoError(t, send())
		assert.Equal(t, webhook.EndpointHealthy, sender.EndpointState(srv.URL))
	})

	t.Run("failed probe re-arms the suspension", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		sender := webhook.NewSender(webhook.WithBreakerLimits(1, 40*time.Millisecond, 1))
		send := func() error {
			return sender.Send(context.Background(), srv.URL, testEvent{Kind: "x"}, webhook.WithNoRetry())
		}

		require.ErrorIs(t, send(), webhook.ErrDeliveryFailed)
		require.ErrorIs(t, send(), webhook.ErrEndpointSuspended)

		time.Sleep(50 * time.Millisecond)
		require.ErrorIs(t, send(), webhook.ErrDeliveryFailed) // probe goes through, fails
		require.ErrorIs(t, send(), webhook.ErrEndpointSuspended)
	})

	t.Run("answered 4xx never suspends", func(t *testing.T) {
		t.Parallel()

		cs := newCaptureServer(t, http.StatusNotFound)
		sender := webhook.NewSender(webhook.WithBreakerLimits(1, time.Minute, 1))
		send := func() error {
			return sender.Send(context.Background(), cs.srv.URL, testEvent{Kind: "x"}, webhook.WithNoRetry())
		}

		require.ErrorIs(t, send(), webhook.ErrPermanentFailure)
		require.ErrorIs(t, send(), webhook.ErrPermanentFailure)
		assert.Equal(t, webhook.EndpointHealthy, sender.EndpointState(cs.srv.URL))
		assert.EqualValues(t, 2, cs.hits.Load())
	})

	t.Run("disabled breaker keeps delivering", func(t *testing.T) {
		t.Parallel()

		cs := newCaptureServer(t, http.StatusInternalServerError)
		sender := webhook.NewSender(webhook.WithoutBreaker())
		send := func() error {
			return sender.Send(context.Background(), cs.srv.URL, testEvent{Kind: "x"}, webhook.WithNoRetry())
		}

		for n := 0; n < 4; n++ {
			require.ErrorIs(t, send(), webhook.ErrDeliveryFailed)
		}
		assert.Equal(t, webhook.EndpointHealthy, sender.EndpointState(cs.srv.URL))
		assert.EqualValues(t, 4, cs.hits.Load())
	})
}
