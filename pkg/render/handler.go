package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/renderkit/renderkit/pkg/artifact"
	"github.com/renderkit/renderkit/pkg/credits"
	"github.com/renderkit/renderkit/pkg/queue"
	"github.com/renderkit/renderkit/pkg/webhook"
)

// CreditLedger is the slice of the credit ledger the handler needs.
type CreditLedger interface {
	Charge(ctx context.Context, userID, jobID uuid.UUID, amount int64) (int64, bool, error)
}

// ArtifactStore is the slice of artifact storage the handler needs.
type ArtifactStore interface {
	Put(ctx context.Context, key string, r io.Reader, opts ...artifact.PutOption) (*artifact.Artifact, error)
}

// Handler executes render.video jobs: prepare (validate + charge), render,
// upload, notify. Progress lands in step state, and the uploaded artifact
// key is recorded there so a retry after a failed notification skips
// straight back to the notify step instead of rendering again.
type Handler struct {
	engine       Engine
	ledger       CreditLedger
	artifacts    ArtifactStore
	sender       *webhook.Sender
	costPerFrame int64
	notifySecret string
	notifyWait   time.Duration
}

var _ queue.Handler = (*Handler)(nil)

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithCostPerFrame sets the credit price per rendered frame. Zero disables
// charging.
func WithCostPerFrame(cost int64) HandlerOption {
	return func(h *Handler) {
		if cost >= 0 {
			h.costPerFrame = cost
		}
	}
}

// WithWebhookSender sets the sender used for completion notifications.
func WithWebhookSender(sender *webhook.Sender) HandlerOption {
	return func(h *Handler) {
		if sender != nil {
			h.sender = sender
		}
	}
}

// WithNotifySecret enables HMAC signing of completion notifications.
func WithNotifySecret(secret string) HandlerOption {
	return func(h *Handler) {
		h.notifySecret = secret
	}
}

// WithNotifyTimeout bounds a single notification delivery.
func WithNotifyTimeout(timeout time.Duration) HandlerOption {
	return func(h *Handler) {
		if timeout > 0 {
			h.notifyWait = timeout
		}
	}
}

// NewHandler creates the render job handler. The default cost is one credit
// per frame.
func NewHandler(engine Engine, ledger CreditLedger, artifacts ArtifactStore, opts ...HandlerOption) (*Handler, error) {
	if engine == nil {
		return nil, ErrEngineNil
	}
	if ledger == nil {
		return nil, ErrLedgerNil
	}
	if artifacts == nil {
		return nil, ErrArtifactsNil
	}

	h := &Handler{
		engine:       engine,
		ledger:       ledger,
		artifacts:    artifacts,
		sender:       webhook.NewSender(),
		costPerFrame: 1,
		notifyWait:   15 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Type implements queue.Handler
func (h *Handler) Type() string {
	return JobType
}

// Handle implements queue.Handler. Step-state writes are advisory progress
// and never fail the job.
func (h *Handler) Handle(ctx context.Context, job *queue.ActiveJob) error {
	var p Payload
	if err := job.UnmarshalPayload(&p); err != nil {
		return queue.Permanent(err)
	}

	_ = job.EnterStep(ctx, StepPrepare)
	if err := p.Validate(); err != nil {
		return queue.Permanent(err)
	}

	if cost := h.costPerFrame * int64(p.Spec.Frames); cost > 0 {
		_, _, err := h.ledger.Charge(ctx, p.UserID, job.ID, cost)
		switch {
		case errors.Is(err, credits.ErrInsufficientCredits),
			errors.Is(err, credits.ErrAccountNotFound):
			// Retrying will not find more credits
			return queue.Permanent(fmt.Errorf("cannot pay for render: %w", err))
		case err != nil:
			return fmt.Errorf("charge failed: %w", err)
		}
		_ = job.SetStepState(ctx, "cost", cost)
	}

	key, _ := job.StepState["artifact_key"].(string)
	artifactURL, _ := job.StepState["artifact_url"].(string)
	size := stateInt64(job.StepState["artifact_size"])

	if key == "" {
		_ = job.EnterStep(ctx, StepRender)
		total := p.Spec.Frames
		stride := max(1, total/20)
		stream, err := h.engine.Render(ctx, p.Spec, func(done int) {
			if done == total || done%stride == 0 {
				_ = job.SetStepState(ctx, "frames_done", done)
			}
		})
		if err != nil {
			return fmt.Errorf("render failed: %w", err)
		}

		_ = job.EnterStep(ctx, StepUpload)
		art, err := h.artifacts.Put(ctx, objectKey(p.UserID, job.ID, p.Spec.format()), stream,
			artifact.WithContentType(p.Spec.ContentType()))
		if cerr := stream.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}

		key, artifactURL, size = art.Key, art.URL, art.Size
		_ = job.MergeStepState(ctx, map[string]any{
			"artifact_key":  art.Key,
			"artifact_url":  art.URL,
			"artifact_size": art.Size,
		})
	}

	if p.NotifyURL != "" {
		_ = job.EnterStep(ctx, StepNotify)
		event := CompletedEvent{
			JobID:       job.ID,
			UserID:      p.UserID,
			Name:        p.Name,
			ArtifactKey: key,
			ArtifactURL: artifactURL,
			Size:        size,
			Frames:      p.Spec.Frames,
			CompletedAt: time.Now(),
		}

		// Single attempt: the job's retry policy owns backoff, and the
		// artifact state recorded above makes a retry land right back here.
		// Pinning the delivery ID to the job ID lets receivers collapse
		// redeliveries from those retries.
		opts := []webhook.SendOption{
			webhook.WithNoRetry(),
			webhook.WithTimeout(h.notifyWait),
			webhook.WithEventName("render.completed"),
			webhook.WithDeliveryID(job.ID),
		}
		if h.notifySecret != "" {
			opts = append(opts, webhook.WithSignature(h.notifySecret))
		}
		if err := h.sender.Send(ctx, p.NotifyURL, event, opts...); err != nil {
			if errors.Is(err, webhook.ErrPermanentFailure) || errors.Is(err, webhook.ErrInvalidURL) {
				return queue.Permanent(fmt.Errorf("completion notification rejected: %w", err))
			}
			return fmt.Errorf("completion notification failed: %w", err)
		}
	}

	return nil
}

// stateInt64 reads a numeric step-state value. Values round-trip through
// JSON, so stored integers come back as float64.
func stateInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
