package render

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/renderkit/renderkit/pkg/queue"
)

// JobType is the queue job type the render handler serves.
const JobType = "render.video"

// Step names for render jobs, in execution order.
const (
	StepPrepare = "prepare"
	StepRender  = "render"
	StepUpload  = "upload"
	StepNotify  = "notify"
)

// Steps returns the declared step list for render jobs. A fresh slice is
// returned so callers can append without sharing.
func Steps() []string {
	return []string{StepPrepare, StepRender, StepUpload, StepNotify}
}

// Spec bounds. Renders outside these fail validation before any credits
// are charged.
const (
	MinDimension = 16
	MaxDimension = 4096
	MaxFPS       = 120
	MaxFrames    = 200_000
)

var formatContentTypes = map[string]string{
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"mov":  "video/quicktime",
	"gif":  "image/gif",
}

// Spec describes what to render. Scene carries the composition document
// verbatim; the engine owns its schema.
type Spec struct {
	Width  int             `json:"width"`
	Height int             `json:"height"`
	FPS    int             `json:"fps"`
	Frames int             `json:"frames"`
	Format string          `json:"format,omitempty"`
	Scene  json.RawMessage `json:"scene,omitempty"`
}

func (s Spec) format() string {
	if s.Format == "" {
		return "mp4"
	}
	return s.Format
}

// ContentType returns the MIME type for the spec's output format. The
// builtin mime table has no entry for video extensions, so uploads pass
// this explicitly.
func (s Spec) ContentType() string {
	return formatContentTypes[s.format()]
}

// Validate checks the spec against the render bounds.
func (s Spec) Validate() error {
	if s.Width < MinDimension || s.Width > MaxDimension ||
		s.Height < MinDimension || s.Height > MaxDimension {
		return fmt.Errorf("%w: dimensions %dx%d outside %d..%d",
			ErrInvalidPayload, s.Width, s.Height, MinDimension, MaxDimension)
	}
	if s.FPS < 1 || s.FPS > MaxFPS {
		return fmt.Errorf("%w: fps %d outside 1..%d", ErrInvalidPayload, s.FPS, MaxFPS)
	}
	if s.Frames < 1 || s.Frames > MaxFrames {
		return fmt.Errorf("%w: frames %d outside 1..%d", ErrInvalidPayload, s.Frames, MaxFrames)
	}
	if _, ok := formatContentTypes[s.format()]; !ok {
		return fmt.Errorf("%w: unsupported format %q", ErrInvalidPayload, s.Format)
	}
	return nil
}

// Payload is the render job payload.
type Payload struct {
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name,omitempty"`
	Spec      Spec      `json:"spec"`
	NotifyURL string    `json:"notify_url,omitempty"`
}

// Validate checks the payload before it is queued or executed. Invalid
// payloads fail identically on every attempt, so the handler dead-letters
// them immediately.
func (p Payload) Validate() error {
	if p.UserID == uuid.Nil {
		return fmt.Errorf("%w: user_id is required", ErrInvalidPayload)
	}
	if err := p.Spec.Validate(); err != nil {
		return err
	}
	if p.NotifyURL != "" {
		u, err := url.Parse(p.NotifyURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: notify_url %q is not an http(s) URL", ErrInvalidPayload, p.NotifyURL)
		}
	}
	return nil
}

// CompletedEvent is the body posted to the payload's notify URL after a
// successful render.
type CompletedEvent struct {
	JobID       uuid.UUID `json:"job_id"`
	UserID      uuid.UUID `json:"user_id"`
	Name        string    `json:"name,omitempty"`
	ArtifactKey string    `json:"artifact_key"`
	ArtifactURL string    `json:"artifact_url"`
	Size        int64     `json:"size"`
	Frames      int       `json:"frames"`
	CompletedAt time.Time `json:"completed_at"`
}

// Enqueuer is the queue surface the render package needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload any, opts ...queue.EnqueueOption) (*queue.Job, bool, error)
}

// EnqueueRender validates the payload and queues it on the renders queue
// with the render job type and step list. Additional options are applied
// after the defaults, so callers can override priority or attach an
// idempotency key.
func EnqueueRender(ctx context.Context, enq Enqueuer, p Payload, opts ...queue.EnqueueOption) (*queue.Job, bool, error) {
	if enq == nil {
		return nil, false, ErrEnqueuerNil
	}
	if err := p.Validate(); err != nil {
		return nil, false, err
	}

	base := []queue.EnqueueOption{
		queue.WithQueue(queue.QueueRenders),
		queue.WithJobType(JobType),
		queue.WithSteps(Steps()...),
	}
	return enq.Enqueue(ctx, p, append(base, opts...)...)
}

// objectKey places artifacts under a per-user prefix, so one user's renders
// can be listed or deleted as a group.
func objectKey(userID, jobID uuid.UUID, format string) string {
	return fmt.Sprintf("renders/%s/%s.%s", userID, jobID, format)
}
