package render

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/renderkit/renderkit/pkg/automation"
	"github.com/renderkit/renderkit/pkg/queue"
)

// ActionTypeEnqueueRender chains a render job off an automation firing.
const ActionTypeEnqueueRender = "enqueue_render"

// Default spec values for automation-triggered renders when the action
// params leave them out.
const (
	defaultActionWidth  = 1280
	defaultActionHeight = 720
	defaultActionFPS    = 30
)

// EnqueueRenderAction is the automation executor behind enqueue_render
// actions. Params: "user_id" and "frames" (required), "width", "height",
// "fps", "format", "notify_url" (optional). The firing's trigger data
// becomes the render's scene document.
type EnqueueRenderAction struct {
	enqueuer Enqueuer
}

var _ automation.ActionExecutor = (*EnqueueRenderAction)(nil)

// NewEnqueueRenderAction creates the executor.
func NewEnqueueRenderAction(enq Enqueuer) (*EnqueueRenderAction, error) {
	if enq == nil {
		return nil, ErrEnqueuerNil
	}
	return &EnqueueRenderAction{enqueuer: enq}, nil
}

// Type implements automation.ActionExecutor
func (a *EnqueueRenderAction) Type() string {
	return ActionTypeEnqueueRender
}

// Execute implements automation.ActionExecutor. The enqueued job carries an
// idempotency key derived from the execution, so a retried automation job
// chains exactly one render.
func (a *EnqueueRenderAction) Execute(ctx context.Context, action automation.Action, inv automation.Invocation) error {
	userRaw, ok := action.StringParam("user_id")
	if !ok || userRaw == "" {
		return queue.Permanent(errors.New("enqueue_render action requires a user_id param"))
	}
	userID, err := uuid.Parse(userRaw)
	if err != nil {
		return queue.Permanent(fmt.Errorf("enqueue_render action has a malformed user_id: %w", err))
	}

	frames, ok := action.IntParam("frames")
	if !ok {
		return queue.Permanent(errors.New("enqueue_render action requires a frames param"))
	}

	spec := Spec{
		Width:  defaultActionWidth,
		Height: defaultActionHeight,
		FPS:    defaultActionFPS,
		Frames: frames,
		Scene:  inv.TriggerData,
	}
	if w, ok := action.IntParam("width"); ok {
		spec.Width = w
	}
	if h, ok := action.IntParam("height"); ok {
		spec.Height = h
	}
	if fps, ok := action.IntParam("fps"); ok {
		spec.FPS = fps
	}
	if format, ok := action.StringParam("format"); ok {
		spec.Format = format
	}

	p := Payload{
		UserID: userID,
		Name:   inv.Name,
		Spec:   spec,
	}
	if notifyURL, ok := action.StringParam("notify_url"); ok {
		p.NotifyURL = notifyURL
	}

	_, _, err = EnqueueRender(ctx, a.enqueuer, p,
		queue.WithIdempotencyKey("render:auto:"+inv.ExecutionID.String()))
	if err != nil {
		if errors.Is(err, ErrInvalidPayload) {
			// Bad action params fail the same way on every attempt
			return queue.Permanent(err)
		}
		return fmt.Errorf("failed to enqueue render: %w", err)
	}

	return nil
}
