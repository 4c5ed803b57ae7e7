package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/renderkit/renderkit/pkg/queue"
	"github.com/renderkit/renderkit/pkg/webhook"
)

// Invocation carries the firing context into action executors.
type Invocation struct {
	AutomationID uuid.UUID
	ExecutionID  uuid.UUID
	Name         string
	TriggerData  json.RawMessage
}

// ActionExecutor runs one action type. Executors decide failure semantics:
// a plain error retries the whole job, a queue.Permanent error dead-letters
// it.
type ActionExecutor interface {
	// Type is the action type this executor handles
	Type() string

	// Execute runs the action
	Execute(ctx context.Context, action Action, inv Invocation) error
}

// ActionTypeWebhook posts a signed JSON event to the URL in the action params.
const ActionTypeWebhook = "webhook"

// WebhookEvent is the body delivered by webhook actions.
type WebhookEvent struct {
	AutomationID   uuid.UUID       `json:"automation_id"`
	AutomationName string          `json:"automation_name"`
	ExecutionID    uuid.UUID       `json:"execution_id"`
	TriggerData    json.RawMessage `json:"trigger_data,omitempty"`
	FiredAt        time.Time       `json:"fired_at"`
}

// WebhookAction delivers automation events over HTTP. Params:
// "url" (required) and "secret" (optional, enables HMAC signing).
type WebhookAction struct {
	sender  *webhook.Sender
	timeout time.Duration
}

var _ ActionExecutor = (*WebhookAction)(nil)

// NewWebhookAction creates a webhook action executor around the given
// sender. A nil sender gets the default one.
func NewWebhookAction(sender *webhook.Sender) *WebhookAction {
	if sender == nil {
		sender = webhook.NewSender()
	}
	return &WebhookAction{
		sender:  sender,
		timeout: 15 * time.Second,
	}
}

// Type implements ActionExecutor
func (w *WebhookAction) Type() string {
	return ActionTypeWebhook
}

// Execute implements ActionExecutor. Delivery is a single attempt: the job's
// retry policy owns backoff, so stacking the sender's retry loop on top
// would multiply attempts. A 4xx response cannot heal on retry and fails
// the job permanently.
func (w *WebhookAction) Execute(ctx context.Context, action Action, inv Invocation) error {
	url, ok := action.StringParam("url")
	if !ok || url == "" {
		return queue.Permanent(errors.New("webhook action requires a url param"))
	}

	event := WebhookEvent{
		AutomationID:   inv.AutomationID,
		AutomationName: inv.Name,
		ExecutionID:    inv.ExecutionID,
		TriggerData:    inv.TriggerData,
		FiredAt:        time.Now(),
	}

	// The execution ID doubles as the delivery ID, so receivers see one
	// logical delivery per firing however often the job retries.
	opts := []webhook.SendOption{
		webhook.WithNoRetry(),
		webhook.WithTimeout(w.timeout),
		webhook.WithEventName("automation.fired"),
		webhook.WithDeliveryID(inv.ExecutionID),
	}
	if secret, ok := action.StringParam("secret"); ok && secret != "" {
		opts = append(opts, webhook.WithSignature(secret))
	}

	if err := w.sender.Send(ctx, url, event, opts...); err != nil {
		if errors.Is(err, webhook.ErrPermanentFailure) || errors.Is(err, webhook.ErrInvalidURL) {
			return queue.Permanent(fmt.Errorf("webhook delivery rejected: %w", err))
		}
		return fmt.Errorf("webhook delivery failed: %w", err)
	}

	return nil
}
