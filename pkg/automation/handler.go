package automation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/renderkit/renderkit/pkg/queue"
)

// NewHandlers builds the queue handlers for automation jobs: one per
// registered executor type plus the sequence type for multi-action
// automations. Register all of them on the worker serving the automation
// queue.
func NewHandlers(logger *slog.Logger, executors ...ActionExecutor) ([]queue.Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	registry := make(map[string]ActionExecutor, len(executors))
	for _, exec := range executors {
		if exec == nil {
			return nil, fmt.Errorf("nil action executor")
		}
		if _, dup := registry[exec.Type()]; dup {
			return nil, fmt.Errorf("duplicate action executor for type %q", exec.Type())
		}
		registry[exec.Type()] = exec
	}

	run := runActionsFunc(registry, logger)

	handlers := make([]queue.Handler, 0, len(registry)+1)
	for actionType := range registry {
		handlers = append(handlers, queue.NewNamedJobHandler(JobTypePrefix+actionType, run))
	}
	handlers = append(handlers, queue.NewNamedJobHandler(JobTypeSequence, run))

	return handlers, nil
}

// runActionsFunc returns the shared handler body: actions run strictly in
// order, and the first failure aborts the rest. An action type with no
// executor is a permanent failure since no retry can register one.
func runActionsFunc(registry map[string]ActionExecutor, logger *slog.Logger) queue.JobHandlerFunc[RunPayload] {
	return func(ctx context.Context, job *queue.ActiveJob, payload RunPayload) error {
		inv := Invocation{
			AutomationID: payload.AutomationID,
			ExecutionID:  payload.ExecutionID,
			Name:         payload.Name,
			TriggerData:  payload.TriggerData,
		}

		for i, action := range payload.Actions {
			executor, ok := registry[action.Type]
			if !ok {
				return queue.Permanent(fmt.Errorf("%w: %q", ErrUnknownActionType, action.Type))
			}

			logger.DebugContext(ctx, "executing automation action",
				slog.String("automation_id", payload.AutomationID.String()),
				slog.String("action_type", action.Type),
				slog.Int("action_index", i))

			if err := executor.Execute(ctx, action, inv); err != nil {
				return fmt.Errorf("action %d (%s) failed: %w", i, action.Type, err)
			}

			// Progress is advisory; a failed write must not fail the firing
			if err := job.SetStepState(ctx, "actions_completed", i+1); err != nil {
				logger.DebugContext(ctx, "failed to record action progress",
					slog.String("job_id", job.ID.String()),
					slog.String("error", err.Error()))
			}
		}

		return nil
	}
}
