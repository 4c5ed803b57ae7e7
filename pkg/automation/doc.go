// Package automation turns trigger firings into durable background work.
//
// An Automation pairs a trigger (webhook, schedule, or asset upload) with an
// ordered list of actions. When a trigger fires, the Runner records an
// Execution and enqueues exactly one job carrying a snapshot of the
// automation's actions, so edits made after the firing never change what an
// already-queued firing does. The queue's idempotency key support collapses
// duplicate firings onto a single execution.
//
// The package is organised around four components:
//
//   - Runner    — the trigger entry point; creates executions and enqueues jobs,
//     and resolves executions from queue events as jobs finish
//   - Scheduler — fires schedule-triggered automations on their parsed schedule
//   - handlers  — queue handlers (built by NewHandlers) that execute an
//     automation's actions inside a worker
//   - ExecutionStore — persistence for execution records, with in-memory and
//     SQLite implementations
//
// # Firing flow
//
// Trigger validates the automation, creates a queued Execution, and enqueues a
// job on the automation queue. If the queue reports the job as a duplicate of
// an in-flight firing, the execution is rolled back and ErrExecutionInProgress
// is returned. The Runner's event loop (Run) subscribes to queue events and
// marks executions succeeded or failed when their job completes or
// dead-letters.
//
// # Actions
//
// Each action type is implemented by an ActionExecutor registered with
// NewHandlers. Executors signal unretryable failures by wrapping errors with
// queue.Permanent; plain errors retry the whole firing under the job's retry
// policy.
//
// # Usage
//
//	store := automation.NewMemoryExecutionStore()
//	runner, err := automation.NewRunner(store, enqueuer,
//	    automation.WithRunnerEvents(events),
//	)
//	if err != nil {
//	    return err
//	}
//
//	handlers, err := automation.NewHandlers(logger,
//	    automation.NewWebhookAction(nil),
//	)
//	if err != nil {
//	    return err
//	}
//	worker, err := queue.NewWorker(repo, handlers,
//	    queue.WithQueues(queue.QueueAutomation),
//	)
//	if err != nil {
//	    return err
//	}
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(worker.Run(ctx))
//	g.Go(runner.Run(ctx))
//
//	result, err := runner.Trigger(ctx, a, webhookBody)
package automation
