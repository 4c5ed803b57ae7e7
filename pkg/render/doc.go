// Package render implements the video render pipeline as a queue job
// handler.
//
// A render.video job moves through four steps: prepare validates the
// payload and charges the user's credits (idempotently, so retries never
// double-charge), render streams frames from the engine, upload puts the
// stream into artifact storage, and notify optionally posts a signed
// completion event to the payload's notify URL. Frame progress and the
// uploaded artifact land in the job's step state; because the artifact key
// is recorded there, a retry after a failed notification resumes at notify
// instead of rendering again.
//
// Wiring:
//
//	engine := render.NewMemoryEngine()
//	handler, err := render.NewHandler(engine, ledger, artifacts,
//		render.WithNotifySecret(cfg.WebhookSecret))
//	if err != nil {
//		return err
//	}
//	if err := worker.RegisterHandler(handler); err != nil {
//		return err
//	}
//
//	job, deduplicated, err := render.EnqueueRender(ctx, enqueuer, render.Payload{
//		UserID: userID,
//		Spec:   render.Spec{Width: 1920, Height: 1080, FPS: 30, Frames: 900},
//	})
//
// Automations chain renders with an enqueue_render action; the executor
// derives an idempotency key from the execution so one firing produces one
// render no matter how often the automation job retries.
package render
