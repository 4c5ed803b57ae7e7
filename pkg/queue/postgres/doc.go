// Package postgres provides PostgreSQL-backed job queue storage for
// multi-node deployments. It implements the same repository interfaces as
// the sqlite backend, so workers, enqueuers, managers, and monitors are
// wired identically regardless of which store sits underneath.
//
// The claim statement locks the candidate row with FOR UPDATE SKIP LOCKED,
// so any number of worker processes can poll the same table without
// serializing on a single writer. Everything else (partial unique index for
// idempotency keys, status-guarded transitions, JSONB step-state merge)
// matches the sqlite backend semantics.
//
// # Usage
//
//	pool, err := pg.Connect(ctx, cfg.Postgres)
//	if err != nil {
//		return err
//	}
//	if err := pg.Migrate(ctx, pool, cfg.Postgres, log); err != nil {
//		return err
//	}
//
//	storage := postgres.New(pool)
//	enqueuer, err := queue.NewEnqueuer(storage)
//	worker, err := queue.NewWorker(storage, queue.WithQueues(queue.QueueRenders))
//
// Schema lives in goose migration files (see internal/db/migrations); the
// package never creates tables on its own. Use pg.Healthcheck(pool) for
// liveness probes.
package postgres
