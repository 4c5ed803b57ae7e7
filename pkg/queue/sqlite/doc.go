// Package sqlite provides the canonical embedded storage backend for the job
// queue, implementing every pkg/queue repository interface on a single SQLite
// database file.
//
// The backend opens the database in WAL mode with a busy timeout so one
// process can serve concurrent workers: readers never block, and competing
// claim statements serialize on the write lock. Claiming is a single
// UPDATE ... RETURNING statement, so two workers can never receive the same
// job even across processes sharing the file.
//
// Idempotent enqueue is enforced by a partial unique index over
// (queue, job_type, idempotency_key) that covers only non-terminal rows.
// Completing, dead-lettering, or cancelling a job removes it from the index,
// which is exactly the key-release semantic the enqueuer relies on.
//
// Usage:
//
//	storage, err := sqlite.Open(sqlite.Config{Path: "renderkit.db"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer storage.Close()
//
//	enqueuer, _ := queue.NewEnqueuer(storage)
//	worker, _ := queue.NewWorker(storage)
//
// The schema is bootstrapped on Open and is safe to re-run; there is no
// separate migration step for the embedded store. Deployments that outgrow a
// single file move to the postgres backend, which shares the same interfaces.
package sqlite
