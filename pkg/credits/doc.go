// Package credits implements the platform's credit ledger.
//
// Rendering costs credits. The ledger guards two invariants no matter how
// often a job handler retries: a balance never goes negative, and a single
// job is charged at most once. Both come from the same statement shape the
// job queue uses for claims, a conditional UPDATE with RETURNING:
//
//	balance, already, err := ledger.Charge(ctx, userID, jobID, cost)
//	switch {
//	case errors.Is(err, credits.ErrInsufficientCredits):
//		return queue.Permanent(err) // retrying will not find more credits
//	case err != nil:
//		return err
//	case already:
//		// a previous attempt paid for this job, continue
//	}
//
// Two backends share the contract: SQLiteLedger piggybacks on the queue's
// embedded database for single-node deployments, PostgresLedger runs on a
// pgx pool next to the postgres queue storage.
package credits
