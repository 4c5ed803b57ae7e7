package credits

import (
	"context"

	"github.com/google/uuid"
)

// Ledger is the credit accounting surface. Both backends keep the same
// contract: Charge deducts at most once per (user, job) pair, and a balance
// can never go negative.
type Ledger interface {
	// Topup credits an account, creating it on first use. Returns the new
	// balance.
	Topup(ctx context.Context, userID uuid.UUID, amount int64) (int64, error)

	// Balance returns the current balance for an account.
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)

	// Charge deducts amount from the account if it can afford it, recording
	// the deduction against jobID. A repeated charge for the same (user, job)
	// pair deducts nothing and reports alreadyCharged, so a retried job
	// handler can call Charge unconditionally.
	Charge(ctx context.Context, userID, jobID uuid.UUID, amount int64) (balance int64, alreadyCharged bool, err error)

	// Refund reverses the charge recorded for (user, job), crediting its
	// amount back. Refunding twice fails.
	Refund(ctx context.Context, userID, jobID uuid.UUID) (int64, error)
}
