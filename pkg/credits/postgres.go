package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/renderkit/renderkit/pkg/pg"
)

// PostgresLedger keeps credit accounts in PostgreSQL. The tables are created
// by the credit migration; run pg.Migrate before handing the pool over.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

var _ Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger wraps an established connection pool. The pool is owned
// by the caller; the ledger never closes it.
func NewPostgresLedger(pool *pgxpool.Pool) (*PostgresLedger, error) {
	if pool == nil {
		return nil, errors.New("pool cannot be nil")
	}
	return &PostgresLedger{pool: pool}, nil
}

// Topup implements Ledger
func (l *PostgresLedger) Topup(ctx context.Context, userID uuid.UUID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	var balance int64
	err := l.pool.QueryRow(ctx, `
		INSERT INTO credit_accounts (user_id, balance, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET
			balance = credit_accounts.balance + EXCLUDED.balance,
			updated_at = now()
		RETURNING balance
	`, userID, amount).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to top up account: %w", err)
	}
	return balance, nil
}

// Balance implements Ledger
func (l *PostgresLedger) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := l.pool.QueryRow(ctx, `
		SELECT balance FROM credit_accounts WHERE user_id = $1
	`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, userID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

// Charge implements Ledger. The charge row and the deduction commit in one
// transaction; inserting the row first means a duplicate (user, job) pair is
// detected before any money moves.
func (l *PostgresLedger) Charge(ctx context.Context, userID, jobID uuid.UUID, amount int64) (int64, bool, error) {
	if amount <= 0 {
		return 0, false, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin charge: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO credit_charges (user_id, job_id, amount)
		VALUES ($1, $2, $3)
	`, userID, jobID, amount)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			// A prior attempt committed this charge together with its
			// deduction. The aborted transaction must go before anything
			// else runs on this connection.
			_ = tx.Rollback(ctx)
			balance, balErr := l.Balance(ctx, userID)
			if balErr != nil {
				return 0, true, balErr
			}
			return balance, true, nil
		}
		// Charges reference the account row, so an unprovisioned user fails
		// here rather than at the deduction.
		if pg.IsForeignKeyViolationError(err) {
			return 0, false, fmt.Errorf("%w: %s", ErrAccountNotFound, userID)
		}
		return 0, false, fmt.Errorf("failed to record charge: %w", err)
	}

	var balance int64
	err = tx.QueryRow(ctx, `
		UPDATE credit_accounts
		SET balance = balance - $1, updated_at = now()
		WHERE user_id = $2 AND balance >= $1
		RETURNING balance
	`, amount, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		var have int64
		lookupErr := tx.QueryRow(ctx, `
			SELECT balance FROM credit_accounts WHERE user_id = $1
		`, userID).Scan(&have)
		if errors.Is(lookupErr, pgx.ErrNoRows) {
			return 0, false, fmt.Errorf("%w: %s", ErrAccountNotFound, userID)
		}
		if lookupErr != nil {
			return 0, false, fmt.Errorf("failed to read balance: %w", lookupErr)
		}
		return 0, false, fmt.Errorf("%w: have %d, need %d", ErrInsufficientCredits, have, amount)
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to deduct credits: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("failed to commit charge: %w", err)
	}
	return balance, false, nil
}

// Refund implements Ledger
func (l *PostgresLedger) Refund(ctx context.Context, userID, jobID uuid.UUID) (int64, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin refund: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var amount int64
	err = tx.QueryRow(ctx, `
		UPDATE credit_charges
		SET refunded_at = now()
		WHERE user_id = $1 AND job_id = $2 AND refunded_at IS NULL
		RETURNING amount
	`, userID, jobID).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		lookupErr := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM credit_charges WHERE user_id = $1 AND job_id = $2
			)
		`, userID, jobID).Scan(&exists)
		if lookupErr != nil {
			return 0, fmt.Errorf("failed to look up charge: %w", lookupErr)
		}
		if !exists {
			return 0, fmt.Errorf("%w: user %s job %s", ErrChargeNotFound, userID, jobID)
		}
		return 0, fmt.Errorf("%w: user %s job %s", ErrChargeRefunded, userID, jobID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to mark charge refunded: %w", err)
	}

	var balance int64
	err = tx.QueryRow(ctx, `
		UPDATE credit_accounts
		SET balance = balance + $1, updated_at = now()
		WHERE user_id = $2
		RETURNING balance
	`, amount, userID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to credit refund: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit refund: %w", err)
	}
	return balance, nil
}
