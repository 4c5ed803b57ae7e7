package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLiteLedger keeps credit accounts in the same embedded database as the
// job queue, so a charge and the job it pays for live in one file.
type SQLiteLedger struct {
	db *sql.DB
}

var _ Ledger = (*SQLiteLedger)(nil)

// NewSQLiteLedger bootstraps the credit tables on the given handle. Pass
// the handle exposed by the queue's sqlite storage to share the database.
func NewSQLiteLedger(db *sql.DB) (*SQLiteLedger, error) {
	if db == nil {
		return nil, errors.New("db handle cannot be nil")
	}

	l := &SQLiteLedger{db: db}
	if err := l.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to init credits schema: %w", err)
	}
	return l, nil
}

func (l *SQLiteLedger) initSchema() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS credit_accounts (
			user_id TEXT PRIMARY KEY,
			balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS credit_charges (
			user_id TEXT NOT NULL,
			job_id TEXT NOT NULL,
			amount INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			refunded_at INTEGER,
			PRIMARY KEY (user_id, job_id)
		);

		CREATE INDEX IF NOT EXISTS idx_credit_charges_job
			ON credit_charges (job_id);
	`)
	return err
}

// Topup implements Ledger
func (l *SQLiteLedger) Topup(ctx context.Context, userID uuid.UUID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	var balance int64
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO credit_accounts (user_id, balance, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			balance = balance + excluded.balance,
			updated_at = excluded.updated_at
		RETURNING balance
	`, userID.String(), amount, time.Now().UnixNano()).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to top up account: %w", err)
	}
	return balance, nil
}

// Balance implements Ledger
func (l *SQLiteLedger) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := l.db.QueryRowContext(ctx, `
		SELECT balance FROM credit_accounts WHERE user_id = ?
	`, userID.String()).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
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
func (l *SQLiteLedger) Charge(ctx context.Context, userID, jobID uuid.UUID, amount int64) (int64, bool, error) {
	if amount <= 0 {
		return 0, false, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin charge: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UnixNano()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_charges (user_id, job_id, amount, created_at)
		VALUES (?, ?, ?, ?)
	`, userID.String(), jobID.String(), amount, now)
	if err != nil {
		if isConstraintConflict(err) {
			// A prior attempt committed this charge together with its
			// deduction, so the standing balance is already correct.
			// Release the transaction first: with a single-connection pool
			// the balance read below would otherwise wait on it forever.
			_ = tx.Rollback()
			balance, balErr := l.Balance(ctx, userID)
			if balErr != nil {
				return 0, true, balErr
			}
			return balance, true, nil
		}
		return 0, false, fmt.Errorf("failed to record charge: %w", err)
	}

	var balance int64
	err = tx.QueryRowContext(ctx, `
		UPDATE credit_accounts
		SET balance = balance - ?, updated_at = ?
		WHERE user_id = ? AND balance >= ?
		RETURNING balance
	`, amount, now, userID.String(), amount).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		var have int64
		lookupErr := tx.QueryRowContext(ctx, `
			SELECT balance FROM credit_accounts WHERE user_id = ?
		`, userID.String()).Scan(&have)
		if errors.Is(lookupErr, sql.ErrNoRows) {
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

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit charge: %w", err)
	}
	return balance, false, nil
}

// Refund implements Ledger
func (l *SQLiteLedger) Refund(ctx context.Context, userID, jobID uuid.UUID) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin refund: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UnixNano()
	var amount int64
	err = tx.QueryRowContext(ctx, `
		UPDATE credit_charges
		SET refunded_at = ?
		WHERE user_id = ? AND job_id = ? AND refunded_at IS NULL
		RETURNING amount
	`, now, userID.String(), jobID.String()).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		var refunded sql.NullInt64
		lookupErr := tx.QueryRowContext(ctx, `
			SELECT refunded_at FROM credit_charges WHERE user_id = ? AND job_id = ?
		`, userID.String(), jobID.String()).Scan(&refunded)
		if errors.Is(lookupErr, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: user %s job %s", ErrChargeNotFound, userID, jobID)
		}
		if lookupErr != nil {
			return 0, fmt.Errorf("failed to look up charge: %w", lookupErr)
		}
		return 0, fmt.Errorf("%w: user %s job %s", ErrChargeRefunded, userID, jobID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to mark charge refunded: %w", err)
	}

	var balance int64
	err = tx.QueryRowContext(ctx, `
		UPDATE credit_accounts
		SET balance = balance + ?, updated_at = ?
		WHERE user_id = ?
		RETURNING balance
	`, amount, now, userID.String()).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to credit refund: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit refund: %w", err)
	}
	return balance, nil
}

// isConstraintConflict detects sqlite unique violations without binding the
// package to a specific driver, matching how the execution store shares the
// queue's database handle.
func isConstraintConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
