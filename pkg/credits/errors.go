package credits

import "errors"

var (
	// ErrInvalidAmount is returned when a topup or charge amount is not
	// positive.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrAccountNotFound is returned when no account exists for the user.
	// Accounts are created by the first Topup.
	ErrAccountNotFound = errors.New("credit account not found")

	// ErrInsufficientCredits is returned when a charge would drive the
	// balance negative. Job handlers should treat it as permanent.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrChargeNotFound is returned by Refund when no charge exists for the
	// (user, job) pair.
	ErrChargeNotFound = errors.New("charge not found")

	// ErrChargeRefunded is returned by Refund when the charge was already
	// refunded.
	ErrChargeRefunded = errors.New("charge already refunded")
)
