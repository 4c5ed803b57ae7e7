package pg

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrInvalidConfig reports a connection string pgx cannot parse.
	ErrInvalidConfig = errors.New("invalid postgres config")

	// ErrUnavailable reports that the database never answered a ping before
	// the connect timeout expired.
	ErrUnavailable = errors.New("postgres unavailable")

	// ErrHealthcheck wraps ping failures from the Healthcheck probe.
	ErrHealthcheck = errors.New("postgres healthcheck")

	// ErrMigrate wraps schema migration failures.
	ErrMigrate = errors.New("apply migrations")
)

// SQLSTATE codes the storage layer distinguishes.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// IsNotFoundError reports whether err is pgx's empty query result.
func IsNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsDuplicateKeyError reports a unique constraint violation. Idempotency
// keys and per-job charge rows turn this into a dedup hit.
func IsDuplicateKeyError(err error) bool {
	return hasSQLState(err, codeUniqueViolation)
}

// IsForeignKeyViolationError reports a referential integrity failure, such
// as charging an account that was never provisioned.
func IsForeignKeyViolationError(err error) bool {
	return hasSQLState(err, codeForeignKeyViolation)
}

func hasSQLState(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
