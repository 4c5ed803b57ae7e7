package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/renderkit/renderkit/pkg/queue"
)

var (
	ErrFailedToOpenDatabase = errors.New("failed to open sqlite database")
	ErrHealthcheckFailed    = errors.New("healthcheck failed, database is not available")
)

// Storage is the embedded queue store. It satisfies the queue package's
// EnqueuerRepository, WorkerRepository, ManagerRepository, and
// MonitorRepository interfaces.
type Storage struct {
	db *sql.DB
}

var (
	_ queue.EnqueuerRepository = (*Storage)(nil)
	_ queue.WorkerRepository   = (*Storage)(nil)
	_ queue.ManagerRepository  = (*Storage)(nil)
	_ queue.MonitorRepository  = (*Storage)(nil)
)

// Open opens (creating if necessary) the database file and bootstraps the
// schema. The connection is configured for WAL journaling so readers and the
// single writer do not block each other.
func Open(cfg Config) (*Storage, error) {
	if cfg.Path == "" {
		cfg.Path = "renderkit.db"
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Join(ErrFailedToOpenDatabase, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Join(ErrFailedToOpenDatabase, err)
	}

	storage := &Storage{db: db}
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// Close closes the underlying database
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle so other components (execution store,
// credit ledger) can share the same database file.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// Healthcheck returns a closure compatible with standard health endpoints
func (s *Storage) Healthcheck() func(context.Context) error {
	return func(ctx context.Context) error {
		if err := s.db.PingContext(ctx); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}

func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		queue TEXT NOT NULL,
		job_type TEXT NOT NULL,
		payload BLOB,
		status TEXT NOT NULL DEFAULT 'pending',
		priority INTEGER NOT NULL DEFAULT 2,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		scheduled_at INTEGER NOT NULL,
		idempotency_key TEXT,
		steps TEXT,
		step_state TEXT,
		worker_id TEXT,
		last_error TEXT,
		last_error_attempt INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		completed_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_claim
		ON jobs(queue, status, priority, scheduled_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_status
		ON jobs(status, started_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_dead_letter
		ON jobs(completed_at) WHERE status = 'dead_letter';

	-- Uniqueness covers non-terminal rows only, so finishing a job releases
	-- its idempotency key for reuse
	CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_idempotency
		ON jobs(queue, job_type, idempotency_key)
		WHERE idempotency_key IS NOT NULL
		  AND status NOT IN ('completed', 'dead_letter', 'cancelled');
	`

	_, err := s.db.Exec(schema)
	return err
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func isPrimaryKeyError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
