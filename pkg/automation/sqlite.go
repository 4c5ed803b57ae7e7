package automation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLiteExecutionStore persists executions in the same embedded database as
// the job queue, so a process restart does not orphan in-flight firings.
// Growth is bounded by the retention sweep instead of eviction; wire
// PurgeOlderThan into a periodic task.
type SQLiteExecutionStore struct {
	db *sql.DB
}

var _ ExecutionStore = (*SQLiteExecutionStore)(nil)

// NewSQLiteExecutionStore bootstraps the executions table on the given
// handle. Pass the handle exposed by the queue's sqlite storage to keep
// jobs and executions in one file.
func NewSQLiteExecutionStore(db *sql.DB) (*SQLiteExecutionStore, error) {
	if db == nil {
		return nil, errors.New("db handle cannot be nil")
	}

	s := &SQLiteExecutionStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to init executions schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteExecutionStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			automation_id TEXT NOT NULL,
			job_id TEXT,
			status TEXT NOT NULL DEFAULT 'queued',
			error TEXT,
			created_at INTEGER NOT NULL,
			completed_at INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_executions_automation
			ON executions (automation_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_executions_job
			ON executions (job_id);
	`)
	return err
}

// CreateExecution implements ExecutionStore
func (s *SQLiteExecutionStore) CreateExecution(ctx context.Context, exec *Execution) error {
	if exec == nil {
		return ErrExecutionNil
	}

	var jobID any
	if exec.JobID != uuid.Nil {
		jobID = exec.JobID.String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, automation_id, job_id, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, exec.ID.String(), exec.AutomationID.String(), jobID,
		string(exec.Status), exec.CreatedAt.UnixNano())
	if err != nil {
		if isPrimaryKeyConflict(err) {
			return ErrExecutionExists
		}
		return fmt.Errorf("failed to insert execution: %w", err)
	}

	return nil
}

// GetExecution implements ExecutionStore
func (s *SQLiteExecutionStore) GetExecution(ctx context.Context, id uuid.UUID) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, automation_id, job_id, status, error, created_at, completed_at
		FROM executions
		WHERE id = ?
	`, id.String())

	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExecutionNotFound
	}
	return exec, err
}

// GetExecutionsByAutomation implements ExecutionStore
func (s *SQLiteExecutionStore) GetExecutionsByAutomation(ctx context.Context, automationID uuid.UUID) ([]*Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, automation_id, job_id, status, error, created_at, completed_at
		FROM executions
		WHERE automation_id = ?
		ORDER BY created_at DESC
	`, automationID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}
	return executions, rows.Err()
}

// SetExecutionJob implements ExecutionStore
func (s *SQLiteExecutionStore) SetExecutionJob(ctx context.Context, executionID, jobID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE executions SET job_id = ? WHERE id = ?
	`, jobID.String(), executionID.String())
	if err != nil {
		return fmt.Errorf("failed to link execution job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

// ResolveExecutionByJob implements ExecutionStore
func (s *SQLiteExecutionStore) ResolveExecutionByJob(ctx context.Context, jobID uuid.UUID, status ExecutionStatus, errMsg string) (*Execution, error) {
	var errVal any
	if errMsg != "" {
		errVal = errMsg
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE executions
		SET status = ?, error = ?, completed_at = ?
		WHERE job_id = ?
		RETURNING id, automation_id, job_id, status, error, created_at, completed_at
	`, string(status), errVal, time.Now().UnixNano(), jobID.String())

	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExecutionNotFound
	}
	return exec, err
}

// DeleteExecution implements ExecutionStore
func (s *SQLiteExecutionStore) DeleteExecution(ctx context.Context, executionID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM executions WHERE id = ?
	`, executionID.String())
	if err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

// PurgeOlderThan deletes resolved executions created before the cutoff and
// returns how many were removed. Queued executions are kept regardless of
// age: their jobs may still resolve.
func (s *SQLiteExecutionStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM executions
		WHERE created_at < ? AND status IN (?, ?)
	`, cutoff.UnixNano(), string(ExecutionStatusSucceeded), string(ExecutionStatusFailed))
	if err != nil {
		return 0, fmt.Errorf("failed to purge executions: %w", err)
	}
	return res.RowsAffected()
}

// Purge returns a periodic task that trims resolved executions older than
// retention. Wire it into the process group alongside the monitor.
func (s *SQLiteExecutionStore) Purge(ctx context.Context, retention, interval time.Duration) func() error {
	return func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if _, err := s.PurgeOlderThan(ctx, time.Now().Add(-retention)); err != nil && ctx.Err() == nil {
					return err
				}
			}
		}
	}
}

func scanExecution(row interface{ Scan(dest ...any) error }) (*Execution, error) {
	var (
		exec        Execution
		id          string
		automation  string
		jobID       sql.NullString
		status      string
		errMsg      sql.NullString
		createdAt   int64
		completedAt sql.NullInt64
	)

	if err := row.Scan(&id, &automation, &jobID, &status, &errMsg, &createdAt, &completedAt); err != nil {
		return nil, err
	}

	var err error
	if exec.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid execution ID %q: %w", id, err)
	}
	if exec.AutomationID, err = uuid.Parse(automation); err != nil {
		return nil, fmt.Errorf("invalid automation ID %q: %w", automation, err)
	}
	if jobID.Valid {
		if exec.JobID, err = uuid.Parse(jobID.String); err != nil {
			return nil, fmt.Errorf("invalid job ID %q: %w", jobID.String, err)
		}
	}

	exec.Status = ExecutionStatus(status)
	if errMsg.Valid {
		exec.Error = &errMsg.String
	}
	exec.CreatedAt = time.Unix(0, createdAt)
	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64)
		exec.CompletedAt = &t
	}

	return &exec, nil
}

// isPrimaryKeyConflict matches the driver's unique-violation message text so
// this package stays free of driver imports; the queue's sqlite package owns
// the typed error checks.
func isPrimaryKeyConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
