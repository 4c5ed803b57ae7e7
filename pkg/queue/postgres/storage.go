package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/renderkit/renderkit/pkg/queue"
)

// Storage implements the queue repository interfaces on top of a pgx
// connection pool. The pool is owned by the caller; Storage never closes it.
type Storage struct {
	pool *pgxpool.Pool
}

var (
	_ queue.EnqueuerRepository = (*Storage)(nil)
	_ queue.WorkerRepository   = (*Storage)(nil)
	_ queue.ManagerRepository  = (*Storage)(nil)
	_ queue.MonitorRepository  = (*Storage)(nil)
)

// New wraps an established connection pool. The jobs table must already
// exist; run pg.Migrate before handing the pool over.
func New(pool *pgxpool.Pool) *Storage {
	return &Storage{pool: pool}
}

// Pool exposes the underlying connection pool for components that share the
// database, such as the credit ledger.
func (s *Storage) Pool() *pgxpool.Pool {
	return s.pool
}
