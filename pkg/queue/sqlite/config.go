package sqlite

import "time"

type Config struct {
	Path         string        `env:"SQLITE_PATH" envDefault:"renderkit.db"`      // Path is the database file; created on first open.
	BusyTimeout  time.Duration `env:"SQLITE_BUSY_TIMEOUT" envDefault:"5s"`       // BusyTimeout is how long a statement waits for the write lock.
	MaxOpenConns int           `env:"SQLITE_MAX_OPEN_CONNS" envDefault:"4"`      // MaxOpenConns caps the connection pool; WAL readers run in parallel.
	MaxIdleConns int           `env:"SQLITE_MAX_IDLE_CONNS" envDefault:"2"`      // MaxIdleConns is the number of idle connections kept around.
}
