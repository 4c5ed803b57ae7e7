// Package pg opens the PostgreSQL pool the postgres storage driver and the
// credit ledger share, applies schema migrations, and classifies the driver
// errors storage code branches on.
//
// The daemon wires it up in postgres mode like this:
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//	    return err
//	}
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//	if err := pg.Migrate(ctx, pool, cfg, log); err != nil {
//	    return err
//	}
//
// Connect keeps pinging until the database answers or the connect timeout
// runs out. Migrate runs the goose migrations and must complete before
// workers start claiming jobs.
//
// IsNotFoundError, IsDuplicateKeyError and IsForeignKeyViolationError unwrap
// pgx errors so storage code can branch without importing pgconn.
package pg
