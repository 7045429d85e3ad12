// Package pg bootstraps PostgreSQL access on top of the pgx/v5 driver.
//
// It covers the pieces every service needs before its first query:
//
//   - Config is populated from environment variables (PG_CONN_URL and friends).
//   - Connect opens a *pgxpool.Pool, retrying with exponential backoff until the
//     database answers a ping.
//   - Migrate applies goose migrations from an fs.FS, usually an embed.FS
//     compiled into the binary.
//   - WithTx runs a function inside a transaction that is committed on success
//     and rolled back on error.
//   - Healthcheck returns a closure suitable for readiness endpoints.
//
// # Usage
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, migrations.FS, slog.Default()); err != nil {
//		return err
//	}
//
//	err = pg.WithTx(ctx, pool, func(tx pgx.Tx) error {
//		_, err := tx.Exec(ctx, "UPDATE ...")
//		return err
//	})
//
// # Error Handling
//
// IsNotFoundError, IsDuplicateKeyError and IsConstraintViolation classify
// errors returned by pgx without leaking *pgconn.PgError into business code.
package pg
