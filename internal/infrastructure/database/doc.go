// Package database provides the SQLite connection used for the audit trail.
//
// This package manages:
//   - Opening the database file (or an in-memory database for tests)
//   - WAL mode and busy timeout through the go-sqlite3 DSN
//   - Schema migrations read from an fs.FS
//
// Device state is never persisted; the database only records which
// commands were handled and how background processes ended.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: each version has an .up.sql and may have a
// .down.sql, and each runs in its own transaction.
package database
