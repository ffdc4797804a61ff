// Package database provides SQLite connectivity for the fluxquery snapshot store.
//
// This package manages:
//   - Connection setup with WAL mode and a busy timeout
//   - Forward-only schema migrations read from an fs.FS
//   - Connection lifecycle and health checks
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
// All queries use parameterised statements. The database file is created
// with 0600 permissions.
package database
