// Package snapshot stores Flux query results in SQLite so they can be listed,
// reloaded with their original Go types, and written back to InfluxDB.
//
// # Usage
//
//	repo := snapshot.NewSQLiteRepository(db.DB)
//
//	snap, err := repo.Save(ctx, "cpu-hourly", flux, flux.ModeFull, tables)
//	tables, err := repo.Tables(ctx, snap.ID)
//
// # Thread Safety
//
// The repository holds no state beyond the *sql.DB and is safe for
// concurrent use.
package snapshot
