// Package database provides the SQLite store behind the bridge's command
// journal.
//
// The device registry itself is never persisted; it is rebuilt from the hub
// on every connection. This database only records which bus commands the
// bridge accepted or rejected.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are embedded by the top-level migrations package and named
// YYYYMMDD_HHMMSS_description.up.sql with a matching .down.sql.
package database
