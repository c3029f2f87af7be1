// Package database provides SQLite connectivity for Gray Logic Access.
//
// It owns the connection lifecycle (WAL mode, busy timeout, single writer)
// and applies schema migrations read from an fs.FS, normally the embedded
// migrations package.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a default,
// and every .up.sql ships with a matching .down.sql.
package database
