// Package database opens the bridge's SQLite store and applies its
// schema migrations.
//
// The store is optional: without it bonds come from configuration and
// the attribute record and event log are disabled.
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Tables are declared STRICT. Migrations are additive: new columns are
// nullable or carry a default.
package database
