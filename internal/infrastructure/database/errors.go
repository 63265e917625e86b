package database

import "errors"

var (
	// ErrNoPath is returned by Open when the configuration has no path.
	ErrNoPath = errors.New("database: path not configured")

	// ErrNoDownMigration is returned when rolling back a migration that
	// has no .down.sql file.
	ErrNoDownMigration = errors.New("database: migration has no down SQL")

	// ErrMigrationMissing is returned when an applied version no longer
	// exists in the migration set.
	ErrMigrationMissing = errors.New("database: applied migration not found")
)
