package sqlite

import (
	"context"
	"database/sql"
)

// RunMigrate runs migration on a database (exported for testing)
func RunMigrate(ctx context.Context, db *sql.DB) error {
	return migrate(ctx, db)
}

// NewFromDB creates a store from an existing db connection (exported for testing)
func NewFromDB(db *sql.DB) (*Store, error) {
	return newFromDB(db, defaultConfig())
}

// SetDBOpener replaces the opener used by New and returns a restore func
func SetDBOpener(fn func(driver, dsn string) (*sql.DB, error)) func() {
	prev := dbOpener
	dbOpener = fn
	return func() { dbOpener = prev }
}
