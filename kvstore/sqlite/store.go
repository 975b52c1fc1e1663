// Package sqlite persists the hal cache in a SQLite database through the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knaydenov/hal"
	_ "modernc.org/sqlite"
)

// Store implements hal.KeyValueStore on a single SQLite table.
type Store struct {
	db          *sql.DB
	cfg         *config
	logger      Logger
	metricsHook MetricsHook

	// Prepared statements
	getStmt    *sql.Stmt
	setStmt    *sql.Stmt
	removeStmt *sql.Stmt
	clearStmt  *sql.Stmt
}

var _ hal.KeyValueStore = (*Store)(nil)

// dbOpener is used to open database connections, injectable for testing
var dbOpener = sql.Open

// New creates a Store with the given path and options.
//
// Note: When WithAutoMigrate is enabled (the default), migrations run with
// context.Background() and are not cancellable.
func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}

	// Validate path to prevent URI parameter injection
	if path != ":memory:" && (strings.Contains(path, "?") || strings.Contains(path, "#")) {
		return nil, errors.New("sqlite: path cannot contain '?' or '#' characters")
	}

	cfg := defaultConfig()
	cfg.path = path
	for _, opt := range opts {
		opt(cfg)
	}

	var dsn string
	if cfg.path == ":memory:" {
		// Shared cache lets every pooled connection see the same database
		dsn = "file::memory:?mode=memory&cache=shared"
	} else {
		dsn = fmt.Sprintf("file:%s?_busy_timeout=%d", cfg.path, cfg.busyTimeout.Milliseconds())
	}

	db, err := dbOpener("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	if err := applyPragmas(db, cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply pragmas: %w", err)
	}

	if cfg.autoMigrate {
		if err := migrate(context.Background(), db); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: migrate: %w", err)
		}
	}

	return newFromDB(db, cfg)
}

// newFromDB creates a Store from an existing database connection
func newFromDB(db *sql.DB, cfg *config) (*Store, error) {
	store := &Store{
		db:          db,
		cfg:         cfg,
		logger:      cfg.logger,
		metricsHook: cfg.metricsHook,
	}

	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: prepare statements: %w", err)
	}

	if store.logger != nil {
		store.logger.Info("sqlite store opened", "path", cfg.path)
	}
	return store, nil
}

// applyPragmas configures SQLite for a small, write-heavy table
func applyPragmas(db *sql.DB, cfg *config) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout.Milliseconds()),
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("exec %q: %w", pragma, err)
		}
	}

	return nil
}

func (s *Store) prepareStatements() error {
	type stmtDef struct {
		dest **sql.Stmt
		sql  string
	}

	stmts := []stmtDef{
		{&s.getStmt, "SELECT value FROM kv WHERE key = ?"},
		{&s.setStmt, `INSERT INTO kv (key, value, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`},
		{&s.removeStmt, "DELETE FROM kv WHERE key = ?"},
		{&s.clearStmt, "DELETE FROM kv"},
	}

	for _, def := range stmts {
		stmt, err := s.db.Prepare(def.sql)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		*def.dest = stmt
	}

	return nil
}

// GetItem implements hal.KeyValueStore
func (s *Store) GetItem(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()

	var value string
	err := s.getStmt.QueryRowContext(ctx, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		if s.metricsHook != nil {
			s.metricsHook.OnGet(time.Since(start), false, nil)
		}
		return "", false, nil
	}
	if err != nil {
		if s.metricsHook != nil {
			s.metricsHook.OnGet(time.Since(start), false, err)
		}
		return "", false, fmt.Errorf("sqlite: get %q: %w", key, err)
	}

	if s.metricsHook != nil {
		s.metricsHook.OnGet(time.Since(start), true, nil)
	}
	return value, true, nil
}

// SetItem implements hal.KeyValueStore
func (s *Store) SetItem(ctx context.Context, key, value string) error {
	start := time.Now()

	_, err := s.setStmt.ExecContext(ctx, key, value)
	if s.metricsHook != nil {
		s.metricsHook.OnSet(time.Since(start), len(value), err)
	}
	if err != nil {
		return fmt.Errorf("sqlite: set %q: %w", key, err)
	}

	if s.logger != nil {
		s.logger.Debug("stored value", "key", key, "bytes", len(value))
	}
	return nil
}

// RemoveItem implements hal.KeyValueStore
func (s *Store) RemoveItem(ctx context.Context, key string) error {
	start := time.Now()

	_, err := s.removeStmt.ExecContext(ctx, key)
	if s.metricsHook != nil {
		s.metricsHook.OnRemove(time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("sqlite: remove %q: %w", key, err)
	}
	return nil
}

// Clear implements hal.KeyValueStore
func (s *Store) Clear(ctx context.Context) error {
	res, err := s.clearStmt.ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: clear: %w", err)
	}

	if s.logger != nil {
		n, _ := res.RowsAffected()
		s.logger.Debug("cleared store", "rows", n)
	}
	return nil
}

// Keys returns every stored key in ascending order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM kv ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("sqlite: list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("sqlite: scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Close closes the prepared statements and the database connection
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{s.getStmt, s.setStmt, s.removeStmt, s.clearStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}
