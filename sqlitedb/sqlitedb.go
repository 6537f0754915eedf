// Package sqlitedb opens SQLite databases with the pragmas the bot relies on
// and applies named schema migrations.
package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/amp-labs/denguebot/logger"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// ErrPathRequired is returned when no database path is configured.
var ErrPathRequired = errors.New("sqlite: database path is required")

// Config holds the connection parameters.
type Config struct {
	Path         string
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultConfig returns the configuration used by the service for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:         path,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 8,
	}
}

// Open opens a connection pool. WAL journaling, the busy timeout and foreign
// keys are set in the DSN so that every pooled connection carries them.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, ErrPathRequired
	}

	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 1
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	logger.Get(ctx).DebugContext(ctx, "Opened SQLite database", "path", cfg.Path)

	return db, nil
}

// Migration is a named schema change. Names are recorded once applied, so a
// migration must never be edited after release.
type Migration struct {
	Name string
	SQL  string
}

// Migrate applies the migrations that have not been applied yet, in order,
// each in its own transaction.
func Migrate(ctx context.Context, db *sql.DB, migrations ...Migration) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name       TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("sqlite: create migrations table: %w", err)
	}

	for _, migration := range migrations {
		if err := apply(ctx, db, migration); err != nil {
			return fmt.Errorf("sqlite: migration %s: %w", migration.Name, err)
		}
	}

	return nil
}

func apply(ctx context.Context, db *sql.DB, migration Migration) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var count int

	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, migration.Name).Scan(&count)
	if err != nil {
		return err
	}

	if count > 0 {
		return tx.Rollback()
	}

	if _, err = tx.ExecContext(ctx, migration.SQL); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
		migration.Name, time.Now().Unix())
	if err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return err
	}

	logger.Get(ctx).InfoContext(ctx, "Applied SQLite migration", "migration", migration.Name)

	return nil
}

// Applied returns the names of the applied migrations, oldest first.
func Applied(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM schema_migrations ORDER BY applied_at, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}

		names = append(names, name)
	}

	return names, rows.Err()
}
