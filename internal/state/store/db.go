// Package store is the SQL implementation of the state stores. It speaks
// SQLite (modernc, pure Go) and PostgreSQL (lib/pq) from one set of queries.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

//go:embed migrations
var migrationsFS embed.FS

// Config selects the database. For sqlite an empty DSN means
// DataDir/copilot.db.
type Config struct {
	Driver  string
	DSN     string
	DataDir string
}

// DB holds the connection and the SQL dialect queries are rendered for.
type DB struct {
	db      *sql.DB
	dialect string
}

// Open connects, runs pending migrations and returns the DB. Caller must
// call Close when done.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case DialectSQLite, "":
		db, err = openSQLite(cfg)
	case DialectPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("state store: dsn is required for postgres")
		}
		db, err = sql.Open("postgres", cfg.DSN)
	default:
		return nil, fmt.Errorf("state store: unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("state store: ping: %w", err)
	}
	dialect := cfg.Driver
	if dialect == "" {
		dialect = DialectSQLite
	}
	d := New(db, dialect)
	if err := d.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func openSQLite(cfg Config) (*sql.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("state store: data_dir or dsn is required")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("state store: %w", err)
		}
		dsn = filepath.Join(cfg.DataDir, "copilot.db")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("state store: open db: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("state store: WAL: %w", err)
	}
	return db, nil
}

// New wraps an open connection without migrating it.
func New(db *sql.DB, dialect string) *DB {
	return &DB{db: db, dialect: dialect}
}

// SQLDB returns the underlying *sql.DB. Do not close it directly; use Close on DB.
func (d *DB) SQLDB() *sql.DB {
	return d.db
}

func (d *DB) Dialect() string { return d.dialect }

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) query(ctx context.Context, q DBQuery, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, q.GetQuery(d.dialect), args...)
}

func (d *DB) queryRow(ctx context.Context, q DBQuery, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, q.GetQuery(d.dialect), args...)
}

func (d *DB) exec(ctx context.Context, q DBQuery, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, q.GetQuery(d.dialect), args...)
}

// Migrate applies every embedded migration newer than the recorded
// schema version, each in its own transaction.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL PRIMARY KEY)"); err != nil {
		return fmt.Errorf("migrations: create schema_version: %w", err)
	}
	current, err := d.currentVersion(ctx)
	if err != nil {
		return err
	}
	names, err := migrationNames(d.dialect)
	if err != nil {
		return err
	}
	for _, name := range names {
		n, err := migrationNumber(name)
		if err != nil || n <= 0 {
			continue
		}
		if n <= current {
			continue
		}
		body, err := fs.ReadFile(migrationsFS, "migrations/"+d.dialect+"/"+name)
		if err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if err := d.applyMigration(ctx, name, n, string(body)); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) applyMigration(ctx context.Context, name string, version int, body string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %s: begin: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_version"); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration %s: clear version: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, qSetSchemaVersion.GetQuery(d.dialect), version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration %s: set version: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %s: commit: %w", name, err)
	}
	return nil
}

func (d *DB) currentVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	err := d.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if err == sql.ErrNoRows || (err == nil && !v.Valid) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("migrations: read version: %w", err)
	}
	return int(v.Int64), nil
}

func migrationNames(dialect string) ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations/"+dialect)
	if err != nil {
		return nil, fmt.Errorf("migrations: no migrations for dialect %q: %w", dialect, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func migrationNumber(name string) (int, error) {
	base := strings.TrimSuffix(name, ".sql")
	parts := strings.SplitN(base, "_", 2)
	if len(parts) < 2 {
		return 0, fmt.Errorf("invalid migration name")
	}
	return strconv.Atoi(parts[0])
}

// Timestamps are stored as fixed-width UTC text so they sort the same
// lexically and chronologically on both dialects.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}
