package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// database/sql driver names.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

//go:embed schema.sql
var schema string

// DB wraps sql.DB and remembers which driver it speaks.
type DB struct {
	Client *sql.DB
	Driver string
}

// Open connects to the backend named by STORE_BACKEND: "postgres" or "sqlite".
func Open(backend, postgresURL, sqlitePath string) (*DB, error) {
	switch backend {
	case "postgres", "":
		return NewDB(postgresURL)
	case "sqlite":
		return NewSQLite(sqlitePath)
	}
	return nil, fmt.Errorf("store: unknown backend %q", backend)
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open(DriverPostgres, connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	return &DB{Client: db, Driver: DriverPostgres}, nil
}

// NewSQLite opens a single-file database. ":memory:" is accepted for tests.
func NewSQLite(path string) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create sqlite dir: %w", err)
			}
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}
	db, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, err
	}
	// One connection: sqlite has a single writer and ":memory:" is per connection.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}
	return &DB{Client: db, Driver: DriverSQLite}, nil
}

// Migrate creates missing tables and indexes.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// Healthy verifies database connectivity.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
