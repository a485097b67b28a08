// Package db opens the backing database by URL and keeps its schema current.
// SQLite (modernc driver) and Postgres (pgx stdlib driver) are supported.
package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL flavor behind a connection.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseURL splits a database URL into its dialect and driver DSN.
// Accepted forms: sqlite:///abs/path, sqlite://rel/path, sqlite://:memory:,
// postgres://... (passed through to pgx verbatim).
func ParseURL(databaseURL string) (Dialect, string, error) {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("parse database url: empty sqlite path")
		}
		return DialectSQLite, BuildSQLiteDSN(path), nil
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DialectPostgres, databaseURL, nil
	default:
		return "", "", fmt.Errorf("parse database url: unsupported scheme in %q", databaseURL)
	}
}

// BuildSQLiteDSN embeds the required pragmas in the DSN so every connection
// in the pool gets them. busy_timeout in particular must be set per
// connection or concurrent writers see "database is locked".
func BuildSQLiteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?mode=memory&cache=shared&_pragma=foreign_keys(ON)"
	}
	return "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(ON)" +
		"&_pragma=busy_timeout(30000)" +
		"&_pragma=synchronous(NORMAL)"
}

// Open connects to the database behind url, creating the parent directory
// for file-backed SQLite, and applies pending migrations.
func Open(databaseURL string) (*sqlx.DB, Dialect, error) {
	dialect, dsn, err := ParseURL(databaseURL)
	if err != nil {
		return nil, "", err
	}

	if dialect == DialectSQLite {
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		if path != ":memory:" {
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, "", fmt.Errorf("create db dir: %w", err)
				}
			}
		}
	}

	driver := "sqlite"
	if dialect == DialectPostgres {
		driver = "pgx"
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("ping db: %w", err)
	}

	if err := Migrate(conn, dialect); err != nil {
		_ = conn.Close()
		return nil, "", err
	}

	return conn, dialect, nil
}
