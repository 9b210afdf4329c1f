// Package database opens the service database and owns its schema.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

// Dialect is the SQL flavour behind a *sql.DB.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// SQLite DSN parameters for production hardening.
const (
	defaultBusyTimeout = "5000"
	defaultSynchronous = "NORMAL"
	defaultJournalMode = "WAL"
)

func (d Dialect) goose() (goose.Dialect, error) {
	switch d {
	case Postgres:
		return goose.DialectPostgres, nil
	case SQLite:
		return goose.DialectSQLite3, nil
	}
	return "", fmt.Errorf("unsupported dialect %q", d)
}

// ParseDSN picks the dialect from the DSN scheme. PostgreSQL DSNs are passed
// through; "sqlite:<path>" and "sqlite://<path>" become a hardened SQLite
// file DSN.
func ParseDSN(dsn string) (Dialect, string, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return Postgres, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return SQLite, buildSQLiteDSN(strings.TrimPrefix(dsn, "sqlite://")), nil
	case strings.HasPrefix(dsn, "sqlite:"):
		return SQLite, buildSQLiteDSN(strings.TrimPrefix(dsn, "sqlite:")), nil
	}
	return "", "", fmt.Errorf("unsupported database dsn: expected postgres:// or sqlite: scheme")
}

func buildSQLiteDSN(path string) string {
	params := url.Values{}
	params.Set("_journal_mode", defaultJournalMode)
	params.Set("_busy_timeout", defaultBusyTimeout)
	params.Set("_synchronous", defaultSynchronous)
	params.Set("_foreign_keys", "on")
	params.Set("_txlock", "immediate")
	return "file:" + path + "?" + params.Encode()
}

// Open connects, tunes the pool for the dialect and pings.
func Open(ctx context.Context, dsn string) (*sql.DB, Dialect, error) {
	dialect, driverDSN, err := ParseDSN(dsn)
	if err != nil {
		return nil, "", err
	}
	driver := "pgx"
	if dialect == SQLite {
		driver = "sqlite3"
	}
	db, err := sql.Open(driver, driverDSN)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", dialect, err)
	}
	switch dialect {
	case Postgres:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(15 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	case SQLite:
		// One writer; transactions take the only connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(time.Hour)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping %s: %w", dialect, err)
	}
	return db, dialect, nil
}
