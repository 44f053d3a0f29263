package server

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// OpenDB opens the catalog database and reports the dialect in use.
// A postgres:// (or postgresql://) URL selects the pgx driver; any other
// value is treated as a SQLite file path (optionally prefixed sqlite://),
// which is the single-node default.
func OpenDB(dsn string) (*sql.DB, string, error) {
	if dsn == "" {
		return nil, "", errors.New("database URL is empty")
	}

	var (
		conn    *sql.DB
		dialect string
		err     error
	)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dialect = "postgres"
		conn, err = sql.Open("pgx", dsn)
	default:
		dialect = "sqlite"
		path := strings.TrimPrefix(dsn, "sqlite://")
		path = strings.TrimPrefix(path, "file:")
		conn, err = sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL&_loc=UTC")
	}
	if err != nil {
		return nil, "", err
	}

	if dialect == "postgres" {
		// Conservative pool defaults.
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(10)
		conn.SetConnMaxLifetime(30 * time.Minute)
	} else {
		// SQLite allows a single writer; serialise through one connection.
		conn.SetMaxOpenConns(1)
	}

	// Validate connectivity immediately.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, "", err
	}

	return conn, dialect, nil
}
