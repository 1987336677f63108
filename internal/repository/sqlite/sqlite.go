// Package sqlite implements repository.AccountRepository on SQLite.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite, so the binary builds without CGo and
// tests can open a private ":memory:" database each.
//
// UNIQUENESS:
// The three identity namespaces are enforced by the schema, not by the Go
// code. accounts.username and accounts.email carry UNIQUE constraints (NULL
// emails never collide), and account_credentials has UNIQUE(provider,
// provider_id). A violated constraint comes back from the driver as a
// *sqlite.Error which constraintField maps to the conflicting namespace.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/sakif/identity-service/migrations"
)

// DB wraps a sql.DB connection pool and provides the account store.
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// New opens the database at dbPath and applies pending migrations.
//
// dbPath examples:
//   - "data/identity.db" → file-based database
//   - ":memory:"         → in-memory database (tests)
func New(ctx context.Context, dbPath string, logger *slog.Logger) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if isMemory(dbPath) {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	version, err := migrations.Up(ctx, conn, migrations.SQLite)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	logger.Debug("sqlite store ready",
		slog.String("path", dbPath),
		slog.Int64("schemaVersion", version),
	)

	return &DB{conn: conn, logger: logger}, nil
}

// Conn exposes the pool for the migrate command.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// dsn turns a file path into a modernc DSN carrying the pragmas every pooled
// connection needs. WAL lets readers proceed during a write; busy_timeout
// makes concurrent writers wait instead of failing with SQLITE_BUSY.
// A "file:" URI keeps its own query parameters and gets the pragmas appended.
func dsn(dbPath string) string {
	if isMemory(dbPath) {
		return dbPath
	}
	uri := dbPath
	if !strings.HasPrefix(uri, "file:") {
		uri = "file:" + uri
	}
	sep := "?"
	if strings.Contains(uri, "?") {
		sep = "&"
	}
	return uri + sep + connPragmas
}

const connPragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

func isMemory(dbPath string) bool {
	return dbPath == ":memory:" || strings.HasPrefix(dbPath, "file::memory:") || strings.Contains(dbPath, "mode=memory")
}
