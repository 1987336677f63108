// Package postgres implements repository.AccountRepository on PostgreSQL
// through the pgx stdlib driver. Queries are built with squirrel.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/migrations"
)

// Constraint names from migrations/postgres. They decide which identity
// namespace a unique violation belongs to.
const (
	constraintUsername   = "accounts_username_key"
	constraintEmail      = "accounts_email_key"
	constraintCredential = "account_credentials_provider_key"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

// New connects to dsn, verifies the connection and optionally applies the
// embedded migrations.
func New(ctx context.Context, dsn string, opts Options, logger *slog.Logger) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: opening database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(opts.MaxIdleConns)
	}
	conn.SetConnMaxIdleTime(5 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, apperror.Unavailable("postgres: ping", err)
	}

	if opts.AutoMigrate {
		version, err := migrations.Up(ctx, conn, migrations.Postgres)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("postgres: running migrations: %w", err)
		}
		logger.Info("postgres schema migrated", slog.Int64("schemaVersion", version))
	}

	return NewWithConn(conn, logger), nil
}

// NewWithConn wraps an already opened pool.
func NewWithConn(conn *sql.DB, logger *slog.Logger) *DB {
	return &DB{conn: conn, logger: logger}
}

// Conn exposes the pool for the migrate command.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func postgresError(err error) *pgconn.PgError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr
	}
	return nil
}

// classify maps driver failures onto the store error contract.
func (db *DB) classify(op string, err error) error {
	if err == nil {
		return nil
	}

	if pgErr := postgresError(err); pgErr != nil {
		switch {
		case pgErr.Code == pgerrcode.UniqueViolation:
			field := constraintField(pgErr.ConstraintName)
			db.logger.Debug("postgres: unique constraint violated",
				slog.String("op", op),
				slog.String("constraint", pgErr.ConstraintName),
			)
			return apperror.FieldConflict(field)
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgErr.Code == pgerrcode.CannotConnectNow,
			pgErr.Code == pgerrcode.AdminShutdown:
			return apperror.Unavailable("postgres: "+op, err)
		case pgErr.Code == pgerrcode.QueryCanceled && errors.Is(err, context.DeadlineExceeded):
			return apperror.Timeout("postgres: "+op, err)
		}
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || errors.Is(err, driver.ErrBadConn) {
		return apperror.Unavailable("postgres: "+op, err)
	}

	return fmt.Errorf("postgres: %s: %w", op, err)
}

func constraintField(name string) string {
	switch name {
	case constraintUsername:
		return "username"
	case constraintEmail:
		return "email"
	case constraintCredential:
		return "credential"
	}
	return "account"
}
