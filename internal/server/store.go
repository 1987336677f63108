package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sakif/identity-service/internal/config"
	"github.com/sakif/identity-service/internal/repository"
	"github.com/sakif/identity-service/internal/repository/postgres"
	sqliteRepo "github.com/sakif/identity-service/internal/repository/sqlite"
	"github.com/sakif/identity-service/migrations"
)

// Store is an account store that owns a connection pool.
type Store interface {
	repository.AccountRepository
	Conn() *sql.DB
	Close() error
}

// OpenStore connects to the store selected by cfg.Driver.
//
// The sqlite store always migrates on open. Postgres migrates only when
// DB_AUTO_MIGRATE is set, so production schemas can be rolled out with the
// migrate command instead.
func OpenStore(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (Store, migrations.Dialect, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		// The data directory is created on first start (like `mkdir -p`).
		if dir := sqliteDir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, "", fmt.Errorf("creating database directory %s: %w", dir, err)
			}
		}
		db, err := sqliteRepo.New(ctx, cfg.Path, logger)
		if err != nil {
			return nil, "", err
		}
		return db, migrations.SQLite, nil

	case config.DriverPostgres:
		db, err := postgres.New(ctx, cfg.URI, postgres.Options{
			MaxOpenConns: cfg.MaxOpenConns,
			MaxIdleConns: cfg.MaxIdleConns,
			AutoMigrate:  cfg.AutoMigrate,
		}, logger)
		if err != nil {
			return nil, "", err
		}
		return db, migrations.Postgres, nil
	}
	return nil, "", fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// sqliteDir returns the directory holding the database file named by a plain
// path or a "file:" URI, and "" for in-memory databases.
func sqliteDir(path string) string {
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		return ""
	}
	p := strings.TrimPrefix(path, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == ":memory:" {
		return ""
	}
	return filepath.Dir(p)
}
