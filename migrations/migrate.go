// Package migrations embeds the schema for every supported store dialect and
// applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed sqlite/*.sql postgres/*.sql
var embedMigrations embed.FS

// Dialect names the schema flavour to apply.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

func (d Dialect) goose() (goose.Dialect, error) {
	switch d {
	case SQLite:
		return goose.DialectSQLite3, nil
	case Postgres:
		return goose.DialectPostgres, nil
	}
	return "", fmt.Errorf("migrations: unknown dialect %q", d)
}

// newProvider builds a goose provider over the embedded files of one dialect.
// A provider keeps no package-level state, so several databases can migrate
// concurrently (tests open one in-memory database each).
func newProvider(db *sql.DB, dialect Dialect) (*goose.Provider, error) {
	gd, err := dialect.goose()
	if err != nil {
		return nil, err
	}

	fsys, err := fs.Sub(embedMigrations, string(dialect))
	if err != nil {
		return nil, fmt.Errorf("migrations: opening %s files: %w", dialect, err)
	}

	p, err := goose.NewProvider(gd, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("migrations: creating provider: %w", err)
	}
	return p, nil
}

// Up applies every pending migration and returns the resulting version.
func Up(ctx context.Context, db *sql.DB, dialect Dialect) (int64, error) {
	p, err := newProvider(db, dialect)
	if err != nil {
		return 0, err
	}

	if _, err := p.Up(ctx); err != nil {
		return 0, fmt.Errorf("migration error: %w", err)
	}

	return p.GetDBVersion(ctx)
}

// Version reports the currently applied schema version.
func Version(ctx context.Context, db *sql.DB, dialect Dialect) (int64, error) {
	p, err := newProvider(db, dialect)
	if err != nil {
		return 0, err
	}
	return p.GetDBVersion(ctx)
}
