package migrations

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestUp_SQLiteCreatesSchema(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	version, err := Up(context.Background(), db, SQLite)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	for _, table := range []string{"accounts", "account_credentials"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		assert.NoError(t, err, "table %s should exist", table)
	}

	// Running again is a no-op.
	version, err = Up(context.Background(), db, SQLite)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

func TestUp_DBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_ = mock // goose issues its own queries; none are expected

	_, err = Up(context.Background(), db, Postgres)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "migration error"), "got: %v", err)
}

func TestUp_UnknownDialect(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = Up(context.Background(), db, Dialect("mysql"))
	assert.ErrorContains(t, err, "unknown dialect")
}
