package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/identity-service/internal/apperror"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"memory", ":memory:", ":memory:"},
		{"shared memory uri", "file:ids?mode=memory&cache=shared", "file:ids?mode=memory&cache=shared"},
		{"plain path", "data/identity.db", "file:data/identity.db?" + connPragmas},
		{"file uri", "file:data/identity.db", "file:data/identity.db?" + connPragmas},
		{"file uri with query", "file:data/identity.db?cache=shared", "file:data/identity.db?cache=shared&" + connPragmas},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dsn(tt.path))
		})
	}
}

func TestNew_FileURIAppliesPragmas(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	db, err := New(context.Background(), "file:"+filepath.Join(t.TempDir(), "identity.db"), logger)
	require.NoError(t, err)
	defer db.Close()

	var busyTimeout int
	require.NoError(t, db.conn.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var journalMode string
	require.NoError(t, db.conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)
}

func TestNew_FileURIConcurrentCreates(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	db, err := New(context.Background(), "file:"+filepath.Join(t.TempDir(), "identity.db"), logger)
	require.NoError(t, err)
	defer db.Close()

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			draft := githubDraft(fmt.Sprintf("bob%d", i), "", fmt.Sprintf("gh-%d", i))
			if _, err := db.FindByCredential(context.Background(), "github", draft.Credentials[0].ProviderID); !errors.Is(err, apperror.ErrNotFound) {
				errs <- fmt.Errorf("lookup %d: %v", i, err)
				return
			}
			if _, err := db.Create(context.Background(), draft); err != nil {
				errs <- fmt.Errorf("create %d: %w", i, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestIsLockContention(t *testing.T) {
	tests := []struct {
		name string
		code int
		want bool
	}{
		{"busy", sqlite3.SQLITE_BUSY, true},
		{"busy snapshot", sqlite3.SQLITE_BUSY_SNAPSHOT, true},
		{"locked", sqlite3.SQLITE_LOCKED, true},
		{"unique constraint", sqlite3.SQLITE_CONSTRAINT_UNIQUE, false},
		{"generic error", sqlite3.SQLITE_ERROR, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isLockContention(tt.code))
		})
	}
}

func TestReadError_WrapsOtherErrors(t *testing.T) {
	err := readError("reading account x", errors.New("disk on fire"))
	assert.False(t, errors.Is(err, apperror.ErrUnavailable))
	assert.Contains(t, err.Error(), "sqlite: reading account x")
}
