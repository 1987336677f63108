package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/identity-service/internal/auth"
	"github.com/sakif/identity-service/internal/config"
	"github.com/sakif/identity-service/internal/model"
	"github.com/sakif/identity-service/migrations"
)

func testConfig() *config.Config {
	return &config.Config{
		Port: 3001,
		Server: config.ServerConfig{
			PublicURL:       "http://localhost:3001",
			FrontendOrigin:  "http://frontend.test",
			ShutdownTimeout: time.Second,
		},
		Auth: config.AuthConfig{
			JWTSecret:     "server-test-secret-0123456789",
			TokenIssuer:   "identity-service",
			BcryptRounds:  4,
			LocalTokenTTL: 24 * time.Hour,
			OAuthTokenTTL: time.Hour,
		},
		DB: config.DBConfig{
			Driver:       config.DriverSQLite,
			Path:         ":memory:",
			StoreTimeout: time.Second,
		},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := testConfig()

	store, dialect, err := OpenStore(context.Background(), cfg.DB, logger)
	require.NoError(t, err)
	require.Equal(t, migrations.SQLite, dialect)
	t.Cleanup(func() { store.Close() })

	s, err := NewWithStore(cfg, store, auth.NewRegistry(), logger)
	require.NoError(t, err)
	return s
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestRoutes_Static(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"root", "/", http.StatusOK, `{"message":"Hello World from identity-service"}`},
		{"health", "/health", http.StatusOK, `{"ok":true}`},
		{"unknown route", "/nope", http.StatusNotFound, `{"error":"not_found","message":"Route Not Found"}`},
		{"unconfigured provider", "/auth/google", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(s, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rr.Body.String())
			}
			assert.NotEmpty(t, rr.Header().Get("Content-Type"))
		})
	}
}

func TestRoutes_SignupThenMe(t *testing.T) {
	s := newTestServer(t)

	body := `{"username":"alice","fullname":"Alice A","email":"alice@x.com","password":"hunter22"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/signup", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := serve(s, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created struct {
		Data struct {
			AccessToken string `json:"accessToken"`
			ID          string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
	require.NotEmpty(t, created.Data.AccessToken)

	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+created.Data.AccessToken)
	rr = serve(s, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var me struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Provider string `json:"provider"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&me))
	assert.Equal(t, created.Data.ID, me.ID)
	assert.Equal(t, "alice", me.Username)
	assert.Equal(t, "password", me.Provider)

	rr = serve(s, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRoutes_CORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	req.Header.Set("Origin", "http://frontend.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := serve(s, req)

	assert.Equal(t, "http://frontend.test", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	req.Header.Set("Origin", "http://evil.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr = serve(s, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestStrategies_OnlyConfiguredProviders(t *testing.T) {
	cfg := testConfig()
	assert.Empty(t, Strategies(cfg).Providers())

	cfg.GitHub = config.OAuthProviderConfig{ClientID: "id", ClientSecret: "secret", CallbackURL: "http://localhost:3001/auth/github/callback"}
	assert.Equal(t, []model.Provider{model.ProviderGitHub}, Strategies(cfg).Providers())

	cfg.Google = config.OAuthProviderConfig{ClientID: "id", ClientSecret: "secret"}
	assert.Len(t, Strategies(cfg).Providers(), 2)
}

func TestNewWithStore_RejectsShortSecret(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := testConfig()
	cfg.Auth.JWTSecret = "short"

	store, _, err := OpenStore(context.Background(), cfg.DB, logger)
	require.NoError(t, err)
	defer store.Close()

	_, err = NewWithStore(cfg, store, auth.NewRegistry(), logger)
	require.Error(t, err)
}

func TestOpenStore_CreatesDataDirectory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	path := filepath.Join(t.TempDir(), "nested", "identity.db")

	store, _, err := OpenStore(context.Background(), config.DBConfig{Driver: config.DriverSQLite, Path: path}, logger)
	require.NoError(t, err)
	defer store.Close()

	version, err := migrations.Version(context.Background(), store.Conn(), migrations.SQLite)
	require.NoError(t, err)
	assert.Positive(t, version)
}

func TestOpenStore_FileURICreatesRealParent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	parent := filepath.Join(t.TempDir(), "nested")

	store, _, err := OpenStore(context.Background(), config.DBConfig{
		Driver: config.DriverSQLite,
		Path:   "file:" + filepath.Join(parent, "identity.db") + "?cache=private",
	}, logger)
	require.NoError(t, err)
	defer store.Close()

	assert.DirExists(t, parent)
	assert.NoDirExists(t, "file:"+parent)
	assert.FileExists(t, filepath.Join(parent, "identity.db"))
}

func TestSQLiteDir(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{":memory:", ""},
		{"file::memory:?cache=shared", ""},
		{"file:ids?mode=memory", ""},
		{"identity.db", "."},
		{"data/identity.db", "data"},
		{"file:data/identity.db", "data"},
		{"file:data/identity.db?cache=shared", "data"},
		{"file:/var/lib/identity/identity.db", "/var/lib/identity"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, sqliteDir(tt.path))
		})
	}
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	_, _, err := OpenStore(context.Background(), config.DBConfig{Driver: "mongo"}, logger)
	require.Error(t, err)
}
