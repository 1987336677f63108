// Package config loads the service configuration from the environment.
//
// Variables are declared with caarlos0/env struct tags. When ENV=dev a local
// .env file is loaded first, so development secrets never need exporting.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/auth"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port   int    `env:"PORT" envDefault:"3001"`
	Env    string `env:"ENV" envDefault:"production"`
	Server ServerConfig
	Log    LogConfig
	Auth   AuthConfig
	DB     DBConfig
	Google OAuthProviderConfig `envPrefix:"GOOGLE_"`
	GitHub OAuthProviderConfig `envPrefix:"GITHUB_"`
}

type ServerConfig struct {
	PublicURL       string        `env:"PUBLIC_URL"`
	FrontendOrigin  string        `env:"FRONTEND_ORIGIN" envDefault:"http://localhost:5173"`
	CookieSecure    bool          `env:"COOKIE_SECURE" envDefault:"false"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

type AuthConfig struct {
	JWTSecret          string        `env:"JWT_SECRET"`
	TokenIssuer        string        `env:"TOKEN_ISSUER" envDefault:"identity-service"`
	BcryptRounds       int           `env:"BCRYPT_ROUNDS" envDefault:"10"`
	LocalTokenTTL      time.Duration `env:"LOCAL_TOKEN_TTL" envDefault:"24h"`
	OAuthTokenTTL      time.Duration `env:"OAUTH_TOKEN_TTL" envDefault:"1h"`
	UsernameProbeLimit int           `env:"USERNAME_PROBE_LIMIT" envDefault:"10000"`
}

type DBConfig struct {
	Driver       string        `env:"DB_DRIVER" envDefault:"sqlite"`
	Path         string        `env:"DB_PATH" envDefault:"data/identity.db"`
	URI          string        `env:"DB_URI"`
	AutoMigrate  bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
}

type OAuthProviderConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	CallbackURL  string `env:"CALLBACK_URL"`
}

// Strategy converts the provider settings for auth.NewGoogleStrategy and
// auth.NewGitHubStrategy.
func (p OAuthProviderConfig) Strategy() auth.OAuthConfig {
	return auth.OAuthConfig{ClientID: p.ClientID, ClientSecret: p.ClientSecret, CallbackURL: p.CallbackURL}
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	if os.Getenv("ENV") == "dev" {
		// A missing .env is fine; variables may be exported directly.
		_ = godotenv.Load()
	}
	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return nil, apperror.Misconfigured("env", fmt.Sprintf("parse env: %v", err))
	}
	c.applyDerived()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDerived() {
	c.Server.PublicURL = strings.TrimRight(c.Server.PublicURL, "/")
	if c.Server.PublicURL == "" {
		c.Server.PublicURL = fmt.Sprintf("http://localhost:%d", c.Port)
	}
	if c.Google.CallbackURL == "" {
		c.Google.CallbackURL = c.Server.PublicURL + "/auth/google/callback"
	}
	if c.GitHub.CallbackURL == "" {
		c.GitHub.CallbackURL = c.Server.PublicURL + "/auth/github/callback"
	}
	c.DB.Driver = strings.ToLower(strings.TrimSpace(c.DB.Driver))
	c.Log.Format = strings.ToLower(c.Log.Format)
}

// Validate reports the first setting the server cannot start with, as
// apperror.ErrMisconfigured.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return apperror.Misconfigured("PORT", fmt.Sprintf("PORT %d is out of range", c.Port))
	}
	if c.Auth.JWTSecret == "" {
		return apperror.Misconfigured("JWT_SECRET", "JWT_SECRET is required")
	}
	if len(c.Auth.JWTSecret) < auth.MinSecretLength {
		return apperror.Misconfigured("JWT_SECRET", fmt.Sprintf("JWT_SECRET must be at least %d characters", auth.MinSecretLength))
	}
	if c.Auth.BcryptRounds < 4 || c.Auth.BcryptRounds > 31 {
		return apperror.Misconfigured("BCRYPT_ROUNDS", "BCRYPT_ROUNDS must be between 4 and 31")
	}
	if c.Auth.LocalTokenTTL <= 0 || c.Auth.OAuthTokenTTL <= 0 {
		return apperror.Misconfigured("TOKEN_TTL", "token lifetimes must be positive")
	}

	switch c.DB.Driver {
	case DriverSQLite:
		if c.DB.Path == "" {
			return apperror.Misconfigured("DB_PATH", "DB_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.DB.URI == "" {
			return apperror.Misconfigured("DB_URI", "DB_URI is required for the postgres driver")
		}
	default:
		return apperror.Misconfigured("DB_DRIVER", fmt.Sprintf("unknown DB_DRIVER %q", c.DB.Driver))
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return apperror.Misconfigured("LOG_FORMAT", fmt.Sprintf("unknown LOG_FORMAT %q", c.Log.Format))
	}
	return nil
}

// SlogLevel parses LOG_LEVEL (debug, info, warn, error).
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, apperror.Misconfigured("LOG_LEVEL", fmt.Sprintf("unknown LOG_LEVEL %q", c.Log.Level))
	}
	return l, nil
}

// IsDev reports whether the service runs in development mode.
func (c *Config) IsDev() bool {
	return c.Env == "dev"
}
