// Package server sets up the HTTP server, router, and all route definitions.
//
// This is the composition root: config comes in from cmd/server, and New
// assembles store → identity services → handlers → routes. Each layer only
// receives what it needs. Handlers never touch the store, and the service
// never touches HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/identity-service/internal/auth"
	"github.com/sakif/identity-service/internal/config"
	"github.com/sakif/identity-service/internal/handler"
	"github.com/sakif/identity-service/internal/middleware"
	"github.com/sakif/identity-service/internal/repository"
	"github.com/sakif/identity-service/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the store. Start closes it after the HTTP server has
// drained, so in-flight requests never see a closed pool.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	store  Store
}

// New opens the configured store and wires every route on top of it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, _, err := OpenStore(ctx, cfg.DB, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	s, err := NewWithStore(cfg, store, Strategies(cfg), logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return s, nil
}

// NewWithStore builds a Server over an already opened store. Tests use it to
// inject an in-memory store and fake OAuth strategies.
func NewWithStore(cfg *config.Config, store Store, strategies *auth.Registry, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		store:  store,
	}

	if err := s.setupRoutes(strategies); err != nil {
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Strategies returns a registry holding every provider whose client
// credentials are configured. Unconfigured providers answer 404.
func Strategies(cfg *config.Config) *auth.Registry {
	var enabled []auth.Strategy
	if c := cfg.Google.Strategy(); c.Enabled() {
		enabled = append(enabled, auth.NewGoogleStrategy(c))
	}
	if c := cfg.GitHub.Strategy(); c.Enabled() {
		enabled = append(enabled, auth.NewGitHubStrategy(c))
	}
	return auth.NewRegistry(enabled...)
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /                        → greeting
// GET    /health                  → liveness probe
// POST   /users                   → local signup (legacy path)
// POST   /auth/signup             → local signup
// POST   /auth/login              → local login
// POST   /auth/logout             → clears the session cookie
// GET    /auth/verify-token       → echoes the session claims (auth required)
// GET    /auth/me                 → current account (auth required)
// GET    /auth/{provider}         → OAuth redirect
// GET    /auth/{provider}/callback → OAuth callback
func (s *Server) setupRoutes(strategies *auth.Registry) error {
	tokens, err := auth.NewTokenService(s.config.Auth.JWTSecret, s.config.Auth.TokenIssuer)
	if err != nil {
		return err
	}

	accounts := repository.WithTimeout(s.store, s.config.DB.StoreTimeout)
	authService, err := service.NewAuthService(
		accounts,
		auth.NewPasswordService(s.config.Auth.BcryptRounds),
		tokens,
		service.Config{
			LocalTokenTTL:      s.config.Auth.LocalTokenTTL,
			OAuthTokenTTL:      s.config.Auth.OAuthTokenTTL,
			FrontendOrigin:     s.config.Server.FrontendOrigin,
			UsernameProbeLimit: s.config.Auth.UsernameProbeLimit,
		},
		s.logger,
	)
	if err != nil {
		return fmt.Errorf("creating auth service: %w", err)
	}
	authHandler := handler.NewAuthHandler(authService, strategies, s.config.Server.CookieSecure, s.logger)

	// === Global Middleware ===
	// Order matters: RequestID must run before Logger so every line carries it.
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{s.config.Server.FrontendOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Get("/", handler.HandleRoot)
	s.router.Get("/health", handler.HandleHealth)
	s.router.Post("/users", authHandler.HandleSignup)

	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authHandler.HandleSignup)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/logout", authHandler.HandleLogout)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Get("/verify-token", authHandler.HandleVerifyToken)
			r.Get("/me", authHandler.HandleMe)
		})

		r.Get("/{provider}", authHandler.HandleOAuthStart)
		r.Get("/{provider}/callback", authHandler.HandleOAuthCallback)
	})

	s.router.NotFound(handler.HandleNotFound)

	s.logger.Info("oauth providers enabled", slog.Any("providers", strategies.Providers()))
	return nil
}

// Start serves HTTP until ctx is cancelled or SIGINT/SIGTERM arrives, then
// shuts down gracefully:
//  1. Stop accepting new connections
//  2. Wait up to SHUTDOWN_TIMEOUT for in-flight requests
//  3. Close the store
func (s *Server) Start(ctx context.Context) error {
	defer s.store.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", s.config.Server.PublicURL),
			slog.String("store", s.config.DB.Driver),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
