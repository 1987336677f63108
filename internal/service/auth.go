// Package service holds the authentication use cases the HTTP layer calls.
//
//	AuthHandler (HTTP) → AuthService → identity engine → AccountRepository
//	                               ↘ TokenService (JWT)
//
// The service decides which provider a token names and how long it lives;
// it knows nothing about requests, cookies or status codes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/auth"
	"github.com/sakif/identity-service/internal/identity"
	"github.com/sakif/identity-service/internal/model"
	"github.com/sakif/identity-service/internal/repository"
)

// maxResolveAttempts bounds the resolve → create loop of an OAuth login when
// a concurrent login for the same person keeps winning the create.
const maxResolveAttempts = 3

const (
	DefaultLocalTokenTTL  = 24 * time.Hour
	DefaultOAuthTokenTTL  = time.Hour
	DefaultFrontendOrigin = "http://localhost:5173"
)

// Config tunes the AuthService.
type Config struct {
	LocalTokenTTL      time.Duration
	OAuthTokenTTL      time.Duration
	FrontendOrigin     string
	UsernameProbeLimit int
}

func (c Config) withDefaults() Config {
	if c.LocalTokenTTL <= 0 {
		c.LocalTokenTTL = DefaultLocalTokenTTL
	}
	if c.OAuthTokenTTL <= 0 {
		c.OAuthTokenTTL = DefaultOAuthTokenTTL
	}
	if c.FrontendOrigin == "" {
		c.FrontendOrigin = DefaultFrontendOrigin
	}
	c.FrontendOrigin = strings.TrimRight(c.FrontendOrigin, "/")
	return c
}

// AuthService orchestrates local signup/login and OAuth logins.
type AuthService struct {
	accounts repository.AccountRepository
	local    *identity.LocalHandler
	resolver *identity.Resolver
	linker   *identity.Linker
	tokens   *auth.TokenService
	cfg      Config
	logger   *slog.Logger
}

// NewAuthService wires the identity engine on top of accounts.
func NewAuthService(
	accounts repository.AccountRepository,
	passwords identity.PasswordHasher,
	tokens *auth.TokenService,
	cfg Config,
	logger *slog.Logger,
) (*AuthService, error) {
	usernames := identity.NewUsernameAllocator(accounts, cfg.UsernameProbeLimit)
	local, err := identity.NewLocalHandler(accounts, usernames, passwords, logger)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}
	return &AuthService{
		accounts: accounts,
		local:    local,
		resolver: identity.NewResolver(accounts),
		linker:   identity.NewLinker(accounts, usernames, logger),
		tokens:   tokens,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}, nil
}

// AuthResult bundles the account and its freshly issued token so the handler
// can respond in one step.
type AuthResult struct {
	Account   *model.Account
	Token     string
	ExpiresAt time.Time
	Match     identity.Match
	Provider  model.Provider
}

// SignupLocal registers an email/password account and signs it in.
func (s *AuthService) SignupLocal(ctx context.Context, in identity.LocalSignup) (*AuthResult, error) {
	acct, err := s.local.CreateLocal(ctx, in)
	if err != nil {
		return nil, err
	}
	return s.issue(acct, model.ProviderPassword, identity.Created, s.cfg.LocalTokenTTL)
}

// LoginLocal verifies an email/password pair.
func (s *AuthService) LoginLocal(ctx context.Context, email, password string) (*AuthResult, error) {
	acct, err := s.local.VerifyLocal(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.issue(acct, model.ProviderPassword, identity.MatchedByCredential, s.cfg.LocalTokenTTL)
}

// LoginOAuth signs in the person behind a provider profile: an existing
// account is found by credential, then by email; otherwise one is created.
//
// A create that loses to a concurrent login for the same credential or email
// is followed by another resolve, which then finds the winner. The loop is
// bounded by maxResolveAttempts.
func (s *AuthService) LoginOAuth(ctx context.Context, profile *model.OAuthProfile) (*AuthResult, error) {
	if profile == nil {
		return nil, apperror.ValidationFailed("profile", "profile is required")
	}
	in := identity.ProfileInputFrom(profile)

	for attempt := 1; ; attempt++ {
		acct, match, err := s.resolver.Resolve(ctx, in.Provider, in.ProviderID, in.Email)
		if err == nil {
			return s.issue(acct, in.Provider, match, s.cfg.OAuthTokenTTL)
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}

		acct, err = s.linker.CreateFromProfile(ctx, in)
		if err == nil {
			return s.issue(acct, in.Provider, identity.Created, s.cfg.OAuthTokenTTL)
		}
		if !errors.Is(err, apperror.ErrConflict) || attempt >= maxResolveAttempts {
			s.logger.Warn("oauth login failed",
				slog.String("provider", string(in.Provider)),
				slog.String("conflict", apperror.ConflictField(err)),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
		s.logger.Debug("lost create race, resolving again",
			slog.String("provider", string(in.Provider)),
			slog.String("conflict", apperror.ConflictField(err)),
			slog.Int("attempt", attempt),
		)
	}
}

// GetAccount returns the account for the given id.
func (s *AuthService) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	if id == "" {
		return nil, apperror.ValidationFailed("id", "account id is required")
	}
	acct, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching account %s: %w", id, err)
	}
	return acct, nil
}

// RedirectURL is where the browser lands after a successful OAuth login.
// Absent values are sent as empty strings.
func (s *AuthService) RedirectURL(res *AuthResult) string {
	a := res.Account
	displayName := a.Fullname
	if displayName == "" {
		displayName = a.Username
	}

	q := url.Values{}
	q.Set("token", res.Token)
	q.Set("displayName", displayName)
	q.Set("profilePic", a.AvatarURL)
	q.Set("id", a.ID)
	q.Set("username", a.Username)
	q.Set("email", a.Email)
	return s.cfg.FrontendOrigin + "/login/success?" + q.Encode()
}

// FailureRedirectURL is where the browser lands when the provider reports an
// error or the login cannot complete.
func (s *AuthService) FailureRedirectURL(reason string) string {
	return s.cfg.FrontendOrigin + "/login?" + url.Values{"error": {reason}}.Encode()
}

func (s *AuthService) issue(acct *model.Account, provider model.Provider, match identity.Match, ttl time.Duration) (*AuthResult, error) {
	expiresAt := time.Now().Add(ttl)
	token, err := s.tokens.Issue(acct, provider, ttl)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing token for account %s: %w", acct.ID, err)
	}

	s.logger.Info("account authenticated",
		slog.String("accountID", acct.ID),
		slog.String("provider", string(provider)),
		slog.String("match", string(match)),
	)
	return &AuthResult{Account: acct, Token: token, ExpiresAt: expiresAt, Match: match, Provider: provider}, nil
}
