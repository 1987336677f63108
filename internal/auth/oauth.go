package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"golang.org/x/oauth2/github"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/model"
)

// Strategy runs one provider's half of the OAuth 2.0 Authorization Code flow:
// it builds the consent URL and turns the returned code into a profile.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. The server redirects the browser to AuthCodeURL(state)
//  2. The user approves on the provider's site
//  3. The provider redirects back to the callback with a short-lived code
//  4. Exchange trades the code for an access token (server-to-server, using
//     the client secret) and reads the user's profile with it
type Strategy interface {
	Name() model.Provider
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*model.OAuthProfile, error)
}

// OAuthConfig holds the credentials registered with a provider.
// CallbackURL must match the provider's configured redirect URL exactly.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// Enabled reports whether the provider has been configured at all.
func (c OAuthConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// StrategyOption overrides provider endpoints, mainly for tests.
type StrategyOption func(*strategyEndpoints)

type strategyEndpoints struct {
	oauth   oauth2.Endpoint
	apiBase string
}

// WithEndpoint replaces the provider's authorize/token endpoints.
func WithEndpoint(ep oauth2.Endpoint) StrategyOption {
	return func(e *strategyEndpoints) { e.oauth = ep }
}

// WithAPIBase replaces the base URL of the provider's profile API.
func WithAPIBase(base string) StrategyOption {
	return func(e *strategyEndpoints) { e.apiBase = strings.TrimRight(base, "/") }
}

func exchangeFailed(provider model.Provider, err error) error {
	return &apperror.AppError{
		Err:     apperror.ErrUnauthorized,
		Message: fmt.Sprintf("%s rejected the authorization code", provider),
		Cause:   err,
	}
}

// getJSON calls a provider API with the token-bearing client. Transport
// failures and non-200 answers are reported as the provider being unavailable.
func getJSON(ctx context.Context, client *http.Client, provider model.Provider, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("auth: building %s request: %w", provider, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return apperror.Unavailable(string(provider)+" profile API", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperror.Unavailable(string(provider)+" profile API",
			fmt.Errorf("GET %s returned status %d", url, resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("auth: decoding %s response: %w", provider, err)
	}
	return nil
}

// =========================================================================
// GOOGLE
// =========================================================================

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// googleUserInfo is the OpenID Connect userinfo response.
type googleUserInfo struct {
	Sub           string `json:"sub"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Picture       string `json:"picture"`
}

// GoogleStrategy signs users in with Google, requesting the "profile" and
// "email" scopes.
type GoogleStrategy struct {
	config      *oauth2.Config
	userInfoURL string
}

func NewGoogleStrategy(cfg OAuthConfig, opts ...StrategyOption) *GoogleStrategy {
	ep := strategyEndpoints{oauth: endpoints.Google}
	for _, opt := range opts {
		opt(&ep)
	}
	userInfo := googleUserInfoURL
	if ep.apiBase != "" {
		userInfo = ep.apiBase + "/v1/userinfo"
	}
	return &GoogleStrategy{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     ep.oauth,
		},
		userInfoURL: userInfo,
	}
}

func (g *GoogleStrategy) Name() model.Provider { return model.ProviderGoogle }

func (g *GoogleStrategy) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (g *GoogleStrategy) Exchange(ctx context.Context, code string) (*model.OAuthProfile, error) {
	tok, err := g.config.Exchange(ctx, code)
	if err != nil {
		return nil, exchangeFailed(model.ProviderGoogle, err)
	}

	var info googleUserInfo
	if err := getJSON(ctx, g.config.Client(ctx, tok), model.ProviderGoogle, g.userInfoURL, &info); err != nil {
		return nil, err
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("auth: google returned a profile without a subject")
	}

	p := &model.OAuthProfile{
		Provider:    model.ProviderGoogle,
		ID:          info.Sub,
		DisplayName: info.Name,
	}
	if info.Email != "" {
		p.Emails = []model.ProfileEmail{{Value: info.Email, Verified: info.EmailVerified}}
	}
	if info.Picture != "" {
		p.Photos = []model.ProfilePhoto{{Value: info.Picture}}
	}
	return p, nil
}

// =========================================================================
// GITHUB
// =========================================================================

const githubAPIBase = "https://api.github.com"

// githubUser is the portion of GET /user we care about.
// Email is empty when the user hides it in their GitHub settings.
type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// githubEmail is one entry of GET /user/emails.
type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GitHubStrategy signs users in with GitHub, requesting "read:user" and
// "user:email" so the verified address list is readable.
type GitHubStrategy struct {
	config  *oauth2.Config
	apiBase string
}

func NewGitHubStrategy(cfg OAuthConfig, opts ...StrategyOption) *GitHubStrategy {
	ep := strategyEndpoints{oauth: github.Endpoint, apiBase: githubAPIBase}
	for _, opt := range opts {
		opt(&ep)
	}
	return &GitHubStrategy{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     ep.oauth,
		},
		apiBase: ep.apiBase,
	}
}

func (g *GitHubStrategy) Name() model.Provider { return model.ProviderGitHub }

func (g *GitHubStrategy) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange reads /user and then /user/emails. The email list is optional:
// when it cannot be read the public profile email (if any) is used,
// unverified.
func (g *GitHubStrategy) Exchange(ctx context.Context, code string) (*model.OAuthProfile, error) {
	tok, err := g.config.Exchange(ctx, code)
	if err != nil {
		return nil, exchangeFailed(model.ProviderGitHub, err)
	}
	client := g.config.Client(ctx, tok)

	var u githubUser
	if err := getJSON(ctx, client, model.ProviderGitHub, g.apiBase+"/user", &u); err != nil {
		return nil, err
	}
	if u.ID == 0 {
		return nil, fmt.Errorf("auth: github returned an invalid user (id = 0)")
	}

	p := &model.OAuthProfile{
		Provider:    model.ProviderGitHub,
		ID:          strconv.FormatInt(u.ID, 10),
		DisplayName: u.Name,
		Username:    u.Login,
	}
	if u.AvatarURL != "" {
		p.Photos = []model.ProfilePhoto{{Value: u.AvatarURL}}
	}

	var emails []githubEmail
	if err := getJSON(ctx, client, model.ProviderGitHub, g.apiBase+"/user/emails", &emails); err == nil {
		for _, e := range emails {
			p.Emails = append(p.Emails, model.ProfileEmail{Value: e.Email, Verified: e.Verified})
		}
	}
	if len(p.Emails) == 0 && u.Email != "" {
		p.Emails = []model.ProfileEmail{{Value: u.Email}}
	}
	return p, nil
}

// =========================================================================
// REGISTRY
// =========================================================================

// Registry holds the configured strategies by provider name.
type Registry struct {
	strategies map[model.Provider]Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[model.Provider]Strategy, len(strategies))}
	for _, s := range strategies {
		r.strategies[s.Name()] = s
	}
	return r
}

// Get returns the strategy for name, or apperror.ErrNotFound when the
// provider is unknown or not configured.
func (r *Registry) Get(name string) (Strategy, error) {
	s, ok := r.strategies[model.Provider(strings.ToLower(name))]
	if !ok {
		return nil, apperror.NotFound("provider", name)
	}
	return s, nil
}

// Providers lists the configured provider names in sorted order.
func (r *Registry) Providers() []model.Provider {
	out := make([]model.Provider, 0, len(r.strategies))
	for p := range r.strategies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
