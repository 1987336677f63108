package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"

	"github.com/sakif/identity-service/internal/auth"
	"github.com/sakif/identity-service/internal/identity"
	"github.com/sakif/identity-service/internal/service"
)

const (
	stateCookie = "oauth_state"
	stateMaxAge = 10 * time.Minute
)

// AuthHandler serves local signup/login, the OAuth redirect dance and the
// session endpoints.
//
// HANDLER RESPONSIBILITIES:
//   - HandleSignup / HandleLogin → email + password, JSON in and out
//   - HandleOAuthStart           → redirect the browser to the provider
//   - HandleOAuthCallback        → exchange the code, sign in, redirect to the frontend
//   - HandleVerifyToken / HandleMe / HandleLogout → session helpers
type AuthHandler struct {
	auth          *service.AuthService
	strategies    *auth.Registry
	secureCookies bool
	logger        *slog.Logger
}

func NewAuthHandler(
	authService *service.AuthService,
	strategies *auth.Registry,
	secureCookies bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:          authService,
		strategies:    strategies,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

type signupRequest struct {
	Username string `json:"username"`
	Fullname string `json:"fullname"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleSignup registers an email/password account.
//
// HTTP: POST /auth/signup (also POST /users)
// REQUEST BODY: {"username": "...", "fullname": "...", "email": "...", "password": "..."}
// RESPONSE: 201 {"message": "Created new user alice successfully", "data": {accessToken, ...account}}
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.auth.SignupLocal(r.Context(), identity.LocalSignup{
		Username: req.Username,
		Fullname: req.Fullname,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.fail(w, "signup failed", err)
		return
	}

	h.setTokenCookie(w, res)
	writeJSON(w, http.StatusCreated, Envelope{
		Message: fmt.Sprintf("Created new user %s successfully", res.Account.Username),
		Data:    h.session(res),
	})
}

// HandleLogin verifies an email/password pair.
//
// HTTP: POST /auth/login
// REQUEST BODY: {"email": "...", "password": "..."}
// RESPONSE: 200 {"message": "User logged in", "data": {accessToken, ...account}}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.auth.LoginLocal(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, "login failed", err)
		return
	}

	h.setTokenCookie(w, res)
	writeJSON(w, http.StatusOK, Envelope{Message: "User logged in", Data: h.session(res)})
}

// HandleOAuthStart redirects the browser to the provider's consent page.
//
// HTTP: GET /auth/{provider}
//
// CSRF PROTECTION VIA STATE:
// A random state is stored in a short-lived HttpOnly cookie and sent to the
// provider; the callback only proceeds when both match.
func (h *AuthHandler) HandleOAuthStart(w http.ResponseWriter, r *http.Request) {
	strategy, err := h.strategies.Get(chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, err)
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth",
		MaxAge:   int(stateMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, strategy.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// HandleOAuthCallback completes the OAuth login.
//
// HTTP: GET /auth/{provider}/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Provider error (e.g. the user denied access) → frontend /login?error=...
//  2. Validate the state parameter (CSRF check)
//  3. Exchange the code for a profile
//  4. Resolve or create the account and issue a token
//  5. Redirect to the frontend /login/success with the token and profile fields
func (h *AuthHandler) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	strategy, err := h.strategies.Get(chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, err)
		return
	}
	provider := strategy.Name()
	q := r.URL.Query()

	// The state cookie is single-use.
	cookie, cookieErr := r.Cookie(stateCookie)
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/auth", MaxAge: -1})

	if errParam := q.Get("error"); errParam != "" {
		h.logger.Info("oauth callback: provider reported an error",
			slog.String("provider", string(provider)),
			slog.String("error", errParam),
		)
		http.Redirect(w, r, h.auth.FailureRedirectURL(errParam), http.StatusFound)
		return
	}

	if cookieErr != nil || cookie.Value == "" || q.Get("state") != cookie.Value {
		h.logger.Warn("oauth callback: state mismatch", slog.String("provider", string(provider)))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "invalid OAuth state",
			Field:   "state",
		})
		return
	}

	code := q.Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "missing OAuth code",
			Field:   "code",
		})
		return
	}

	profile, err := strategy.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("oauth callback: exchange failed",
			slog.String("provider", string(provider)),
			slog.String("error", err.Error()),
		)
		_, reason := errorStatus(err)
		http.Redirect(w, r, h.auth.FailureRedirectURL(reason), http.StatusFound)
		return
	}

	res, err := h.auth.LoginOAuth(r.Context(), profile)
	if err != nil {
		h.logger.Error("oauth callback: login failed",
			slog.String("provider", string(provider)),
			slog.String("error", err.Error()),
		)
		_, reason := errorStatus(err)
		http.Redirect(w, r, h.auth.FailureRedirectURL(reason), http.StatusFound)
		return
	}

	h.setTokenCookie(w, res)
	http.Redirect(w, r, h.auth.RedirectURL(res), http.StatusFound)
}

// HandleVerifyToken echoes the claims of a valid token.
//
// HTTP: GET /auth/verify-token
// Auth: Required
func (h *AuthHandler) HandleVerifyToken(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "authentication token is required"})
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Message: "Token verified", Data: claims})
}

// HandleMe returns the account behind the token, read fresh from the store.
//
// HTTP: GET /auth/me
// Auth: Required
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "authentication token is required"})
		return
	}

	acct, err := h.auth.GetAccount(r.Context(), claims.Subject)
	if err != nil {
		h.fail(w, "me lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, formatAccount(acct, claims.Provider))
}

// HandleLogout clears the token cookie. Tokens are stateless, so a token
// copied elsewhere stays valid until it expires.
//
// HTTP: POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, Envelope{Message: "logged out"})
}

func (h *AuthHandler) session(res *service.AuthResult) SessionResponse {
	return SessionResponse{
		AccessToken:     res.Token,
		AccountResponse: formatAccount(res.Account, res.Provider),
	}
}

func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, res *service.AuthResult) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    res.Token,
		Path:     "/",
		Expires:  res.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// fail logs server-side failures before writing the error response. Client
// errors (4xx) are logged at debug.
func (h *AuthHandler) fail(w http.ResponseWriter, msg string, err error) {
	status, _ := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.String("error", err.Error()))
	} else {
		h.logger.Debug(msg, slog.String("error", err.Error()))
	}
	writeError(w, err)
}
