// Package auth provides session tokens, password hashing, OAuth strategies
// and the HTTP middleware that reads session tokens back.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. Local: POST /auth/login with email + password → bcrypt check → token
//  2. OAuth: GET /auth/{provider} → provider consent → /auth/{provider}/callback
//     with a code → Strategy.Exchange turns the code into an OAuthProfile →
//     the identity engine resolves or creates the account → token
//  3. Either way the client receives a signed JWT that carries the account
//     fields the frontend needs, so no extra round trip is required
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: SessionClaims → {"id":"...","username":"...","sub":"...","exp":...}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/model"
)

// MinSecretLength is the shortest JWT secret NewTokenService accepts.
const MinSecretLength = 16

// DefaultIssuer is the "iss" claim used when none is configured.
const DefaultIssuer = "identity-service"

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret []byte
	issuer string
}

// NewTokenService creates a TokenService with the given secret.
// A missing or short secret is a misconfiguration: the server must not start
// with it.
func NewTokenService(secret, issuer string) (*TokenService, error) {
	if secret == "" {
		return nil, apperror.Misconfigured("JWT_SECRET", "JWT_SECRET is required")
	}
	if len(secret) < MinSecretLength {
		return nil, apperror.Misconfigured("JWT_SECRET", fmt.Sprintf("JWT_SECRET must be at least %d characters", MinSecretLength))
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &TokenService{secret: []byte(secret), issuer: issuer}, nil
}

// SessionClaims is the JWT payload. The account fields mirror the formatted
// account the HTTP layer returns; Email is null when the account has none.
type SessionClaims struct {
	AccountID string         `json:"id"`
	Username  string         `json:"username"`
	Fullname  string         `json:"fullname"`
	Email     *string        `json:"email"`
	IsAdmin   bool           `json:"isAdmin"`
	CreatedAt time.Time      `json:"createdAt"`
	Provider  model.Provider `json:"provider"`
	jwt.RegisteredClaims
}

// Issue signs a token for acct that expires after ttl. provider is the
// provider used for the current authentication, not necessarily the one the
// account was created with.
func (s *TokenService) Issue(acct *model.Account, provider model.Provider, ttl time.Duration) (string, error) {
	if acct == nil || acct.ID == "" {
		return "", fmt.Errorf("auth: issuing token: account has no id")
	}

	now := time.Now()
	c := SessionClaims{
		AccountID: acct.ID,
		Username:  acct.Username,
		Fullname:  acct.Fullname,
		IsAdmin:   acct.IsAdmin,
		CreatedAt: acct.CreatedAt.UTC(),
		Provider:  provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if acct.Email != "" {
		email := acct.Email
		c.Email = &email
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a JWT string and returns its claims.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid
//   - Token is not expired, and carries an expiry at all
//   - Issuer matches
//   - Algorithm is HS256 (prevents "alg":"none" and key-confusion tokens)
//
// Every failure is reported as apperror.ErrUnauthorized.
func (s *TokenService) Validate(tokenStr string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&SessionClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, invalidToken("token expired", err)
		}
		return nil, invalidToken("invalid token", err)
	}

	c, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, invalidToken("invalid token claims", nil)
	}
	if c.Subject == "" {
		return nil, invalidToken("token has no subject", nil)
	}
	return c, nil
}

func invalidToken(msg string, cause error) error {
	return &apperror.AppError{Err: apperror.ErrUnauthorized, Message: msg, Cause: cause}
}
