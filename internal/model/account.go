// Package model defines the data structures used throughout the application.
package model

import (
	"strings"
	"time"
)

// Provider identifies the authority that vouches for a credential.
type Provider string

const (
	ProviderPassword Provider = "password"
	ProviderGoogle   Provider = "google"
	ProviderGitHub   Provider = "github"
)

// Valid reports whether p is one of the known providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderPassword, ProviderGoogle, ProviderGitHub:
		return true
	}
	return false
}

// LocalProviderID is the provider id of a password credential. It is derived
// from the normalized email so the same email can never hold two password
// credentials.
func LocalProviderID(email string) string {
	return "local:" + NormalizeEmail(email)
}

// ProviderCredential binds an account to an external (or local) identity.
// The pair (Provider, ProviderID) is unique across all accounts.
type ProviderCredential struct {
	Provider   Provider  `json:"provider"`
	ProviderID string    `json:"providerId"`
	LinkedAt   time.Time `json:"linkedAt"`
}

// Account is the unified identity record.
//
// Email is empty when the account has none; the stores persist that as NULL
// so uniqueness only applies to present emails. PasswordHash is never
// serialized.
type Account struct {
	ID           string               `json:"id"`
	Username     string               `json:"username"`
	Fullname     string               `json:"fullname"`
	Email        string               `json:"email,omitempty"`
	PasswordHash string               `json:"-"`
	AvatarURL    string               `json:"avatarUrl"`
	IsAdmin      bool                 `json:"isAdmin"`
	CreatedAt    time.Time            `json:"createdAt"`
	Credentials  []ProviderCredential `json:"providers"`
}

// HasCredential reports whether the account already holds (provider, providerID).
func (a *Account) HasCredential(provider Provider, providerID string) bool {
	for _, c := range a.Credentials {
		if c.Provider == provider && c.ProviderID == providerID {
			return true
		}
	}
	return false
}

// AccountDraft is the input to a store Create. The store assigns ID and
// CreatedAt and stamps LinkedAt on credentials that lack one.
type AccountDraft struct {
	Username     string
	Fullname     string
	Email        string
	PasswordHash string
	AvatarURL    string
	IsAdmin      bool
	Credentials  []ProviderCredential
}

// AccountPatch carries a partial update. Nil fields are left unchanged; an
// empty Email clears the email.
type AccountPatch struct {
	Username  *string
	Fullname  *string
	Email     *string
	AvatarURL *string
	IsAdmin   *bool
}

// Empty reports whether the patch changes nothing.
func (p AccountPatch) Empty() bool {
	return p.Username == nil && p.Fullname == nil && p.Email == nil && p.AvatarURL == nil && p.IsAdmin == nil
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername lowercases and trims a username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
