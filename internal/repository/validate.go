package repository

import (
	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/model"
)

// ValidateDraft checks the invariants every store enforces before insert:
// a username, at least one credential, known providers, and a password hash
// whenever a password credential is present.
func ValidateDraft(d model.AccountDraft) error {
	if model.NormalizeUsername(d.Username) == "" {
		return apperror.ValidationFailed("username", "username is required")
	}
	if len(d.Credentials) == 0 {
		return apperror.ValidationFailed("providers", "an account needs at least one credential")
	}
	for _, c := range d.Credentials {
		if !c.Provider.Valid() || c.ProviderID == "" {
			return apperror.ValidationFailed("providers", "credential has an unknown provider or empty id")
		}
		if c.Provider == model.ProviderPassword && d.PasswordHash == "" {
			return apperror.ValidationFailed("password", "a password credential requires a password hash")
		}
	}
	return nil
}
