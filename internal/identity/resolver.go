package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/model"
	"github.com/sakif/identity-service/internal/repository"
)

// Match records how an account was reached.
type Match string

const (
	MatchedByCredential Match = "matched_by_credential"
	MatchedByEmail      Match = "matched_by_email"
	Created             Match = "created"
)

// Resolver maps a provider assertion to an existing account.
type Resolver struct {
	accounts repository.AccountRepository
}

func NewResolver(accounts repository.AccountRepository) *Resolver {
	return &Resolver{accounts: accounts}
}

// Resolve looks the account up by (provider, providerID) first and by email
// second. An email match is returned as is: the new credential is not
// attached to it. Returns apperror.ErrNotFound when neither lookup matches.
func (r *Resolver) Resolve(ctx context.Context, provider model.Provider, providerID, email string) (*model.Account, Match, error) {
	acct, err := r.accounts.FindByCredential(ctx, provider, providerID)
	if err == nil {
		return acct, MatchedByCredential, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, "", fmt.Errorf("identity: resolving %s credential: %w", provider, err)
	}

	email = model.NormalizeEmail(email)
	if email != "" {
		acct, err = r.accounts.FindByEmail(ctx, email)
		if err == nil {
			return acct, MatchedByEmail, nil
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return nil, "", fmt.Errorf("identity: resolving by email: %w", err)
		}
	}

	return nil, "", apperror.NotFound("account", string(provider)+":"+providerID)
}
