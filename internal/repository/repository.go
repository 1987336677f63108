// Package repository defines the credential store contract the identity
// engine depends on. Concrete stores live in the sqlite and postgres
// sub-packages.
//
// CONTRACT:
//   - Lookups return an error wrapping apperror.ErrNotFound when nothing matches.
//   - Create is the only place uniqueness is enforced. A violated username,
//     email or credential constraint comes back as apperror.ErrConflict with
//     Field set to "username", "email" or "credential".
//   - Stores classify connection failures as apperror.ErrUnavailable.
package repository

import (
	"context"

	"github.com/sakif/identity-service/internal/model"
)

type AccountRepository interface {
	FindByCredential(ctx context.Context, provider model.Provider, providerID string) (*model.Account, error)
	FindByEmail(ctx context.Context, email string) (*model.Account, error)
	FindByUsername(ctx context.Context, username string) (*model.Account, error)
	FindByID(ctx context.Context, id string) (*model.Account, error)
	Create(ctx context.Context, draft model.AccountDraft) (*model.Account, error)
	AppendCredential(ctx context.Context, accountID string, cred model.ProviderCredential) error
	UpdateFields(ctx context.Context, accountID string, patch model.AccountPatch) (*model.Account, error)
}
