package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/model"
	"github.com/sakif/identity-service/internal/repository"
)

// ProfileInput is what the Linker needs from an OAuth profile.
type ProfileInput struct {
	Provider    model.Provider
	ProviderID  string
	DisplayName string
	Email       string
	AvatarURL   string
}

// ProfileInputFrom extracts a ProfileInput from a strategy profile.
func ProfileInputFrom(p *model.OAuthProfile) ProfileInput {
	return ProfileInput{
		Provider:    p.Provider,
		ProviderID:  p.ID,
		DisplayName: p.PreferredName(),
		Email:       p.SelectEmail(),
		AvatarURL:   p.PhotoURL(),
	}
}

// Linker creates accounts for unmatched profiles and attaches credentials to
// existing ones.
type Linker struct {
	accounts  repository.AccountRepository
	usernames *UsernameAllocator
	logger    *slog.Logger
}

func NewLinker(accounts repository.AccountRepository, usernames *UsernameAllocator, logger *slog.Logger) *Linker {
	return &Linker{accounts: accounts, usernames: usernames, logger: logger}
}

// CreateFromProfile creates an account holding the single credential
// (Provider, ProviderID). A missing email is fine. A username lost to a
// concurrent create is re-allocated; an email or credential conflict is
// returned so the caller can re-resolve.
func (l *Linker) CreateFromProfile(ctx context.Context, in ProfileInput) (*model.Account, error) {
	if !in.Provider.Valid() || in.Provider == model.ProviderPassword {
		return nil, apperror.ValidationFailed("provider", fmt.Sprintf("unsupported provider %q", in.Provider))
	}
	if in.ProviderID == "" {
		return nil, apperror.ValidationFailed("id", "profile has no provider id")
	}

	email := model.NormalizeEmail(in.Email)
	base := DeriveBase(in.DisplayName, email, DefaultBase)

	for attempt := 1; ; attempt++ {
		username, err := l.usernames.Allocate(ctx, base)
		if err != nil {
			return nil, err
		}

		fullname := in.DisplayName
		if fullname == "" {
			fullname = username
		}

		acct, err := l.accounts.Create(ctx, model.AccountDraft{
			Username:  username,
			Fullname:  fullname,
			Email:     email,
			AvatarURL: in.AvatarURL,
			Credentials: []model.ProviderCredential{{
				Provider:   in.Provider,
				ProviderID: in.ProviderID,
			}},
		})
		if err == nil {
			l.logger.Info("account created from profile",
				slog.String("accountID", acct.ID),
				slog.String("provider", string(in.Provider)),
				slog.String("username", acct.Username),
			)
			return acct, nil
		}

		if apperror.ConflictField(err) != "username" || attempt >= maxCreateAttempts {
			return nil, err
		}
		l.logger.Debug("username taken during profile create, re-allocating",
			slog.String("username", username),
			slog.Int("attempt", attempt),
		)
	}
}

// LinkProvider attaches (provider, providerID) to the account with set
// semantics. Linking a credential the account already holds returns it
// unchanged; a credential owned by another account is a conflict.
func (l *Linker) LinkProvider(ctx context.Context, accountID string, provider model.Provider, providerID string) (*model.Account, error) {
	acct, err := l.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.HasCredential(provider, providerID) {
		return acct, nil
	}

	cred := model.ProviderCredential{Provider: provider, ProviderID: providerID, LinkedAt: time.Now().UTC()}
	if err := l.accounts.AppendCredential(ctx, accountID, cred); err != nil {
		return nil, err
	}

	l.logger.Info("provider linked",
		slog.String("accountID", accountID),
		slog.String("provider", string(provider)),
	)
	return l.accounts.FindByID(ctx, accountID)
}
