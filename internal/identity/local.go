package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/model"
	"github.com/sakif/identity-service/internal/repository"
)

// maxCreateAttempts bounds how often a create is retried after losing a
// username race to a concurrent request.
const maxCreateAttempts = 5

// maxPasswordBytes is the bcrypt input limit.
const maxPasswordBytes = 72

// PasswordHasher hashes and verifies passwords. auth.PasswordService is the
// production implementation.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(hash, plaintext string) error
}

// LocalSignup is the input to CreateLocal. Username and Fullname are optional.
type LocalSignup struct {
	Username string
	Fullname string
	Email    string
	Password string
}

// LocalHandler creates and verifies email/password accounts.
type LocalHandler struct {
	accounts  repository.AccountRepository
	usernames *UsernameAllocator
	hasher    PasswordHasher
	logger    *slog.Logger

	// dummyHash is compared against when the email is unknown, so a miss
	// costs the same bcrypt work as a wrong password.
	dummyHash string
}

func NewLocalHandler(
	accounts repository.AccountRepository,
	usernames *UsernameAllocator,
	hasher PasswordHasher,
	logger *slog.Logger,
) (*LocalHandler, error) {
	dummy, err := hasher.Hash("identity-service/no-such-account")
	if err != nil {
		return nil, fmt.Errorf("identity: preparing dummy hash: %w", err)
	}
	return &LocalHandler{
		accounts:  accounts,
		usernames: usernames,
		hasher:    hasher,
		logger:    logger,
		dummyHash: dummy,
	}, nil
}

// CreateLocal registers an email/password account.
//
// The username is allocated from the requested username, or the email's
// local part when none is given. An email that is already registered is a
// conflict; a username lost to a concurrent signup is re-allocated.
func (h *LocalHandler) CreateLocal(ctx context.Context, in LocalSignup) (*model.Account, error) {
	email := model.NormalizeEmail(in.Email)
	if email == "" {
		return nil, apperror.ValidationFailed("email", "email is required")
	}
	if in.Password == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}
	if len(in.Password) > maxPasswordBytes {
		return nil, apperror.ValidationFailed("password", "password must be 72 bytes or fewer")
	}

	_, err := h.accounts.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, apperror.FieldConflict("email")
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("identity: checking email: %w", err)
	}

	hash, err := h.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("identity: hashing password: %w", err)
	}

	base := DeriveBase(strings.TrimSpace(in.Username), email, DefaultBase)
	for attempt := 1; ; attempt++ {
		username, err := h.usernames.Allocate(ctx, base)
		if err != nil {
			return nil, err
		}

		fullname := strings.TrimSpace(in.Fullname)
		if fullname == "" {
			fullname = username
		}

		acct, err := h.accounts.Create(ctx, model.AccountDraft{
			Username:     username,
			Fullname:     fullname,
			Email:        email,
			PasswordHash: hash,
			Credentials: []model.ProviderCredential{{
				Provider:   model.ProviderPassword,
				ProviderID: model.LocalProviderID(email),
			}},
		})
		if err == nil {
			h.logger.Info("local account created",
				slog.String("accountID", acct.ID),
				slog.String("username", acct.Username),
			)
			return acct, nil
		}

		if apperror.ConflictField(err) != "username" || attempt >= maxCreateAttempts {
			return nil, err
		}
		h.logger.Debug("username taken during signup, re-allocating",
			slog.String("username", username),
			slog.Int("attempt", attempt),
		)
	}
}

// VerifyLocal checks an email/password pair. Every failure mode (unknown
// email, account without a password, wrong password) yields the same
// apperror.ErrUnauthorized. Store failures are returned unchanged.
func (h *LocalHandler) VerifyLocal(ctx context.Context, email, password string) (*model.Account, error) {
	email = model.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperror.ValidationFailed("email", "missing email and/or password")
	}

	acct, err := h.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			_ = h.hasher.Verify(h.dummyHash, password)
			return nil, apperror.AuthFailed()
		}
		return nil, fmt.Errorf("identity: looking up %s: %w", email, err)
	}

	if acct.PasswordHash == "" {
		_ = h.hasher.Verify(h.dummyHash, password)
		return nil, apperror.AuthFailed()
	}

	if err := h.hasher.Verify(acct.PasswordHash, password); err != nil {
		return nil, apperror.AuthFailed()
	}

	return acct, nil
}
