// Package identity is the account resolution and linking engine.
//
// It decides which account an inbound credential belongs to and creates one
// when nothing matches. Three identity namespaces have to stay consistent:
//
//	username            unique, allocated here
//	email               unique when present
//	(provider, id)      unique across all accounts
//
// None of the check-then-create sequences in this package are atomic. The
// store's UNIQUE constraints are the only serialization point: a create that
// loses a race fails with apperror.ErrConflict, and the callers here either
// re-allocate (username) or hand the conflict back so the caller can
// re-resolve (email, credential).
package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/repository"
)

const (
	// DefaultBase is used when nothing usable can be derived from a profile.
	DefaultBase = "user"

	// MaxBaseLength caps the derived base, before any numeric suffix.
	MaxBaseLength = 20

	// DefaultMaxProbes bounds AllocateUnique when no limit is configured.
	DefaultMaxProbes = 10000
)

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// DeriveBase turns a display name, or failing that the local part of an
// email, or failing that fallback, into a username base. The result always
// matches ^[a-z0-9]{1,20}$.
func DeriveBase(displayName, email, fallback string) string {
	raw := displayName
	if raw == "" {
		if at := strings.IndexByte(email, '@'); at >= 0 {
			raw = email[:at]
		} else {
			raw = email
		}
	}
	if raw == "" {
		raw = fallback
	}
	if raw == "" {
		raw = DefaultBase
	}

	base := nonAlphanumeric.ReplaceAllString(strings.ToLower(raw), "")
	if len(base) > MaxBaseLength {
		base = base[:MaxBaseLength]
	}
	if base == "" {
		return DefaultBase
	}
	return base
}

// TakenFunc reports whether a username is already in use.
type TakenFunc func(ctx context.Context, candidate string) (bool, error)

// AllocateUnique returns base if it is free, otherwise the first free
// candidate among base+"1", base+"2", ... After maxProbes candidates it gives
// up with apperror.ErrExhausted. Errors from isTaken are returned as is.
// The suffix is not counted against MaxBaseLength, so a full-length base
// yields candidates longer than twenty characters.
func AllocateUnique(ctx context.Context, base string, isTaken TakenFunc, maxProbes int) (string, error) {
	if maxProbes <= 0 {
		maxProbes = DefaultMaxProbes
	}

	candidate := base
	for i := 0; i < maxProbes; i++ {
		if i > 0 {
			candidate = base + strconv.Itoa(i)
		}
		taken, err := isTaken(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("identity: probing username %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", apperror.Exhausted("username candidates for "+base, maxProbes)
}

// UsernameAllocator probes the account store for free usernames.
type UsernameAllocator struct {
	accounts  repository.AccountRepository
	maxProbes int
}

func NewUsernameAllocator(accounts repository.AccountRepository, maxProbes int) *UsernameAllocator {
	return &UsernameAllocator{accounts: accounts, maxProbes: maxProbes}
}

// Allocate returns the first free username for base.
func (a *UsernameAllocator) Allocate(ctx context.Context, base string) (string, error) {
	return AllocateUnique(ctx, base, a.isTaken, a.maxProbes)
}

func (a *UsernameAllocator) isTaken(ctx context.Context, candidate string) (bool, error) {
	_, err := a.accounts.FindByUsername(ctx, candidate)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, apperror.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
