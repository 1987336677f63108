package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/model"
)

func TestResolve_ByCredential(t *testing.T) {
	repo := newFakeAccountRepo()
	seeded := repo.seed("bobbee", "bob@x.com", model.ProviderCredential{Provider: model.ProviderGoogle, ProviderID: "g1"})

	acct, match, err := NewResolver(repo).Resolve(context.Background(), model.ProviderGoogle, "g1", "different@x.com")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, acct.ID)
	assert.Equal(t, MatchedByCredential, match)
}

func TestResolve_ByEmailDoesNotLink(t *testing.T) {
	repo := newFakeAccountRepo()
	seeded := repo.seed("alice", "alice@x.com", model.ProviderCredential{Provider: model.ProviderPassword, ProviderID: "local:alice@x.com"})

	acct, match, err := NewResolver(repo).Resolve(context.Background(), model.ProviderGitHub, "42", " Alice@X.com")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, acct.ID)
	assert.Equal(t, MatchedByEmail, match)

	stored, err := repo.FindByID(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.False(t, stored.HasCredential(model.ProviderGitHub, "42"))
	assert.Len(t, stored.Credentials, 1)
}

func TestResolve_CredentialBeatsEmail(t *testing.T) {
	repo := newFakeAccountRepo()
	byCred := repo.seed("one", "", model.ProviderCredential{Provider: model.ProviderGitHub, ProviderID: "7"})
	repo.seed("two", "two@x.com", model.ProviderCredential{Provider: model.ProviderGoogle, ProviderID: "g"})

	acct, match, err := NewResolver(repo).Resolve(context.Background(), model.ProviderGitHub, "7", "two@x.com")
	require.NoError(t, err)
	assert.Equal(t, byCred.ID, acct.ID)
	assert.Equal(t, MatchedByCredential, match)
}

func TestResolve_NoMatch(t *testing.T) {
	tests := []struct {
		name  string
		email string
	}{
		{"unknown email", "nobody@x.com"},
		{"no email", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeAccountRepo()
			repo.seed("alice", "alice@x.com", model.ProviderCredential{Provider: model.ProviderGoogle, ProviderID: "g"})

			_, _, err := NewResolver(repo).Resolve(context.Background(), model.ProviderGitHub, "99", tt.email)
			assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)
		})
	}
}

func TestResolve_StoreErrorPropagates(t *testing.T) {
	repo := newFakeAccountRepo()
	repo.findErr = apperror.Unavailable("store: FindByCredential", nil)

	_, _, err := NewResolver(repo).Resolve(context.Background(), model.ProviderGoogle, "g1", "a@x.com")
	assert.True(t, errors.Is(err, apperror.ErrUnavailable))
	assert.False(t, errors.Is(err, apperror.ErrNotFound))
}
