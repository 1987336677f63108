package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/auth"
	"github.com/sakif/identity-service/internal/model"
)

func newTestLocalHandler(t *testing.T, repo *fakeAccountRepo, hasher PasswordHasher) *LocalHandler {
	t.Helper()
	h, err := NewLocalHandler(repo, NewUsernameAllocator(repo, 100), hasher, testLogger())
	require.NoError(t, err)
	return h
}

// =========================================================================
// CreateLocal TESTS
// =========================================================================

func TestCreateLocal_NewAccount(t *testing.T) {
	repo := newFakeAccountRepo()
	h := newTestLocalHandler(t, repo, &plainHasher{})

	acct, err := h.CreateLocal(context.Background(), LocalSignup{
		Username: "alice", Fullname: "Alice A", Email: "alice@x.com", Password: "pw",
	})
	require.NoError(t, err)

	assert.Equal(t, "alice", acct.Username)
	assert.Equal(t, "Alice A", acct.Fullname)
	assert.Equal(t, "alice@x.com", acct.Email)
	assert.Equal(t, "hashed:pw", acct.PasswordHash)
	require.Len(t, acct.Credentials, 1)
	assert.Equal(t, model.ProviderPassword, acct.Credentials[0].Provider)
	assert.Equal(t, "local:alice@x.com", acct.Credentials[0].ProviderID)
}

func TestCreateLocal_UsernameFromEmailAndFullnameDefault(t *testing.T) {
	repo := newFakeAccountRepo()
	h := newTestLocalHandler(t, repo, &plainHasher{})

	acct, err := h.CreateLocal(context.Background(), LocalSignup{Email: "  Grace.Hopper@Navy.mil ", Password: "pw"})
	require.NoError(t, err)

	assert.Equal(t, "gracehopper", acct.Username)
	assert.Equal(t, "gracehopper", acct.Fullname)
	assert.Equal(t, "grace.hopper@navy.mil", acct.Email)
}

func TestCreateLocal_Validation(t *testing.T) {
	tests := []struct {
		name  string
		in    LocalSignup
		field string
	}{
		{"missing email", LocalSignup{Password: "pw"}, "email"},
		{"blank email", LocalSignup{Email: "   ", Password: "pw"}, "email"},
		{"missing password", LocalSignup{Email: "a@x.com"}, "password"},
		{"password too long", LocalSignup{Email: "a@x.com", Password: strings.Repeat("a", 73)}, "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeAccountRepo()
			h := newTestLocalHandler(t, repo, &plainHasher{})

			_, err := h.CreateLocal(context.Background(), tt.in)
			require.True(t, errors.Is(err, apperror.ErrValidation), "got %v", err)

			var appErr *apperror.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.field, appErr.Field)
			assert.Equal(t, 0, repo.createCalls)
		})
	}
}

func TestCreateLocal_EmailConflict(t *testing.T) {
	repo := newFakeAccountRepo()
	repo.seed("existing", "taken@x.com", model.ProviderCredential{Provider: model.ProviderGoogle, ProviderID: "g"})
	h := newTestLocalHandler(t, repo, &plainHasher{})

	_, err := h.CreateLocal(context.Background(), LocalSignup{Username: "new", Email: "TAKEN@x.com", Password: "pw"})
	assert.Equal(t, "email", apperror.ConflictField(err))
	assert.Equal(t, 1, repo.createCalls, "only the seed should have been created")
}

func TestCreateLocal_TakenUsernameGetsSuffix(t *testing.T) {
	repo := newFakeAccountRepo()
	repo.seed("bob", "", model.ProviderCredential{Provider: model.ProviderGitHub, ProviderID: "1"})
	h := newTestLocalHandler(t, repo, &plainHasher{})

	acct, err := h.CreateLocal(context.Background(), LocalSignup{Username: "Bob", Email: "bob@x.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "bob1", acct.Username)
}

func TestCreateLocal_LostUsernameRaceReallocates(t *testing.T) {
	repo := newFakeAccountRepo()
	repo.seed("bob", "", model.ProviderCredential{Provider: model.ProviderGitHub, ProviderID: "1"})
	h := newTestLocalHandler(t, repo, &plainHasher{})

	// A concurrent signup claims bob1 between our probe and our create.
	var once sync.Once
	repo.beforeCreate = func(d model.AccountDraft) {
		if d.Username == "bob1" {
			once.Do(func() {
				repo.seed("bob1", "other@x.com", model.ProviderCredential{Provider: model.ProviderGitHub, ProviderID: "2"})
			})
		}
	}

	acct, err := h.CreateLocal(context.Background(), LocalSignup{Username: "bob", Email: "bob@x.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "bob2", acct.Username)
}

func TestCreateLocal_EmailRaceSurfacesConflict(t *testing.T) {
	repo := newFakeAccountRepo()
	h := newTestLocalHandler(t, repo, &plainHasher{})

	var once sync.Once
	repo.beforeCreate = func(d model.AccountDraft) {
		if d.Username == "carol" {
			once.Do(func() {
				repo.seed("someoneelse", "carol@x.com", model.ProviderCredential{Provider: model.ProviderGoogle, ProviderID: "g"})
			})
		}
	}

	_, err := h.CreateLocal(context.Background(), LocalSignup{Username: "carol", Email: "carol@x.com", Password: "pw"})
	assert.Equal(t, "email", apperror.ConflictField(err))
}

// =========================================================================
// VerifyLocal TESTS
// =========================================================================

func TestVerifyLocal_WithBcrypt(t *testing.T) {
	repo := newFakeAccountRepo()
	h := newTestLocalHandler(t, repo, auth.NewPasswordServiceForTest(4))

	created, err := h.CreateLocal(context.Background(), LocalSignup{Username: "alice", Email: "alice@x.com", Password: "correct horse"})
	require.NoError(t, err)

	acct, err := h.VerifyLocal(context.Background(), "ALICE@x.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, created.ID, acct.ID)

	_, err = h.VerifyLocal(context.Background(), "alice@x.com", "wrong horse")
	assert.True(t, errors.Is(err, apperror.ErrUnauthorized))
}

func TestVerifyLocal_FailuresAreIndistinguishable(t *testing.T) {
	repo := newFakeAccountRepo()
	repo.seed("oauthonly", "oauth@x.com", model.ProviderCredential{Provider: model.ProviderGoogle, ProviderID: "g"})
	hasher := &plainHasher{}
	h := newTestLocalHandler(t, repo, hasher)

	_, err := h.CreateLocal(context.Background(), LocalSignup{Email: "alice@x.com", Password: "pw"})
	require.NoError(t, err)

	cases := map[string][2]string{
		"unknown email":    {"nobody@x.com", "pw"},
		"no password hash": {"oauth@x.com", "pw"},
		"wrong password":   {"alice@x.com", "nope"},
	}

	var messages []string
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			before := hasher.verifyCalls
			_, err := h.VerifyLocal(context.Background(), c[0], c[1])
			require.True(t, errors.Is(err, apperror.ErrUnauthorized), "got %v", err)
			assert.Equal(t, before+1, hasher.verifyCalls, "every path runs exactly one hash comparison")
			messages = append(messages, err.Error())
		})
	}

	for _, m := range messages {
		assert.Equal(t, messages[0], m)
	}
}

func TestVerifyLocal_StoreFailureIsNotAuthFailure(t *testing.T) {
	repo := newFakeAccountRepo()
	h := newTestLocalHandler(t, repo, &plainHasher{})
	repo.findErr = apperror.Timeout("store: FindByEmail", context.DeadlineExceeded)

	_, err := h.VerifyLocal(context.Background(), "a@x.com", "pw")
	assert.True(t, errors.Is(err, apperror.ErrTimeout))
	assert.False(t, errors.Is(err, apperror.ErrUnauthorized))
}

func TestVerifyLocal_MissingInput(t *testing.T) {
	h := newTestLocalHandler(t, newFakeAccountRepo(), &plainHasher{})

	_, err := h.VerifyLocal(context.Background(), "", "pw")
	assert.True(t, errors.Is(err, apperror.ErrValidation))
}
