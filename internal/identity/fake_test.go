package identity

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/model"
	"github.com/sakif/identity-service/internal/repository"
)

// fakeAccountRepo is an in-memory AccountRepository that enforces the same
// uniqueness rules as the SQL stores.
type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*model.Account
	nextID   int

	// beforeCreate runs (outside the lock) before every Create; tests use it
	// to slip in a competing write.
	beforeCreate func(draft model.AccountDraft)
	// findErr, when set, is returned by every lookup.
	findErr error

	createCalls         int
	findByUsernameCalls int
}

var _ repository.AccountRepository = (*fakeAccountRepo)(nil)

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: make(map[string]*model.Account)}
}

func (f *fakeAccountRepo) copyOf(a *model.Account) *model.Account {
	c := *a
	c.Credentials = append([]model.ProviderCredential(nil), a.Credentials...)
	return &c
}

func (f *fakeAccountRepo) FindByCredential(_ context.Context, provider model.Provider, providerID string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, a := range f.accounts {
		if a.HasCredential(provider, providerID) {
			return f.copyOf(a), nil
		}
	}
	return nil, apperror.NotFound("account", string(provider)+":"+providerID)
}

func (f *fakeAccountRepo) FindByEmail(_ context.Context, email string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	email = model.NormalizeEmail(email)
	for _, a := range f.accounts {
		if email != "" && a.Email == email {
			return f.copyOf(a), nil
		}
	}
	return nil, apperror.NotFound("account", email)
}

func (f *fakeAccountRepo) FindByUsername(_ context.Context, username string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findByUsernameCalls++
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, a := range f.accounts {
		if a.Username == model.NormalizeUsername(username) {
			return f.copyOf(a), nil
		}
	}
	return nil, apperror.NotFound("account", username)
}

func (f *fakeAccountRepo) FindByID(_ context.Context, id string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	a, ok := f.accounts[id]
	if !ok {
		return nil, apperror.NotFound("account", id)
	}
	return f.copyOf(a), nil
}

func (f *fakeAccountRepo) Create(_ context.Context, draft model.AccountDraft) (*model.Account, error) {
	if f.beforeCreate != nil {
		f.beforeCreate(draft)
	}
	return f.create(draft)
}

func (f *fakeAccountRepo) create(draft model.AccountDraft) (*model.Account, error) {
	if err := repository.ValidateDraft(draft); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++

	username := model.NormalizeUsername(draft.Username)
	email := model.NormalizeEmail(draft.Email)
	for _, a := range f.accounts {
		if a.Username == username {
			return nil, apperror.FieldConflict("username")
		}
		if email != "" && a.Email == email {
			return nil, apperror.FieldConflict("email")
		}
		for _, c := range draft.Credentials {
			if a.HasCredential(c.Provider, c.ProviderID) {
				return nil, apperror.FieldConflict("credential")
			}
		}
	}

	f.nextID++
	a := &model.Account{
		ID:           fmt.Sprintf("acct-%d", f.nextID),
		Username:     username,
		Fullname:     draft.Fullname,
		Email:        email,
		PasswordHash: draft.PasswordHash,
		AvatarURL:    draft.AvatarURL,
		IsAdmin:      draft.IsAdmin,
		CreatedAt:    time.Now(),
	}
	for _, c := range draft.Credentials {
		c.LinkedAt = time.Now()
		a.Credentials = append(a.Credentials, c)
	}
	f.accounts[a.ID] = a
	return f.copyOf(a), nil
}

func (f *fakeAccountRepo) AppendCredential(_ context.Context, accountID string, cred model.ProviderCredential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, ok := f.accounts[accountID]
	if !ok {
		return apperror.NotFound("account", accountID)
	}
	for id, a := range f.accounts {
		if a.HasCredential(cred.Provider, cred.ProviderID) {
			if id == accountID {
				return nil
			}
			return apperror.FieldConflict("credential")
		}
	}
	target.Credentials = append(target.Credentials, cred)
	return nil
}

func (f *fakeAccountRepo) UpdateFields(_ context.Context, accountID string, patch model.AccountPatch) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[accountID]
	if !ok {
		return nil, apperror.NotFound("account", accountID)
	}
	if patch.Fullname != nil {
		a.Fullname = *patch.Fullname
	}
	return f.copyOf(a), nil
}

// seed inserts an account directly, bypassing the engine and beforeCreate.
func (f *fakeAccountRepo) seed(username, email string, creds ...model.ProviderCredential) *model.Account {
	draft := model.AccountDraft{Username: username, Fullname: username, Email: email, Credentials: creds}
	for _, c := range creds {
		if c.Provider == model.ProviderPassword {
			draft.PasswordHash = "seeded-hash"
		}
	}
	a, err := f.create(draft)
	if err != nil {
		panic(err)
	}
	return a
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// plainHasher is a fast PasswordHasher for tests that do not exercise bcrypt.
type plainHasher struct {
	verifyCalls int
}

func (p *plainHasher) Hash(plaintext string) (string, error) {
	return "hashed:" + plaintext, nil
}

func (p *plainHasher) Verify(hash, plaintext string) error {
	p.verifyCalls++
	if hash != "hashed:"+plaintext {
		return fmt.Errorf("mismatch")
	}
	return nil
}
