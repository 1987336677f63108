package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/model"
)

// timeoutRepo bounds every store call with a deadline.
type timeoutRepo struct {
	next    AccountRepository
	timeout time.Duration
}

// WithTimeout wraps repo so each call runs under its own deadline of d. A
// call that overruns fails with apperror.ErrTimeout. A non-positive d
// returns repo unchanged.
func WithTimeout(repo AccountRepository, d time.Duration) AccountRepository {
	if d <= 0 {
		return repo
	}
	return &timeoutRepo{next: repo, timeout: d}
}

func (r *timeoutRepo) FindByCredential(ctx context.Context, provider model.Provider, providerID string) (*model.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	a, err := r.next.FindByCredential(ctx, provider, providerID)
	return a, classify(ctx, "store: FindByCredential", err)
}

func (r *timeoutRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	a, err := r.next.FindByEmail(ctx, email)
	return a, classify(ctx, "store: FindByEmail", err)
}

func (r *timeoutRepo) FindByUsername(ctx context.Context, username string) (*model.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	a, err := r.next.FindByUsername(ctx, username)
	return a, classify(ctx, "store: FindByUsername", err)
}

func (r *timeoutRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	a, err := r.next.FindByID(ctx, id)
	return a, classify(ctx, "store: FindByID", err)
}

func (r *timeoutRepo) Create(ctx context.Context, draft model.AccountDraft) (*model.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	a, err := r.next.Create(ctx, draft)
	return a, classify(ctx, "store: Create", err)
}

func (r *timeoutRepo) AppendCredential(ctx context.Context, accountID string, cred model.ProviderCredential) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return classify(ctx, "store: AppendCredential", r.next.AppendCredential(ctx, accountID, cred))
}

func (r *timeoutRepo) UpdateFields(ctx context.Context, accountID string, patch model.AccountPatch) (*model.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	a, err := r.next.UpdateFields(ctx, accountID, patch)
	return a, classify(ctx, "store: UpdateFields", err)
}

// classify turns a deadline overrun into apperror.ErrTimeout. Domain errors
// from the store pass through untouched.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperror.Timeout(op, err)
	}
	return err
}
