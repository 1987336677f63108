package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/rs/xid"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/model"
	"github.com/sakif/identity-service/internal/repository"
)

var _ repository.AccountRepository = (*DB)(nil)

var accountColumns = []string{
	"a.id", "a.username", "a.fullname", "a.email", "a.password_hash", "a.avatar_url", "a.is_admin", "a.created_at",
}

func selectAccounts() sq.SelectBuilder {
	return psql.Select(accountColumns...).From("accounts a")
}

func (db *DB) FindByCredential(ctx context.Context, provider model.Provider, providerID string) (*model.Account, error) {
	q := selectAccounts().
		Join("account_credentials c ON c.account_id = a.id").
		Where(sq.Eq{"c.provider": string(provider), "c.provider_id": providerID})
	return db.findOne(ctx, q, "FindByCredential", string(provider)+":"+providerID)
}

func (db *DB) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	email = model.NormalizeEmail(email)
	if email == "" {
		return nil, apperror.NotFound("account", "<no email>")
	}
	return db.findOne(ctx, selectAccounts().Where(sq.Eq{"a.email": email}), "FindByEmail", email)
}

func (db *DB) FindByUsername(ctx context.Context, username string) (*model.Account, error) {
	username = model.NormalizeUsername(username)
	return db.findOne(ctx, selectAccounts().Where(sq.Eq{"a.username": username}), "FindByUsername", username)
}

func (db *DB) FindByID(ctx context.Context, id string) (*model.Account, error) {
	return db.findOne(ctx, selectAccounts().Where(sq.Eq{"a.id": id}), "FindByID", id)
}

// Create inserts the account and its credentials in one transaction.
func (db *DB) Create(ctx context.Context, draft model.AccountDraft) (*model.Account, error) {
	if err := repository.ValidateDraft(draft); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	acct := &model.Account{
		ID:           xid.New().String(),
		Username:     model.NormalizeUsername(draft.Username),
		Fullname:     draft.Fullname,
		Email:        model.NormalizeEmail(draft.Email),
		PasswordHash: draft.PasswordHash,
		AvatarURL:    draft.AvatarURL,
		IsAdmin:      draft.IsAdmin,
		CreatedAt:    now,
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, db.classify("begin create", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	query, args, err := psql.Insert("accounts").
		Columns("id", "username", "fullname", "email", "password_hash", "avatar_url", "is_admin", "created_at").
		Values(acct.ID, acct.Username, acct.Fullname, nullString(acct.Email), nullString(acct.PasswordHash), acct.AvatarURL, acct.IsAdmin, acct.CreatedAt).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: building insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, db.classify("insert account", err)
	}

	for _, c := range draft.Credentials {
		if c.LinkedAt.IsZero() {
			c.LinkedAt = now
		}
		query, args, err := psql.Insert("account_credentials").
			Columns("account_id", "provider", "provider_id", "linked_at").
			Values(acct.ID, string(c.Provider), c.ProviderID, c.LinkedAt.UTC()).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("postgres: building credential insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, db.classify("insert credential", err)
		}
		acct.Credentials = append(acct.Credentials, c)
	}

	if err := tx.Commit(); err != nil {
		return nil, db.classify("commit create", err)
	}
	return acct, nil
}

// AppendCredential adds cred to the account. Already holding it is a no-op;
// another account holding it is a conflict.
func (db *DB) AppendCredential(ctx context.Context, accountID string, cred model.ProviderCredential) error {
	if !cred.Provider.Valid() || cred.ProviderID == "" {
		return apperror.ValidationFailed("provider", "a valid provider and provider id are required")
	}
	if cred.LinkedAt.IsZero() {
		cred.LinkedAt = time.Now()
	}

	query, args, err := psql.Insert("account_credentials").
		Columns("account_id", "provider", "provider_id", "linked_at").
		Values(accountID, string(cred.Provider), cred.ProviderID, cred.LinkedAt.UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("postgres: building credential insert: %w", err)
	}

	_, err = db.conn.ExecContext(ctx, query, args...)
	if err == nil {
		return nil
	}

	if pgErr := postgresError(err); pgErr != nil {
		switch pgErr.Code {
		case pgerrcode.ForeignKeyViolation:
			return apperror.NotFound("account", accountID)
		case pgerrcode.UniqueViolation:
			owner, oerr := db.credentialOwner(ctx, cred)
			if oerr != nil {
				return oerr
			}
			if owner == accountID {
				return nil
			}
			return apperror.FieldConflict("credential")
		}
	}
	return db.classify("append credential", err)
}

func (db *DB) UpdateFields(ctx context.Context, accountID string, patch model.AccountPatch) (*model.Account, error) {
	if patch.Empty() {
		return db.FindByID(ctx, accountID)
	}

	b := psql.Update("accounts").Where(sq.Eq{"id": accountID})
	if patch.Username != nil {
		u := model.NormalizeUsername(*patch.Username)
		if u == "" {
			return nil, apperror.ValidationFailed("username", "username must not be empty")
		}
		b = b.Set("username", u)
	}
	if patch.Fullname != nil {
		b = b.Set("fullname", *patch.Fullname)
	}
	if patch.Email != nil {
		b = b.Set("email", nullString(model.NormalizeEmail(*patch.Email)))
	}
	if patch.AvatarURL != nil {
		b = b.Set("avatar_url", *patch.AvatarURL)
	}
	if patch.IsAdmin != nil {
		b = b.Set("is_admin", *patch.IsAdmin)
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: building update: %w", err)
	}
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, db.classify("update account", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("postgres: rows affected: %w", err)
	}
	if n == 0 {
		return nil, apperror.NotFound("account", accountID)
	}
	return db.FindByID(ctx, accountID)
}

func (db *DB) credentialOwner(ctx context.Context, cred model.ProviderCredential) (string, error) {
	query, args, err := psql.Select("account_id").
		From("account_credentials").
		Where(sq.Eq{"provider": string(cred.Provider), "provider_id": cred.ProviderID}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("postgres: building owner query: %w", err)
	}
	var owner string
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&owner); err != nil {
		return "", db.classify("credential owner", err)
	}
	return owner, nil
}

func (db *DB) findOne(ctx context.Context, b sq.SelectBuilder, op, key string) (*model.Account, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: building %s: %w", op, err)
	}

	var (
		a            model.Account
		email, phash sql.NullString
	)
	err = db.conn.QueryRowContext(ctx, query, args...).
		Scan(&a.ID, &a.Username, &a.Fullname, &email, &phash, &a.AvatarURL, &a.IsAdmin, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account", key)
		}
		return nil, db.classify(op, err)
	}
	a.Email = email.String
	a.PasswordHash = phash.String

	creds, err := db.credentials(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	a.Credentials = creds
	return &a, nil
}

func (db *DB) credentials(ctx context.Context, accountID string) ([]model.ProviderCredential, error) {
	query, args, err := psql.Select("provider", "provider_id", "linked_at").
		From("account_credentials").
		Where(sq.Eq{"account_id": accountID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: building credentials query: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, db.classify("list credentials", err)
	}
	defer rows.Close()

	var out []model.ProviderCredential
	for rows.Next() {
		var (
			c        model.ProviderCredential
			provider string
		)
		if err := rows.Scan(&provider, &c.ProviderID, &c.LinkedAt); err != nil {
			return nil, fmt.Errorf("postgres: scanning credential: %w", err)
		}
		c.Provider = model.Provider(provider)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, db.classify("iterate credentials", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
