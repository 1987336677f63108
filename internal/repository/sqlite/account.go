package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rs/xid"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/model"
	"github.com/sakif/identity-service/internal/repository"
)

// compile-time check that *DB implements repository.AccountRepository
var _ repository.AccountRepository = (*DB)(nil)

const accountColumns = `a.id, a.username, a.fullname, a.email, a.password_hash, a.avatar_url, a.is_admin, a.created_at`

// FindByCredential returns the account holding (provider, providerID).
func (db *DB) FindByCredential(ctx context.Context, provider model.Provider, providerID string) (*model.Account, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+`
		 FROM accounts a
		 JOIN account_credentials c ON c.account_id = a.id
		 WHERE c.provider = ? AND c.provider_id = ?`,
		string(provider), providerID,
	)
	return db.loadAccount(ctx, row, "account", string(provider)+":"+providerID)
}

// FindByEmail looks an account up by its normalized email.
func (db *DB) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	email = model.NormalizeEmail(email)
	if email == "" {
		return nil, apperror.NotFound("account", "<no email>")
	}
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts a WHERE a.email = ?`, email)
	return db.loadAccount(ctx, row, "account", email)
}

// FindByUsername looks an account up by its normalized username.
func (db *DB) FindByUsername(ctx context.Context, username string) (*model.Account, error) {
	username = model.NormalizeUsername(username)
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts a WHERE a.username = ?`, username)
	return db.loadAccount(ctx, row, "account", username)
}

// FindByID retrieves an account by its internal ID.
func (db *DB) FindByID(ctx context.Context, id string) (*model.Account, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts a WHERE a.id = ?`, id)
	return db.loadAccount(ctx, row, "account", id)
}

// Create inserts the account and its credentials in one transaction. Either
// everything is stored or nothing is.
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
		return nil, readError("beginning create transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (id, username, fullname, email, password_hash, avatar_url, is_admin, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		acct.ID,
		acct.Username,
		acct.Fullname,
		nullString(acct.Email),
		nullString(acct.PasswordHash),
		acct.AvatarURL,
		acct.IsAdmin,
		acct.CreatedAt,
	)
	if err != nil {
		return nil, db.writeError("inserting account "+acct.Username, err)
	}

	for _, c := range draft.Credentials {
		if c.LinkedAt.IsZero() {
			c.LinkedAt = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO account_credentials (account_id, provider, provider_id, linked_at) VALUES (?, ?, ?, ?)`,
			acct.ID, string(c.Provider), c.ProviderID, c.LinkedAt.UTC(),
		); err != nil {
			return nil, db.writeError("inserting credential "+string(c.Provider), err)
		}
		acct.Credentials = append(acct.Credentials, c)
	}

	if err := tx.Commit(); err != nil {
		return nil, db.writeError("committing account "+acct.Username, err)
	}

	return acct, nil
}

// AppendCredential adds a credential to an existing account. Appending a
// credential the account already holds is a no-op; one held by a different
// account is a conflict.
func (db *DB) AppendCredential(ctx context.Context, accountID string, cred model.ProviderCredential) error {
	if !cred.Provider.Valid() || cred.ProviderID == "" {
		return apperror.ValidationFailed("provider", "a valid provider and provider id are required")
	}

	var exists int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE id = ?`, accountID).Scan(&exists)
	if err != nil {
		return readError("checking account "+accountID, err)
	}
	if exists == 0 {
		return apperror.NotFound("account", accountID)
	}

	if cred.LinkedAt.IsZero() {
		cred.LinkedAt = time.Now()
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO account_credentials (account_id, provider, provider_id, linked_at) VALUES (?, ?, ?, ?)`,
		accountID, string(cred.Provider), cred.ProviderID, cred.LinkedAt.UTC(),
	)
	if err == nil {
		return nil
	}
	if constraintField(err) != "credential" {
		return db.writeError("appending credential to "+accountID, err)
	}

	var owner string
	if qerr := db.conn.QueryRowContext(ctx,
		`SELECT account_id FROM account_credentials WHERE provider = ? AND provider_id = ?`,
		string(cred.Provider), cred.ProviderID,
	).Scan(&owner); qerr != nil {
		return readError("reading credential owner", qerr)
	}
	if owner == accountID {
		return nil
	}
	return apperror.FieldConflict("credential")
}

// UpdateFields applies a partial update and returns the stored account.
func (db *DB) UpdateFields(ctx context.Context, accountID string, patch model.AccountPatch) (*model.Account, error) {
	if patch.Empty() {
		return db.FindByID(ctx, accountID)
	}

	var (
		sets []string
		args []any
	)
	if patch.Username != nil {
		u := model.NormalizeUsername(*patch.Username)
		if u == "" {
			return nil, apperror.ValidationFailed("username", "username must not be empty")
		}
		sets = append(sets, "username = ?")
		args = append(args, u)
	}
	if patch.Fullname != nil {
		sets = append(sets, "fullname = ?")
		args = append(args, *patch.Fullname)
	}
	if patch.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, nullString(model.NormalizeEmail(*patch.Email)))
	}
	if patch.AvatarURL != nil {
		sets = append(sets, "avatar_url = ?")
		args = append(args, *patch.AvatarURL)
	}
	if patch.IsAdmin != nil {
		sets = append(sets, "is_admin = ?")
		args = append(args, *patch.IsAdmin)
	}
	args = append(args, accountID)

	res, err := db.conn.ExecContext(ctx,
		`UPDATE accounts SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, db.writeError("updating account "+accountID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, readError("checking rows affected", err)
	}
	if n == 0 {
		return nil, apperror.NotFound("account", accountID)
	}

	return db.FindByID(ctx, accountID)
}

// loadAccount scans one account row and attaches its credentials.
func (db *DB) loadAccount(ctx context.Context, row *sql.Row, resource, key string) (*model.Account, error) {
	var (
		a            model.Account
		email, phash sql.NullString
	)
	err := row.Scan(&a.ID, &a.Username, &a.Fullname, &email, &phash, &a.AvatarURL, &a.IsAdmin, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound(resource, key)
		}
		return nil, readError("reading "+resource+" "+key, err)
	}
	a.Email = email.String
	a.PasswordHash = phash.String

	rows, err := db.conn.QueryContext(ctx,
		`SELECT provider, provider_id, linked_at FROM account_credentials WHERE account_id = ? ORDER BY id`, a.ID)
	if err != nil {
		return nil, readError("listing credentials of "+a.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c        model.ProviderCredential
			provider string
		)
		if err := rows.Scan(&provider, &c.ProviderID, &c.LinkedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning credential: %w", err)
		}
		c.Provider = model.Provider(provider)
		a.Credentials = append(a.Credentials, c)
	}
	if err := rows.Err(); err != nil {
		return nil, readError("iterating credentials", err)
	}

	return &a, nil
}

// writeError maps a failed write to a conflict when a uniqueness constraint
// was hit, and wraps anything else.
func (db *DB) writeError(op string, err error) error {
	if field := constraintField(err); field != "" {
		db.logger.Debug("sqlite: unique constraint violated",
			slog.String("op", op),
			slog.String("field", field),
		)
		return apperror.FieldConflict(field)
	}
	return readError(op, err)
}

// readError reports a lock the busy timeout could not outwait as
// ErrUnavailable, and wraps anything else.
func readError(op string, err error) error {
	var sqliteErr *moderncsqlite.Error
	if errors.As(err, &sqliteErr) && isLockContention(sqliteErr.Code()) {
		return apperror.Unavailable("sqlite: "+op, err)
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}

// isLockContention matches SQLITE_BUSY, SQLITE_LOCKED and their extended codes.
func isLockContention(code int) bool {
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// constraintField returns "username", "email" or "credential" when err is a
// UNIQUE violation on the matching column, and "" otherwise.
func constraintField(err error) string {
	var sqliteErr *moderncsqlite.Error
	if !errors.As(err, &sqliteErr) {
		return ""
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
	default:
		return ""
	}

	msg := sqliteErr.Error()
	switch {
	case strings.Contains(msg, "accounts.username"):
		return "username"
	case strings.Contains(msg, "accounts.email"):
		return "email"
	case strings.Contains(msg, "account_credentials."):
		return "credential"
	case strings.Contains(msg, "accounts.id"):
		return "id"
	}
	return ""
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
