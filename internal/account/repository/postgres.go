package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"loginguard/internal/account/domain"
	"loginguard/internal/db"
)

const accountColumns = `id, identifier, credential_hash, failed_attempts, lockout_until,
	current_session_token, last_password_changed_at, version, created_at`

// PostgresRepository persists accounts in the accounts table.
type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns an account repository over conn (a *sql.DB or *sql.Tx).
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// GetByID returns the account for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// GetByIdentifier returns the account whose identifier matches case-insensitively, or nil.
func (r *PostgresRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE lower(identifier) = $1`,
		domain.NormalizeIdentifier(identifier))
	return scanAccount(row)
}

// GetForUpdate returns the account and holds a row lock for the surrounding transaction.
func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	return scanAccount(row)
}

// Create inserts a new account. The account must have ID set; Version starts at 1.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.Version = 1
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, identifier, credential_hash, failed_attempts, lockout_until,
			current_session_token, last_password_changed_at, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.Identifier, a.CredentialHash, a.FailedAttempts, nullTime(a.LockoutUntil),
		a.CurrentSessionToken, nullTime(a.LastPasswordChangedAt), a.Version, a.CreatedAt)
	return err
}

// Save updates the account if its version has not moved since it was loaded.
func (r *PostgresRepository) Save(ctx context.Context, a *domain.Account) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET credential_hash = $3,
			failed_attempts = $4,
			lockout_until = $5,
			current_session_token = $6,
			last_password_changed_at = $7,
			version = version + 1
		WHERE id = $1 AND version = $2`,
		a.ID, a.Version, a.CredentialHash, a.FailedAttempts, nullTime(a.LockoutUntil),
		a.CurrentSessionToken, nullTime(a.LastPasswordChangedAt))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrVersionConflict
	}
	a.Version++
	return nil
}

func scanAccount(row *sql.Row) (*domain.Account, error) {
	var (
		a             domain.Account
		lockoutUntil  sql.NullTime
		lastChangedAt sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Identifier, &a.CredentialHash, &a.FailedAttempts, &lockoutUntil,
		&a.CurrentSessionToken, &lastChangedAt, &a.Version, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.LockoutUntil = timePtr(lockoutUntil)
	a.LastPasswordChangedAt = timePtr(lastChangedAt)
	return &a, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
