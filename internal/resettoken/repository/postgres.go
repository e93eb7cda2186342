package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"loginguard/internal/db"
	"loginguard/internal/resettoken/domain"
)

// PostgresRepository persists reset tokens in password_reset_tokens.
type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a reset token repository over conn.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// Create inserts t.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.ResetToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO password_reset_tokens (token_hash, account_id, expires_at, used_at, created_at)
		VALUES ($1, $2, $3, NULL, $4)`,
		t.TokenHash, t.AccountID, t.ExpiresAt.UTC(), t.CreatedAt.UTC())
	return err
}

// GetByHash returns the token for tokenHash, or nil if not found.
func (r *PostgresRepository) GetByHash(ctx context.Context, tokenHash string) (*domain.ResetToken, error) {
	var (
		t      domain.ResetToken
		usedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT token_hash, account_id, expires_at, used_at, created_at
		FROM password_reset_tokens WHERE token_hash = $1`, tokenHash).
		Scan(&t.TokenHash, &t.AccountID, &t.ExpiresAt, &usedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if usedAt.Valid {
		u := usedAt.Time
		t.UsedAt = &u
	}
	return &t, nil
}

// MarkUsed sets used_at if it is still NULL.
func (r *PostgresRepository) MarkUsed(ctx context.Context, tokenHash string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE password_reset_tokens SET used_at = $2 WHERE token_hash = $1 AND used_at IS NULL`,
		tokenHash, at.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RevokeForAccount marks all unused tokens of accountID as used.
func (r *PostgresRepository) RevokeForAccount(ctx context.Context, accountID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE password_reset_tokens SET used_at = $2 WHERE account_id = $1 AND used_at IS NULL`,
		accountID, at.UTC())
	return err
}
