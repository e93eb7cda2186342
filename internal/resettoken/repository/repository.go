package repository

import (
	"context"
	"time"

	"loginguard/internal/resettoken/domain"
)

// Repository defines persistence for password reset tokens.
type Repository interface {
	Create(ctx context.Context, t *domain.ResetToken) error
	// GetByHash returns the token with the given hash, or nil if none exists.
	GetByHash(ctx context.Context, tokenHash string) (*domain.ResetToken, error)
	// MarkUsed consumes the token. Returns false when it was already used.
	MarkUsed(ctx context.Context, tokenHash string, at time.Time) (bool, error)
	// RevokeForAccount consumes every outstanding token for the account.
	RevokeForAccount(ctx context.Context, accountID string, at time.Time) error
}
