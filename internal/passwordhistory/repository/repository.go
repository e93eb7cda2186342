package repository

import (
	"context"

	"loginguard/internal/passwordhistory/domain"
)

// Repository defines persistence for password history entries.
type Repository interface {
	Insert(ctx context.Context, e *domain.Entry) error
	// ListRecentByAccount returns up to n entries newest first; n <= 0 returns all.
	ListRecentByAccount(ctx context.Context, accountID string, n int) ([]*domain.Entry, error)
	DeleteMany(ctx context.Context, ids []string) error
}
