package repository

import (
	"context"

	"loginguard/internal/account/domain"
)

// Repository defines persistence for accounts. Lookups return (nil, nil) when no row exists.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByIdentifier(ctx context.Context, identifier string) (*domain.Account, error)
	// GetForUpdate loads the account and, inside a transaction, locks its row until commit.
	GetForUpdate(ctx context.Context, id string) (*domain.Account, error)
	Create(ctx context.Context, a *domain.Account) error
	// Save writes the mutable security state when the stored version equals a.Version,
	// then advances a.Version. A moved version yields domain.ErrVersionConflict.
	Save(ctx context.Context, a *domain.Account) error
}
