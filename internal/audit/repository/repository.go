package repository

import (
	"context"

	"loginguard/internal/audit/domain"
)

// Repository is the append-only audit store. The core never reads events back.
type Repository interface {
	Append(ctx context.Context, e *domain.AuditEvent) error
}
