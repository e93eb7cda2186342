package repository

import (
	"context"
	"database/sql"

	"loginguard/internal/audit/domain"
	"loginguard/internal/db"
)

// PostgresRepository appends audit events to the audit_events table.
type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns an audit repository over conn.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// Append inserts e. Rows are never updated or deleted.
func (r *PostgresRepository) Append(ctx context.Context, e *domain.AuditEvent) error {
	accountID := sql.NullString{String: e.AccountID, Valid: e.AccountID != ""}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, account_id, action, source_address, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, accountID, e.Action, e.SourceAddress, e.Detail, e.Timestamp.UTC())
	return err
}
