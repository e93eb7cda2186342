package repository

import (
	"context"

	"loginguard/internal/db"
	"loginguard/internal/passwordhistory/domain"
)

// PostgresRepository persists history entries in the password_history table.
type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a history repository over conn (a *sql.DB or *sql.Tx).
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// Insert appends one entry.
func (r *PostgresRepository) Insert(ctx context.Context, e *domain.Entry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO password_history (id, account_id, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		e.ID, e.AccountID, e.Hash, e.CreatedAt.UTC())
	return err
}

// ListRecentByAccount returns the newest n entries for accountID (all when n <= 0).
// Ties on created_at are broken by id so pruning is deterministic.
func (r *PostgresRepository) ListRecentByAccount(ctx context.Context, accountID string, n int) ([]*domain.Entry, error) {
	query := `SELECT id, account_id, password_hash, created_at FROM password_history
		WHERE account_id = $1 ORDER BY created_at DESC, id DESC`
	args := []any{accountID}
	if n > 0 {
		query += ` LIMIT $2`
		args = append(args, n)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Entry
	for rows.Next() {
		var e domain.Entry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Hash, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// DeleteMany removes the entries with the given ids. An empty list is a no-op.
func (r *PostgresRepository) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM password_history WHERE id = ANY($1)`, ids)
	return err
}
