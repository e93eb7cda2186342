// Package store groups the account-state repositories behind one transactional boundary.
package store

import (
	"context"
	"database/sql"

	accountrepo "loginguard/internal/account/repository"
	auditrepo "loginguard/internal/audit/repository"
	"loginguard/internal/db"
	historyrepo "loginguard/internal/passwordhistory/repository"
	resettokenrepo "loginguard/internal/resettoken/repository"
)

// Repos is a set of repositories bound to the same connection or transaction.
type Repos struct {
	Accounts    accountrepo.Repository
	History     historyrepo.Repository
	ResetTokens resettokenrepo.Repository
	Audit       auditrepo.Repository
}

// Store exposes repositories and runs multi-repository work atomically.
type Store interface {
	Repos() Repos
	// WithTx runs fn with repositories bound to one transaction; fn's error rolls it back.
	WithTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}

// Postgres is the production Store over pgx/database/sql.
type Postgres struct {
	conn *sql.DB
}

// NewPostgres returns a Store over conn.
func NewPostgres(conn *sql.DB) *Postgres {
	return &Postgres{conn: conn}
}

// Repos returns repositories bound to the pool.
func (p *Postgres) Repos() Repos {
	return reposFor(p.conn)
}

// WithTx runs fn in a read-committed transaction. Per-account serialisation inside fn comes from
// Accounts.GetForUpdate row locks.
func (p *Postgres) WithTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	return db.WithTx(ctx, p.conn, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx db.DBTX) error {
		return fn(ctx, reposFor(tx))
	})
}

func reposFor(conn db.DBTX) Repos {
	return Repos{
		Accounts:    accountrepo.NewPostgresRepository(conn),
		History:     historyrepo.NewPostgresRepository(conn),
		ResetTokens: resettokenrepo.NewPostgresRepository(conn),
		Audit:       auditrepo.NewPostgresRepository(conn),
	}
}
