package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"loginguard/internal/db"
)

// Postgres stores sessions in the server_sessions table so every instance sees the same binding.
type Postgres struct {
	db db.DBTX
}

// NewPostgres returns a Postgres-backed Store.
func NewPostgres(conn db.DBTX) *Postgres {
	return &Postgres{db: conn}
}

func (p *Postgres) Set(ctx context.Context, key, token string, idle time.Duration) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO server_sessions (session_key, token, idle_timeout, last_seen_at)
		VALUES ($1, $2, make_interval(secs => $3), now())
		ON CONFLICT (session_key) DO UPDATE
		SET token = EXCLUDED.token, idle_timeout = EXCLUDED.idle_timeout, last_seen_at = EXCLUDED.last_seen_at`,
		key, token, idle.Seconds())
	return err
}

// Get slides last_seen_at and returns the token in one statement; expired rows do not match.
func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	var token string
	err := p.db.QueryRowContext(ctx, `
		UPDATE server_sessions SET last_seen_at = now()
		WHERE session_key = $1 AND last_seen_at + idle_timeout > now()
		RETURNING token`, key).Scan(&token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return token, true, nil
}

func (p *Postgres) Clear(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM server_sessions WHERE session_key = $1`, key)
	return err
}

// DeleteExpired removes rows past their idle timeout. Returns the number removed.
func (p *Postgres) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM server_sessions WHERE last_seen_at + idle_timeout <= now()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
