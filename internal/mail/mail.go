// Package mail delivers password reset links: through an HTTP relay, or to the log in development.
package mail

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"loginguard/internal/logging"
)

// LogMailer writes reset links to the structured log instead of sending email. It stands in for
// a real delivery provider in development; the link carries the raw token, so never enable it in
// production.
type LogMailer struct {
	baseURL string
	log     *slog.Logger
}

// NewLogMailer returns a LogMailer building links under baseURL (e.g. "http://localhost:8080").
func NewLogMailer(baseURL string, log *slog.Logger) *LogMailer {
	return &LogMailer{baseURL: baseURL, log: logging.OrDiscard(log)}
}

func (m *LogMailer) SendPasswordReset(ctx context.Context, identifier, token string, expiresAt time.Time) error {
	m.log.InfoContext(ctx, "password reset link",
		"identifier", identifier,
		"link", ResetLink(m.baseURL, identifier, token),
		"expires_at", expiresAt.UTC().Format(time.RFC3339))
	return nil
}

// ResetLink builds the reset URL the user follows.
func ResetLink(baseURL, identifier, token string) string {
	q := url.Values{}
	q.Set("identifier", identifier)
	q.Set("token", token)
	return baseURL + "/password/reset?" + q.Encode()
}
