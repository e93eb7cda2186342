package domain

import "time"

// ResetToken is a single-use password reset grant. Only the SHA-256 of the raw token is stored.
type ResetToken struct {
	TokenHash string
	AccountID string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Usable reports whether the token is unused and unexpired at now.
func (t *ResetToken) Usable(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}
