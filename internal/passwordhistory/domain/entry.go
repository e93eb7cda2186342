package domain

import "time"

// Entry is an immutable record of a credential hash that was active for an account.
type Entry struct {
	ID        string
	AccountID string
	Hash      string
	CreatedAt time.Time
}
