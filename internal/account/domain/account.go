package domain

import (
	"errors"
	"strings"
	"time"
)

// ErrVersionConflict is returned by Save when the stored version no longer matches the
// version the caller loaded. Callers reload and re-decide.
var ErrVersionConflict = errors.New("account: version conflict")

// Account is a login principal and the security state that every flow reads and mutates.
type Account struct {
	ID             string
	Identifier     string
	CredentialHash string
	FailedAttempts int
	LockoutUntil   *time.Time
	// CurrentSessionToken is the single canonical session. Empty means no live session.
	CurrentSessionToken   string
	LastPasswordChangedAt *time.Time
	// Version is the optimistic concurrency stamp; Save bumps it.
	Version   int64
	CreatedAt time.Time
}

// Validate validates the account for persistence. Returns an error describing the first validation failure.
func (a *Account) Validate() error {
	if a.ID == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(a.Identifier) == "" {
		return errors.New("identifier is required")
	}
	if a.CredentialHash == "" {
		return errors.New("credential hash is required")
	}
	if a.FailedAttempts < 0 {
		return errors.New("failed attempts must not be negative")
	}
	return nil
}

// IsLockedOut reports whether LockoutUntil is still in the future at now.
func (a *Account) IsLockedOut(now time.Time) bool {
	return a.LockoutUntil != nil && a.LockoutUntil.After(now)
}

// ClearExpiredLockout resets the failure counter once a lockout has elapsed, so the next
// wrong password starts a fresh count. Returns true if anything changed.
func (a *Account) ClearExpiredLockout(now time.Time) bool {
	if a.LockoutUntil == nil || a.LockoutUntil.After(now) {
		return false
	}
	a.LockoutUntil = nil
	a.FailedAttempts = 0
	return true
}

// RegisterFailure increments the failure counter and locks the account once it reaches
// maxAttempts. Returns true when this failure caused the lockout.
func (a *Account) RegisterFailure(now time.Time, maxAttempts int, lockout time.Duration) bool {
	a.FailedAttempts++
	if a.FailedAttempts >= maxAttempts {
		until := now.Add(lockout)
		a.LockoutUntil = &until
		return true
	}
	return false
}

// RegisterSuccess clears failure state and binds the new canonical session.
func (a *Account) RegisterSuccess(sessionToken string) {
	a.FailedAttempts = 0
	a.LockoutUntil = nil
	a.CurrentSessionToken = sessionToken
}

// AttemptsRemaining is max(0, maxAttempts - FailedAttempts).
func (a *Account) AttemptsRemaining(maxAttempts int) int {
	return max(0, maxAttempts-a.FailedAttempts)
}

// NormalizeIdentifier lowercases and trims a login identifier for lookup.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
