package passwordpolicy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	accountdomain "loginguard/internal/account/domain"
	historydomain "loginguard/internal/passwordhistory/domain"
	"loginguard/internal/security"
	"loginguard/internal/store"
)

var (
	// ErrAccountNotFound is returned when the account to evaluate or update does not exist.
	ErrAccountNotFound = errors.New("passwordpolicy: account not found")
	// ErrPasswordReused is returned by RecordCheckedChange when the candidate is in recent history.
	ErrPasswordReused = errors.New("passwordpolicy: password was used recently")
	// ErrCredentialChanged is returned by RecordCheckedChange when the credential is no longer
	// the one the caller verified.
	ErrCredentialChanged = errors.New("passwordpolicy: credential changed concurrently")
)

// MinAgeError is returned by RecordCheckedChange when the minimum age has not elapsed.
type MinAgeError struct {
	MinutesRemaining int
}

func (e *MinAgeError) Error() string {
	return fmt.Sprintf("passwordpolicy: minimum password age not met, %d minutes remaining", e.MinutesRemaining)
}

// Change is a user-initiated credential change, re-validated under the account row lock.
type Change struct {
	AccountID string
	// PreviousHash is the credential the caller verified the current password against.
	// Empty skips the check.
	PreviousHash string
	// Candidate is the new password in plaintext for the reuse check. Empty skips the check.
	Candidate string
	NewHash   string
}

// Engine evaluates lifecycle rules against account state and commits credential changes.
type Engine struct {
	policy Policy
	store  store.Store
	hasher *security.Hasher
	now    func() time.Time
}

// NewEngine returns an Engine. Zero or negative policy values fall back to DefaultPolicy.
func NewEngine(p Policy, st store.Store, hasher *security.Hasher) *Engine {
	return &Engine{policy: p.normalized(), store: st, hasher: hasher, now: time.Now}
}

// WithClock replaces the time source used by the loading helpers and RecordChange.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Policy returns the effective policy.
func (e *Engine) Policy() Policy { return e.policy }

// IsReused reports whether candidate matches any of the HistoryCount most recent hashes.
func (e *Engine) IsReused(ctx context.Context, accountID, candidate string) (bool, error) {
	return e.isReused(ctx, e.store.Repos(), accountID, candidate)
}

func (e *Engine) isReused(ctx context.Context, r store.Repos, accountID, candidate string) (bool, error) {
	entries, err := r.History.ListRecentByAccount(ctx, accountID, e.policy.HistoryCount)
	if err != nil {
		return false, fmt.Errorf("list password history: %w", err)
	}
	for _, h := range entries {
		ok, err := e.hasher.Matches(h.Hash, []byte(candidate))
		if err != nil {
			return false, fmt.Errorf("compare password history %s: %w", h.ID, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// CanChange reports whether the minimum age has elapsed at now. When it has not,
// minutesRemaining is the ceiling of the time left and always at least 1.
func (e *Engine) CanChange(a *accountdomain.Account, now time.Time) (allowed bool, minutesRemaining int) {
	if a.LastPasswordChangedAt == nil || e.policy.MinAge <= 0 {
		return true, 0
	}
	elapsed := now.Sub(*a.LastPasswordChangedAt)
	if elapsed >= e.policy.MinAge {
		return true, 0
	}
	remaining := int(math.Ceil((e.policy.MinAge - elapsed).Minutes()))
	return false, max(1, remaining)
}

// MustChange reports whether the password is past its maximum age at now. Accounts that never
// changed their password are not forced.
func (e *Engine) MustChange(a *accountdomain.Account, now time.Time) bool {
	if a.LastPasswordChangedAt == nil {
		return false
	}
	elapsed := now.Sub(*a.LastPasswordChangedAt)
	if e.policy.MaxAgeMinutes > 0 {
		return int(elapsed/time.Minute) > e.policy.MaxAgeMinutes
	}
	return elapsed.Hours()/24 > float64(e.policy.MaxAgeDays)
}

// CanChangePassword loads the account and evaluates CanChange.
func (e *Engine) CanChangePassword(ctx context.Context, accountID string) (bool, int, error) {
	a, err := e.load(ctx, accountID)
	if err != nil {
		return false, 0, err
	}
	allowed, remaining := e.CanChange(a, e.now())
	return allowed, remaining, nil
}

// MustChangePassword loads the account and evaluates MustChange.
func (e *Engine) MustChangePassword(ctx context.Context, accountID string) (bool, error) {
	a, err := e.load(ctx, accountID)
	if err != nil {
		return false, err
	}
	return e.MustChange(a, e.now()), nil
}

// RecordChange commits newHash as the account's credential in one transaction: the account row
// is locked, the hash is appended to history, history beyond HistoryCount is pruned, and
// CredentialHash and LastPasswordChangedAt are updated.
func (e *Engine) RecordChange(ctx context.Context, accountID, newHash string) error {
	return e.store.WithTx(ctx, func(ctx context.Context, r store.Repos) error {
		return e.RecordChangeIn(ctx, r, accountID, newHash)
	})
}

// RecordChangeIn performs RecordChange inside a transaction the caller already opened, so the
// change can commit together with other writes (e.g. consuming a reset token).
func (e *Engine) RecordChangeIn(ctx context.Context, r store.Repos, accountID, newHash string) error {
	a, err := lockAccount(ctx, r, accountID)
	if err != nil {
		return err
	}
	return e.commit(ctx, r, a, newHash)
}

// RecordCheckedChange locks the account, re-evaluates the minimum age (waived while the password
// is expired), the verified credential and reuse against the locked state, then commits the
// change like RecordChange.
func (e *Engine) RecordCheckedChange(ctx context.Context, c Change) error {
	return e.store.WithTx(ctx, func(ctx context.Context, r store.Repos) error {
		a, err := lockAccount(ctx, r, c.AccountID)
		if err != nil {
			return err
		}
		now := e.now()
		if allowed, minutes := e.CanChange(a, now); !allowed && !e.MustChange(a, now) {
			return &MinAgeError{MinutesRemaining: minutes}
		}
		if c.PreviousHash != "" && a.CredentialHash != c.PreviousHash {
			return ErrCredentialChanged
		}
		if c.Candidate != "" {
			reused, err := e.isReused(ctx, r, c.AccountID, c.Candidate)
			if err != nil {
				return err
			}
			if reused {
				return ErrPasswordReused
			}
		}
		return e.commit(ctx, r, a, c.NewHash)
	})
}

func lockAccount(ctx context.Context, r store.Repos, accountID string) (*accountdomain.Account, error) {
	a, err := r.Accounts.GetForUpdate(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}
	if a == nil {
		return nil, ErrAccountNotFound
	}
	return a, nil
}

func (e *Engine) commit(ctx context.Context, r store.Repos, a *accountdomain.Account, newHash string) error {
	accountID := a.ID
	now := e.now().UTC()

	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	entry := &historydomain.Entry{ID: id.String(), AccountID: accountID, Hash: newHash, CreatedAt: now}
	if err := r.History.Insert(ctx, entry); err != nil {
		return fmt.Errorf("insert password history: %w", err)
	}

	all, err := r.History.ListRecentByAccount(ctx, accountID, 0)
	if err != nil {
		return fmt.Errorf("list password history: %w", err)
	}
	if len(all) > e.policy.HistoryCount {
		stale := make([]string, 0, len(all)-e.policy.HistoryCount)
		for _, h := range all[e.policy.HistoryCount:] {
			stale = append(stale, h.ID)
		}
		if err := r.History.DeleteMany(ctx, stale); err != nil {
			return fmt.Errorf("prune password history: %w", err)
		}
	}

	a.CredentialHash = newHash
	a.LastPasswordChangedAt = &now
	if err := r.Accounts.Save(ctx, a); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (e *Engine) load(ctx context.Context, accountID string) (*accountdomain.Account, error) {
	a, err := e.store.Repos().Accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if a == nil {
		return nil, ErrAccountNotFound
	}
	return a, nil
}
