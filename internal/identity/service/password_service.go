package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	accountdomain "loginguard/internal/account/domain"
	"loginguard/internal/audit"
	"loginguard/internal/identity/domain"
	"loginguard/internal/logging"
	"loginguard/internal/passwordpolicy"
	resetdomain "loginguard/internal/resettoken/domain"
	"loginguard/internal/security"
	"loginguard/internal/session/guard"
	"loginguard/internal/store"
)

// errTokenConsumed aborts a reset transaction whose token was used concurrently.
var errTokenConsumed = errors.New("reset token already consumed")

// Mailer delivers password reset links. Implementations must not log the raw token.
type Mailer interface {
	SendPasswordReset(ctx context.Context, identifier, token string, expiresAt time.Time) error
}

// ChangeInput is a signed-in password change.
type ChangeInput struct {
	AccountID     string
	Current       string
	New           string
	Confirm       string
	SourceAddress string
}

// ResetInput completes a forgotten-password reset.
type ResetInput struct {
	Identifier    string
	Token         string
	New           string
	Confirm       string
	SourceAddress string
}

// PasswordStatus summarises lifecycle state for the signed-in account.
type PasswordStatus struct {
	MustChange       bool
	CanChange        bool
	MinutesRemaining int
	LastChangedAt    *time.Time
}

// PasswordService runs the change and reset flows on top of the policy engine.
type PasswordService struct {
	store    store.Store
	hasher   *security.Hasher
	policy   *passwordpolicy.Engine
	guard    *guard.Guard
	mailer   Mailer
	audit    audit.Recorder
	log      *slog.Logger
	resetTTL time.Duration

	now      func() time.Time
	newToken func() (string, error)
}

// NewPasswordService returns a PasswordService. A zero resetTTL means 24h.
func NewPasswordService(
	st store.Store,
	hasher *security.Hasher,
	policy *passwordpolicy.Engine,
	g *guard.Guard,
	mailer Mailer,
	rec audit.Recorder,
	log *slog.Logger,
	resetTTL time.Duration,
) *PasswordService {
	if resetTTL <= 0 {
		resetTTL = 24 * time.Hour
	}
	return &PasswordService{
		store:    st,
		hasher:   hasher,
		policy:   policy,
		guard:    g,
		mailer:   mailer,
		audit:    rec,
		log:      logging.OrDiscard(log),
		resetTTL: resetTTL,
		now:      time.Now,
		newToken: security.NewOpaqueToken,
	}
}

// ChangePassword replaces the signed-in account's password. The same-password check runs before
// any hashing; the minimum age is waived while the password is expired. Minimum age, the verified
// credential and reuse are checked again under the account row lock when the change commits.
func (s *PasswordService) ChangePassword(ctx context.Context, in ChangeInput) (domain.ChangeResult, error) {
	if in.Current == "" || in.New == "" || in.Confirm == "" {
		s.audit.Record(ctx, in.AccountID, audit.ActionChangePasswordValidation, in.SourceAddress, "missing fields")
		return domain.ChangeFailure(domain.ReasonMissingCredentials), nil
	}
	if in.Current == in.New {
		s.audit.Record(ctx, in.AccountID, audit.ActionChangePasswordSame, in.SourceAddress, "")
		return domain.ChangeFailure(domain.ReasonSamePassword), nil
	}
	if in.New != in.Confirm {
		s.audit.Record(ctx, in.AccountID, audit.ActionChangePasswordValidation, in.SourceAddress, "confirmation does not match")
		return domain.ChangeFailure(domain.ReasonPasswordMismatch), nil
	}
	if err := passwordpolicy.CheckStrength(in.New); err != nil {
		s.audit.Record(ctx, in.AccountID, audit.ActionChangePasswordValidation, in.SourceAddress, err.Error())
		res := domain.ChangeFailure(domain.ReasonWeakPassword)
		res.Detail = err.Error()
		return res, nil
	}

	a, err := s.store.Repos().Accounts.GetByID(ctx, in.AccountID)
	if err != nil {
		return domain.ChangeResult{}, fmt.Errorf("load account: %w", err)
	}
	if a == nil {
		return domain.ChangeFailure(domain.ReasonUnknownAccount), nil
	}

	now := s.now()
	if allowed, minutes := s.policy.CanChange(a, now); !allowed && !s.policy.MustChange(a, now) {
		s.audit.Record(ctx, a.ID, audit.ActionChangePasswordMinAge, in.SourceAddress,
			"minutes remaining: "+strconv.Itoa(minutes))
		res := domain.ChangeFailure(domain.ReasonMinAgeNotMet)
		res.MinutesRemaining = minutes
		return res, nil
	}

	match, err := s.hasher.Matches(a.CredentialHash, []byte(in.Current))
	if err != nil {
		return domain.ChangeResult{}, fmt.Errorf("compare credential: %w", err)
	}
	if !match {
		s.audit.Record(ctx, a.ID, audit.ActionChangePasswordIncorrectPassword, in.SourceAddress, "")
		return domain.ChangeFailure(domain.ReasonInvalidCredentials), nil
	}

	hash, err := s.hasher.Hash([]byte(in.New))
	if err != nil {
		return domain.ChangeResult{}, fmt.Errorf("hash password: %w", err)
	}
	err = store.RetryOnConflict(ctx, func(int) error {
		return s.policy.RecordCheckedChange(ctx, passwordpolicy.Change{
			AccountID:    a.ID,
			PreviousHash: a.CredentialHash,
			Candidate:    in.New,
			NewHash:      hash,
		})
	})
	var minAge *passwordpolicy.MinAgeError
	switch {
	case errors.As(err, &minAge):
		s.audit.Record(ctx, a.ID, audit.ActionChangePasswordMinAge, in.SourceAddress,
			"minutes remaining: "+strconv.Itoa(minAge.MinutesRemaining))
		res := domain.ChangeFailure(domain.ReasonMinAgeNotMet)
		res.MinutesRemaining = minAge.MinutesRemaining
		return res, nil
	case errors.Is(err, passwordpolicy.ErrPasswordReused):
		s.audit.Record(ctx, a.ID, audit.ActionChangePasswordReused, in.SourceAddress, "")
		return domain.ChangeFailure(domain.ReasonPasswordReused), nil
	case errors.Is(err, passwordpolicy.ErrCredentialChanged):
		s.audit.Record(ctx, a.ID, audit.ActionChangePasswordIncorrectPassword, in.SourceAddress, "changed concurrently")
		return domain.ChangeFailure(domain.ReasonInvalidCredentials), nil
	case err != nil:
		return domain.ChangeResult{}, fmt.Errorf("record password change: %w", err)
	}
	s.audit.Record(ctx, a.ID, audit.ActionChangePasswordSuccess, in.SourceAddress, "")
	return domain.ChangeResult{Outcome: domain.OutcomeSuccess}, nil
}

// Status reports whether the account must or may change its password now.
func (s *PasswordService) Status(ctx context.Context, accountID string) (PasswordStatus, error) {
	a, err := s.store.Repos().Accounts.GetByID(ctx, accountID)
	if err != nil {
		return PasswordStatus{}, fmt.Errorf("load account: %w", err)
	}
	if a == nil {
		return PasswordStatus{}, passwordpolicy.ErrAccountNotFound
	}
	now := s.now()
	allowed, minutes := s.policy.CanChange(a, now)
	return PasswordStatus{
		MustChange:       s.policy.MustChange(a, now),
		CanChange:        allowed,
		MinutesRemaining: minutes,
		LastChangedAt:    a.LastPasswordChangedAt,
	}, nil
}

// RequestReset issues a reset token for identifier and hands it to the mailer. Unknown
// identifiers and delivery failures are indistinguishable to the caller.
func (s *PasswordService) RequestReset(ctx context.Context, identifier, sourceAddress string) error {
	identifier = accountdomain.NormalizeIdentifier(identifier)
	if identifier == "" {
		return nil
	}
	a, err := s.store.Repos().Accounts.GetByIdentifier(ctx, identifier)
	if err != nil {
		return fmt.Errorf("lookup account: %w", err)
	}
	if a == nil {
		s.audit.Record(ctx, identifier, audit.ActionPasswordResetRequestedUnknown, sourceAddress, "")
		return nil
	}

	raw, err := s.newToken()
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	now := s.now().UTC()
	tok := &resetdomain.ResetToken{
		TokenHash: security.HashToken(raw),
		AccountID: a.ID,
		ExpiresAt: now.Add(s.resetTTL),
		CreatedAt: now,
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, r store.Repos) error {
		if err := r.ResetTokens.RevokeForAccount(ctx, a.ID, now); err != nil {
			return err
		}
		return r.ResetTokens.Create(ctx, tok)
	})
	if err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	if err := s.mailer.SendPasswordReset(ctx, a.Identifier, raw, tok.ExpiresAt); err != nil {
		s.log.ErrorContext(ctx, "password reset delivery failed", "account_id", a.ID, "error", err)
		s.audit.Record(ctx, a.ID, audit.ActionPasswordResetRequested, sourceAddress, "delivery failed")
		return nil
	}
	s.audit.Record(ctx, a.ID, audit.ActionPasswordResetRequested, sourceAddress, "")
	return nil
}

// ResetPassword sets a new password using a reset token. The token is validated before the
// reuse check so history is never probed without a valid grant. On success the token is consumed
// and the account's live session is ended in the same transaction.
func (s *PasswordService) ResetPassword(ctx context.Context, in ResetInput) (domain.ResetResult, error) {
	identifier := accountdomain.NormalizeIdentifier(in.Identifier)
	if identifier == "" || in.New == "" || in.Confirm == "" {
		s.audit.Record(ctx, identifier, audit.ActionPasswordResetValidation, in.SourceAddress, "missing fields")
		return domain.ResetFailure(domain.ReasonMissingCredentials), nil
	}

	a, err := s.store.Repos().Accounts.GetByIdentifier(ctx, identifier)
	if err != nil {
		return domain.ResetResult{}, fmt.Errorf("lookup account: %w", err)
	}
	if a == nil {
		s.audit.Record(ctx, identifier, audit.ActionPasswordResetUserNotFound, in.SourceAddress, "")
		return domain.ResetFailure(domain.ReasonInvalidResetToken), nil
	}

	if in.New != in.Confirm {
		s.audit.Record(ctx, a.ID, audit.ActionPasswordResetValidation, in.SourceAddress, "confirmation does not match")
		return domain.ResetFailure(domain.ReasonPasswordMismatch), nil
	}
	if err := passwordpolicy.CheckStrength(in.New); err != nil {
		s.audit.Record(ctx, a.ID, audit.ActionPasswordResetValidation, in.SourceAddress, err.Error())
		res := domain.ResetFailure(domain.ReasonWeakPassword)
		res.Detail = err.Error()
		return res, nil
	}

	tokenHash := security.HashToken(in.Token)
	ok, err := s.tokenUsable(ctx, a.ID, in.Token, tokenHash)
	if err != nil {
		return domain.ResetResult{}, err
	}
	if !ok {
		s.audit.Record(ctx, a.ID, audit.ActionPasswordResetInvalidToken, in.SourceAddress, "")
		return domain.ResetFailure(domain.ReasonInvalidResetToken), nil
	}

	reused, err := s.policy.IsReused(ctx, a.ID, in.New)
	if err != nil {
		return domain.ResetResult{}, err
	}
	if reused {
		s.audit.Record(ctx, a.ID, audit.ActionPasswordResetReused, in.SourceAddress, "")
		return domain.ResetFailure(domain.ReasonPasswordReused), nil
	}

	hash, err := s.hasher.Hash([]byte(in.New))
	if err != nil {
		return domain.ResetResult{}, fmt.Errorf("hash password: %w", err)
	}
	err = store.RetryOnConflict(ctx, func(int) error {
		return s.store.WithTx(ctx, func(ctx context.Context, r store.Repos) error {
			now := s.now().UTC()
			used, err := r.ResetTokens.MarkUsed(ctx, tokenHash, now)
			if err != nil {
				return err
			}
			if !used {
				return errTokenConsumed
			}
			if err := s.policy.RecordChangeIn(ctx, r, a.ID, hash); err != nil {
				return err
			}
			if err := r.ResetTokens.RevokeForAccount(ctx, a.ID, now); err != nil {
				return err
			}
			locked, err := r.Accounts.GetForUpdate(ctx, a.ID)
			if err != nil {
				return err
			}
			if locked == nil {
				return passwordpolicy.ErrAccountNotFound
			}
			return guard.InvalidateIn(ctx, r, locked)
		})
	})
	if errors.Is(err, errTokenConsumed) {
		s.audit.Record(ctx, a.ID, audit.ActionPasswordResetInvalidToken, in.SourceAddress, "consumed concurrently")
		return domain.ResetFailure(domain.ReasonInvalidResetToken), nil
	}
	if err != nil {
		return domain.ResetResult{}, fmt.Errorf("apply password reset: %w", err)
	}
	s.audit.Record(ctx, a.ID, audit.ActionPasswordResetSuccess, in.SourceAddress, "")
	return domain.ResetResult{Outcome: domain.OutcomeSuccess}, nil
}

func (s *PasswordService) tokenUsable(ctx context.Context, accountID, raw, tokenHash string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	t, err := s.store.Repos().ResetTokens.GetByHash(ctx, tokenHash)
	if err != nil {
		return false, fmt.Errorf("load reset token: %w", err)
	}
	if t == nil || t.AccountID != accountID {
		return false, nil
	}
	return security.TokenHashEqual(raw, t.TokenHash) && t.Usable(s.now()), nil
}
