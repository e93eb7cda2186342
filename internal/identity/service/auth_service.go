package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	accountdomain "loginguard/internal/account/domain"
	"loginguard/internal/audit"
	"loginguard/internal/botcheck"
	"loginguard/internal/identity/domain"
	"loginguard/internal/logging"
	"loginguard/internal/security"
	"loginguard/internal/session/guard"
	"loginguard/internal/sessionstore"
	"loginguard/internal/store"
)

// ErrMissingSessionKey is returned when Authenticate is called without a server session key.
var ErrMissingSessionKey = errors.New("session key is required")

// LoginInput is one sign-in attempt.
type LoginInput struct {
	Identifier    string
	Password      string
	BotToken      string
	SourceAddress string
	// SessionKey identifies the caller's server-side session entry (cookie value).
	SessionKey string
}

// LogoutInput identifies the session to end.
type LogoutInput struct {
	AccountID     string
	SessionToken  string
	SessionKey    string
	SourceAddress string
}

// LockoutPolicy controls failed-attempt lockout.
type LockoutPolicy struct {
	MaxFailedAttempts int
	Duration          time.Duration
}

// DefaultLockoutPolicy is three failures, one minute.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxFailedAttempts: 3, Duration: time.Minute}
}

// AuthService verifies credentials, enforces lockout and binds the single canonical session.
type AuthService struct {
	store       store.Store
	hasher      *security.Hasher
	bots        botcheck.Verifier
	sessions    sessionstore.Store
	guard       *guard.Guard
	audit       audit.Recorder
	log         *slog.Logger
	lockout     LockoutPolicy
	idleTimeout time.Duration

	tracer   trace.Tracer
	outcomes metric.Int64Counter
	now      func() time.Time
	newToken func() (string, error)
}

// AuthDeps groups AuthService collaborators.
type AuthDeps struct {
	Store       store.Store
	Hasher      *security.Hasher
	Bots        botcheck.Verifier
	Sessions    sessionstore.Store
	Guard       *guard.Guard
	Audit       audit.Recorder
	Log         *slog.Logger
	Meter       metric.Meter
	Lockout     LockoutPolicy
	IdleTimeout time.Duration
}

// NewAuthService returns an AuthService. Zero lockout values fall back to DefaultLockoutPolicy
// and a zero idle timeout to 60s.
func NewAuthService(d AuthDeps) *AuthService {
	def := DefaultLockoutPolicy()
	if d.Lockout.MaxFailedAttempts <= 0 {
		d.Lockout.MaxFailedAttempts = def.MaxFailedAttempts
	}
	if d.Lockout.Duration <= 0 {
		d.Lockout.Duration = def.Duration
	}
	if d.IdleTimeout <= 0 {
		d.IdleTimeout = 60 * time.Second
	}
	meter := d.Meter
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("loginguard/identity")
	}
	outcomes, err := meter.Int64Counter("login.attempts",
		metric.WithDescription("Login attempts by outcome and reason"))
	if err != nil {
		outcomes, _ = noop.NewMeterProvider().Meter("loginguard/identity").Int64Counter("login.attempts")
	}
	return &AuthService{
		store:       d.Store,
		hasher:      d.Hasher,
		bots:        d.Bots,
		sessions:    d.Sessions,
		guard:       d.Guard,
		audit:       d.Audit,
		log:         logging.OrDiscard(d.Log),
		lockout:     d.Lockout,
		idleTimeout: d.IdleTimeout,
		tracer:      otel.Tracer("loginguard/identity"),
		outcomes:    outcomes,
		now:         time.Now,
		newToken:    security.NewOpaqueToken,
	}
}

// Authenticate runs the bot gate, the lockout check and the password comparison, in that order.
// Rejections are returned as a failed LoginResult; the error is reserved for infrastructure faults.
func (s *AuthService) Authenticate(ctx context.Context, in LoginInput) (domain.LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Authenticate")
	defer span.End()

	res, err := s.authenticate(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authenticate failed")
		return domain.LoginResult{}, err
	}
	span.SetAttributes(attribute.String("login.outcome", string(res.Outcome)), attribute.String("login.reason", string(res.Reason)))
	s.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(res.Outcome)),
		attribute.String("reason", string(res.Reason)),
	))
	return res, nil
}

func (s *AuthService) authenticate(ctx context.Context, in LoginInput) (domain.LoginResult, error) {
	identifier := accountdomain.NormalizeIdentifier(in.Identifier)
	if identifier == "" || in.Password == "" {
		s.log.InfoContext(ctx, "login rejected: missing credentials", "source", in.SourceAddress)
		return domain.LoginFailure(domain.ReasonMissingCredentials), nil
	}
	if in.SessionKey == "" {
		return domain.LoginResult{}, ErrMissingSessionKey
	}

	if ok := s.verifyBot(ctx, identifier, in); !ok {
		return domain.LoginFailure(domain.ReasonBotCheckFailed), nil
	}

	a, err := s.store.Repos().Accounts.GetByIdentifier(ctx, identifier)
	if err != nil {
		return domain.LoginResult{}, fmt.Errorf("lookup account: %w", err)
	}
	if a == nil {
		s.hasher.SimulateCompare([]byte(in.Password))
		s.audit.Record(ctx, identifier, audit.ActionLoginUnknownUser, in.SourceAddress, "")
		return domain.LoginFailure(domain.ReasonUnknownAccount), nil
	}

	var (
		res       domain.LoginResult
		lockedNow bool
		checked   = map[string]bool{}
	)
	err = store.RetryOnConflict(ctx, func(attempt int) error {
		if attempt > 1 {
			fresh, err := s.store.Repos().Accounts.GetByID(ctx, a.ID)
			if err != nil {
				return fmt.Errorf("reload account: %w", err)
			}
			if fresh == nil {
				res = domain.LoginFailure(domain.ReasonUnknownAccount)
				return nil
			}
			a = fresh
		}
		now := s.now().UTC()
		lockedNow = false

		if a.IsLockedOut(now) {
			res = domain.LoginFailure(domain.ReasonLockedOut)
			res.LockoutUntil = a.LockoutUntil
			return nil
		}
		a.ClearExpiredLockout(now)

		match, seen := checked[a.CredentialHash]
		if !seen {
			m, err := s.hasher.Matches(a.CredentialHash, []byte(in.Password))
			if err != nil {
				return fmt.Errorf("compare credential: %w", err)
			}
			match = m
			checked[a.CredentialHash] = m
		}

		if !match {
			lockedNow = a.RegisterFailure(now, s.lockout.MaxFailedAttempts, s.lockout.Duration)
			if err := s.store.Repos().Accounts.Save(ctx, a); err != nil {
				return err
			}
			res = domain.LoginFailure(domain.ReasonInvalidCredentials)
			res.AttemptsRemaining = a.AttemptsRemaining(s.lockout.MaxFailedAttempts)
			if lockedNow {
				res.LockoutUntil = a.LockoutUntil
			}
			return nil
		}

		token, err := s.newToken()
		if err != nil {
			return fmt.Errorf("generate session token: %w", err)
		}
		a.RegisterSuccess(token)
		if err := s.store.Repos().Accounts.Save(ctx, a); err != nil {
			return err
		}
		res = domain.LoginResult{Outcome: domain.OutcomeSuccess, AccountID: a.ID, SessionToken: token}
		return nil
	})
	if err != nil {
		return domain.LoginResult{}, err
	}

	switch {
	case res.Succeeded():
		if err := s.sessions.Set(ctx, in.SessionKey, res.SessionToken, s.idleTimeout); err != nil {
			return domain.LoginResult{}, fmt.Errorf("store server session: %w", err)
		}
		s.audit.Record(ctx, a.ID, audit.ActionLoginSuccess, in.SourceAddress, "")
	case res.Reason == domain.ReasonLockedOut:
		s.audit.Record(ctx, a.ID, audit.ActionLockedOut, in.SourceAddress, "locked until "+res.LockoutUntil.Format(time.RFC3339))
	case lockedNow:
		s.audit.Record(ctx, a.ID, audit.ActionLockedOut, in.SourceAddress,
			"locked after "+strconv.Itoa(s.lockout.MaxFailedAttempts)+" failed attempts until "+res.LockoutUntil.Format(time.RFC3339))
	case res.Reason == domain.ReasonInvalidCredentials:
		s.audit.Record(ctx, a.ID, audit.ActionLoginFailed, in.SourceAddress,
			"attempts remaining: "+strconv.Itoa(res.AttemptsRemaining))
	case res.Reason == domain.ReasonUnknownAccount:
		s.audit.Record(ctx, identifier, audit.ActionLoginUnknownUser, in.SourceAddress, "")
	}
	return res, nil
}

// verifyBot fails closed: a missing token, an unreachable verifier or a low score all reject.
func (s *AuthService) verifyBot(ctx context.Context, identifier string, in LoginInput) bool {
	if strings.TrimSpace(in.BotToken) == "" {
		s.audit.Record(ctx, identifier, audit.ActionLoginMissingRecaptcha, in.SourceAddress, "")
		return false
	}
	result, err := s.bots.Verify(ctx, in.BotToken, in.SourceAddress)
	if err != nil {
		s.log.WarnContext(ctx, "bot verification unavailable, rejecting login", "error", err)
		s.audit.Record(ctx, identifier, audit.ActionLoginRecaptchaFailed, in.SourceAddress, "verifier error")
		return false
	}
	if !result.Passed() {
		detail := "score " + strconv.FormatFloat(result.Score, 'f', 2, 64)
		if !result.Success {
			detail = "unsuccessful: " + strings.Join(result.ErrorCodes, ",")
		}
		s.audit.Record(ctx, identifier, audit.ActionLoginRecaptchaFailed, in.SourceAddress, detail)
		return false
	}
	return true
}

// Logout ends the caller's session: the canonical token is cleared if it is still theirs and
// the server session entry is removed.
func (s *AuthService) Logout(ctx context.Context, in LogoutInput) error {
	if in.AccountID != "" {
		if err := s.guard.InvalidateSession(ctx, in.AccountID, in.SessionToken); err != nil {
			return fmt.Errorf("invalidate session: %w", err)
		}
	}
	if in.SessionKey != "" {
		if err := s.sessions.Clear(ctx, in.SessionKey); err != nil {
			return fmt.Errorf("clear server session: %w", err)
		}
	}
	if in.AccountID != "" {
		s.audit.Record(ctx, in.AccountID, audit.ActionLogout, in.SourceAddress, "")
	}
	return nil
}
