// Package guard decides, per request, whether a signed-in principal's session is still the
// account's canonical one and whether the password has expired.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	accountdomain "loginguard/internal/account/domain"
	"loginguard/internal/audit"
	"loginguard/internal/logging"
	"loginguard/internal/passwordpolicy"
	"loginguard/internal/session/domain"
	"loginguard/internal/store"
)

// Paths the guard treats specially.
const (
	ChangePasswordPath = "/account/change-password"
	LogoutPath         = "/logout"
)

// CheckInput is everything Check needs about one request.
type CheckInput struct {
	AccountID           string
	ClaimedSessionToken string
	// ServerSessionToken is the token held by the server-side session store, empty when absent or idle-expired.
	ServerSessionToken string
	RequestPath        string
	SourceAddress      string
}

// Guard evaluates session binding and password expiry.
type Guard struct {
	store     store.Store
	policy    *passwordpolicy.Engine
	audit     audit.Recorder
	log       *slog.Logger
	decisions metric.Int64Counter
	now       func() time.Time
}

// New returns a Guard. log and meter may be nil.
func New(st store.Store, policy *passwordpolicy.Engine, rec audit.Recorder, log *slog.Logger, meter metric.Meter) *Guard {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("loginguard/guard")
	}
	decisions, err := meter.Int64Counter("guard.decisions",
		metric.WithDescription("Session guard decisions by kind and reason"))
	if err != nil {
		decisions, _ = noop.NewMeterProvider().Meter("loginguard/guard").Int64Counter("guard.decisions")
	}
	return &Guard{
		store:     st,
		policy:    policy,
		audit:     rec,
		log:       logging.OrDiscard(log),
		decisions: decisions,
		now:       time.Now,
	}
}

// Check returns ForceSignOut unless the claim matches both the account's current session token
// and the server session token, ForceRedirect when the password must change (except on the
// change-password and logout paths), and Continue otherwise. The error is for storage failures only.
func (g *Guard) Check(ctx context.Context, in CheckInput) (domain.Decision, error) {
	if in.ClaimedSessionToken == "" || in.AccountID == "" {
		return g.signOut(ctx, in, domain.ReasonMissingClaim), nil
	}
	if in.ServerSessionToken == "" {
		return g.signOut(ctx, in, domain.ReasonSessionExpired), nil
	}
	a, err := g.store.Repos().Accounts.GetByID(ctx, in.AccountID)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("load account: %w", err)
	}
	if a == nil {
		return g.signOut(ctx, in, domain.ReasonUnknownAccount), nil
	}
	if a.CurrentSessionToken != in.ClaimedSessionToken {
		return g.signOut(ctx, in, domain.ReasonSuperseded), nil
	}
	if in.ServerSessionToken != in.ClaimedSessionToken {
		return g.signOut(ctx, in, domain.ReasonMismatch), nil
	}

	if g.policy.MustChange(a, g.now()) && !exemptFromRedirect(in.RequestPath) {
		g.audit.Record(ctx, a.ID, audit.ActionPasswordExpiredRedirect, in.SourceAddress, in.RequestPath)
		g.count(ctx, domain.ForceRedirect, domain.ReasonPasswordExpired)
		return domain.Decision{
			Kind:         domain.ForceRedirect,
			RedirectPath: ChangePasswordPath,
			Reason:       domain.ReasonPasswordExpired,
		}, nil
	}
	g.count(ctx, domain.Continue, "")
	return domain.Decision{Kind: domain.Continue}, nil
}

// Invalidate clears the account's canonical session so every outstanding claim fails Check.
// A missing account or an already empty session is not an error.
func (g *Guard) Invalidate(ctx context.Context, accountID string) error {
	return g.invalidate(ctx, accountID, "")
}

// InvalidateSession clears the canonical session only while it is still sessionToken, so a
// stale claim signing out cannot end a newer login.
func (g *Guard) InvalidateSession(ctx context.Context, accountID, sessionToken string) error {
	if sessionToken == "" {
		return nil
	}
	return g.invalidate(ctx, accountID, sessionToken)
}

func (g *Guard) invalidate(ctx context.Context, accountID, expected string) error {
	return store.RetryOnConflict(ctx, func(int) error {
		a, err := g.store.Repos().Accounts.GetByID(ctx, accountID)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		if a == nil || a.CurrentSessionToken == "" {
			return nil
		}
		if expected != "" && a.CurrentSessionToken != expected {
			return nil
		}
		a.CurrentSessionToken = ""
		return g.store.Repos().Accounts.Save(ctx, a)
	})
}

// InvalidateIn clears the session inside a transaction the caller owns. The caller's row lock
// makes a version conflict impossible there, so no retry is attempted.
func InvalidateIn(ctx context.Context, r store.Repos, a *accountdomain.Account) error {
	if a.CurrentSessionToken == "" {
		return nil
	}
	a.CurrentSessionToken = ""
	return r.Accounts.Save(ctx, a)
}

func (g *Guard) signOut(ctx context.Context, in CheckInput, reason string) domain.Decision {
	g.audit.Record(ctx, in.AccountID, audit.ActionSessionRejectedPrefix+reason, in.SourceAddress, in.RequestPath)
	g.log.InfoContext(ctx, "session rejected", "account_id", in.AccountID, "reason", reason, "path", in.RequestPath)
	g.count(ctx, domain.ForceSignOut, reason)
	return domain.Decision{Kind: domain.ForceSignOut, Reason: reason}
}

func (g *Guard) count(ctx context.Context, kind domain.Kind, reason string) {
	g.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind.String()),
		attribute.String("reason", reason),
	))
}

// exemptFromRedirect matches the change-password and logout paths and anything beneath them,
// case-insensitively. "/logoutx" is not exempt.
func exemptFromRedirect(path string) bool {
	p := strings.ToLower(path)
	for _, exempt := range []string{ChangePasswordPath, LogoutPath} {
		if p == exempt || strings.HasPrefix(p, exempt+"/") {
			return true
		}
	}
	return false
}
