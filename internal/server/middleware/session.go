package middleware

import (
	"log/slog"
	"net/http"

	"loginguard/internal/logging"
	"loginguard/internal/security"
	"loginguard/internal/session/domain"
	"loginguard/internal/session/guard"
	"loginguard/internal/sessionstore"
)

// LoginPath is where signed-out browsers are sent.
const LoginPath = "/login"

// SessionDeps are the collaborators of RequireSession.
type SessionDeps struct {
	Tokens   *security.TokenProvider
	Sessions sessionstore.Store
	Guard    *guard.Guard
	Cookies  Cookies
	Log      *slog.Logger
}

// RequireSession runs the session guard on every request. A rejected session has both cookies
// and its server entry cleared and is sent to the login page (401 for JSON clients); an expired
// password is redirected to the change-password page; an allowed request gets a refreshed claim
// cookie and the principal in its context.
func RequireSession(d SessionDeps) func(http.Handler) http.Handler {
	d.Log = logging.OrDiscard(d.Log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			var accountID, claimToken string
			if raw := cookieValue(r, ClaimCookie); raw != "" {
				if id, tok, err := d.Tokens.Validate(raw); err == nil {
					accountID, claimToken = id, tok
				}
			}

			key := cookieValue(r, SessionKeyCookie)
			var serverToken string
			if key != "" {
				tok, ok, err := d.Sessions.Get(ctx, key)
				if err != nil {
					d.Log.ErrorContext(ctx, "session store lookup failed", "error", err)
					WriteError(w, http.StatusInternalServerError, "Please try again later")
					return
				}
				if ok {
					serverToken = tok
				}
			}

			decision, err := d.Guard.Check(ctx, guard.CheckInput{
				AccountID:           accountID,
				ClaimedSessionToken: claimToken,
				ServerSessionToken:  serverToken,
				RequestPath:         r.URL.Path,
				SourceAddress:       ClientIP(r),
			})
			if err != nil {
				d.Log.ErrorContext(ctx, "session guard failed", "error", err)
				WriteError(w, http.StatusInternalServerError, "Please try again later")
				return
			}

			switch decision.Kind {
			case domain.ForceSignOut:
				if key != "" {
					if err := d.Sessions.Clear(ctx, key); err != nil {
						d.Log.WarnContext(ctx, "clear server session failed", "error", err)
					}
				}
				d.Cookies.Clear(w)
				if WantsJSON(r) {
					WriteError(w, http.StatusUnauthorized, "Your session has ended, please sign in again")
					return
				}
				http.Redirect(w, r, LoginPath, http.StatusSeeOther)
				return
			case domain.ForceRedirect:
				http.Redirect(w, r, decision.RedirectPath, http.StatusSeeOther)
				return
			}

			signed, expiresAt, err := d.Tokens.Issue(accountID, claimToken)
			if err != nil {
				d.Log.ErrorContext(ctx, "reissue session claim failed", "error", err)
				WriteError(w, http.StatusInternalServerError, "Please try again later")
				return
			}
			d.Cookies.SetClaim(w, signed, expiresAt)
			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, accountID, claimToken, key)))
		})
	}
}
