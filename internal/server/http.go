// Package server assembles the HTTP router for the login service and the operational gRPC server.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"loginguard/internal/health"
	identityhandler "loginguard/internal/identity/handler"
	"loginguard/internal/logging"
	"loginguard/internal/server/middleware"
)

const defaultRequestTimeout = 15 * time.Second

// HTTPDeps holds the collaborators of the HTTP router.
type HTTPDeps struct {
	Identity *identityhandler.Handler
	Session  middleware.SessionDeps
	// Limiter budgets login and reset requests per client address. Nil disables it.
	Limiter *middleware.RateLimiter
	// TrustedProxies may set the client address through forwarding headers. Empty trusts none.
	TrustedProxies middleware.TrustedProxies
	// Health answers /healthz. If nil, /healthz always reports ok.
	Health         *health.Checker
	Log            *slog.Logger
	RequestTimeout time.Duration
}

// NewHTTPHandler returns the router: request id, access log, panic recovery, timeout and
// security headers on every route; the session guard on every account route.
func NewHTTPHandler(d HTTPDeps) http.Handler {
	log := logging.OrDiscard(d.Log)
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	if d.Session.Log == nil {
		d.Session.Log = log
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RealIP(d.TrustedProxies))
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(timeout))
	r.Use(middleware.SecurityHeaders)

	r.Get("/healthz", healthz(d.Health))
	d.Identity.Routes(r, middleware.RequireSession(d.Session), middleware.Limit(d.Limiter))
	return r
}

func healthz(c *health.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c != nil && !c.Healthy() {
			middleware.WriteError(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
