// Package handler exposes the login, session and password flows over HTTP as JSON endpoints.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"loginguard/internal/identity/domain"
	"loginguard/internal/identity/service"
	"loginguard/internal/logging"
	"loginguard/internal/security"
	"loginguard/internal/server/middleware"
	"loginguard/internal/session/guard"
)

const (
	maxBodyBytes    = 16 << 10
	msgTryAgain     = "Please try again later"
	msgInvalidLogin = "Invalid login"
)

// Authenticator is the credential verifier.
type Authenticator interface {
	Authenticate(ctx context.Context, in service.LoginInput) (domain.LoginResult, error)
	Logout(ctx context.Context, in service.LogoutInput) error
}

// PasswordFlows is the change and reset surface.
type PasswordFlows interface {
	ChangePassword(ctx context.Context, in service.ChangeInput) (domain.ChangeResult, error)
	Status(ctx context.Context, accountID string) (service.PasswordStatus, error)
	RequestReset(ctx context.Context, identifier, sourceAddress string) error
	ResetPassword(ctx context.Context, in service.ResetInput) (domain.ResetResult, error)
}

// Handler serves the identity endpoints.
type Handler struct {
	auth      Authenticator
	passwords PasswordFlows
	tokens    *security.TokenProvider
	cookies   middleware.Cookies
	validate  *validator.Validate
	log       *slog.Logger
	newKey    func() (string, error)
}

// New returns a Handler.
func New(auth Authenticator, passwords PasswordFlows, tokens *security.TokenProvider, cookies middleware.Cookies, log *slog.Logger) *Handler {
	return &Handler{
		auth:      auth,
		passwords: passwords,
		tokens:    tokens,
		cookies:   cookies,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		log:       logging.OrDiscard(log),
		newKey:    security.NewOpaqueToken,
	}
}

type loginRequest struct {
	Identifier     string `json:"identifier" validate:"max=254"`
	Password       string `json:"password" validate:"max=1024"`
	RecaptchaToken string `json:"recaptcha_token" validate:"max=4096"`
}

type loginResponse struct {
	AccountID string `json:"account_id"`
	Redirect  string `json:"redirect"`
}

type lockedResponse struct {
	Error        string    `json:"error"`
	LockoutUntil time.Time `json:"lockout_until"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"max=1024"`
	NewPassword     string `json:"new_password" validate:"max=1024"`
	ConfirmPassword string `json:"confirm_password" validate:"max=1024"`
}

type forgotPasswordRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
}

type resetPasswordRequest struct {
	Identifier      string `json:"identifier" validate:"required,max=254"`
	Token           string `json:"token" validate:"max=256"`
	NewPassword     string `json:"new_password" validate:"max=1024"`
	ConfirmPassword string `json:"confirm_password" validate:"max=1024"`
}

type messageResponse struct {
	Message  string `json:"message"`
	Redirect string `json:"redirect,omitempty"`
}

type minAgeResponse struct {
	Error            string `json:"error"`
	MinutesRemaining int    `json:"minutes_remaining"`
}

type passwordStatusResponse struct {
	MustChange       bool       `json:"must_change"`
	CanChange        bool       `json:"can_change"`
	MinutesRemaining int        `json:"minutes_remaining"`
	LastChangedAt    *time.Time `json:"last_changed_at,omitempty"`
}

type accountResponse struct {
	AccountID string `json:"account_id"`
}

// Login handles POST /login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	key, err := h.newKey()
	if err != nil {
		h.fail(w, r, "generate session key", err)
		return
	}
	res, err := h.auth.Authenticate(r.Context(), service.LoginInput{
		Identifier:    req.Identifier,
		Password:      req.Password,
		BotToken:      req.RecaptchaToken,
		SourceAddress: middleware.ClientIP(r),
		SessionKey:    key,
	})
	if err != nil {
		h.fail(w, r, "authenticate", err)
		return
	}
	if !res.Succeeded() {
		h.loginRejected(w, res)
		return
	}

	signed, expiresAt, err := h.tokens.Issue(res.AccountID, res.SessionToken)
	if err != nil {
		h.fail(w, r, "issue session claim", err)
		return
	}
	h.cookies.SetSessionKey(w, key)
	h.cookies.SetClaim(w, signed, expiresAt)
	middleware.WriteJSON(w, http.StatusOK, loginResponse{AccountID: res.AccountID, Redirect: "/account"})
}

func (h *Handler) loginRejected(w http.ResponseWriter, res domain.LoginResult) {
	switch res.Reason {
	case domain.ReasonMissingCredentials:
		middleware.WriteError(w, http.StatusBadRequest, "Identifier and password are required")
	case domain.ReasonBotCheckFailed:
		middleware.WriteError(w, http.StatusBadRequest, "Bot verification failed, please try again")
	case domain.ReasonLockedOut:
		middleware.WriteJSON(w, http.StatusLocked, lockedResponse{
			Error:        "Account is temporarily locked",
			LockoutUntil: res.LockoutUntil.UTC(),
		})
	case domain.ReasonInvalidCredentials:
		if res.LockoutUntil != nil {
			middleware.WriteJSON(w, http.StatusLocked, lockedResponse{
				Error:        "Account is temporarily locked",
				LockoutUntil: res.LockoutUntil.UTC(),
			})
			return
		}
		middleware.WriteError(w, http.StatusUnauthorized, msgInvalidLogin)
	default:
		middleware.WriteError(w, http.StatusUnauthorized, msgInvalidLogin)
	}
}

// Logout handles POST /logout. Runs behind RequireSession.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, _ := middleware.GetAccountID(ctx)
	token, _ := middleware.GetSessionToken(ctx)
	key, _ := middleware.GetSessionKey(ctx)
	err := h.auth.Logout(ctx, service.LogoutInput{
		AccountID:     accountID,
		SessionToken:  token,
		SessionKey:    key,
		SourceAddress: middleware.ClientIP(r),
	})
	if err != nil {
		h.fail(w, r, "logout", err)
		return
	}
	h.cookies.Clear(w)
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "Signed out", Redirect: middleware.LoginPath})
}

// ChangePassword handles POST /account/change-password. Runs behind RequireSession.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	accountID, _ := middleware.GetAccountID(r.Context())
	res, err := h.passwords.ChangePassword(r.Context(), service.ChangeInput{
		AccountID:     accountID,
		Current:       req.CurrentPassword,
		New:           req.NewPassword,
		Confirm:       req.ConfirmPassword,
		SourceAddress: middleware.ClientIP(r),
	})
	if err != nil {
		h.fail(w, r, "change password", err)
		return
	}
	if res.Succeeded() {
		middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "Password changed", Redirect: "/account"})
		return
	}
	switch res.Reason {
	case domain.ReasonMinAgeNotMet:
		middleware.WriteJSON(w, http.StatusTooManyRequests, minAgeResponse{
			Error:            fmt.Sprintf("Password was changed recently, try again in %d minute(s)", res.MinutesRemaining),
			MinutesRemaining: res.MinutesRemaining,
		})
	case domain.ReasonUnknownAccount:
		middleware.WriteError(w, http.StatusUnauthorized, "Your session has ended, please sign in again")
	default:
		middleware.WriteError(w, http.StatusBadRequest, passwordMessage(res.Reason, res.Detail))
	}
}

// PasswordStatus handles GET /account/password-status. Runs behind RequireSession.
func (h *Handler) PasswordStatus(w http.ResponseWriter, r *http.Request) {
	accountID, _ := middleware.GetAccountID(r.Context())
	st, err := h.passwords.Status(r.Context(), accountID)
	if err != nil {
		h.fail(w, r, "password status", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, passwordStatusResponse{
		MustChange:       st.MustChange,
		CanChange:        st.CanChange,
		MinutesRemaining: st.MinutesRemaining,
		LastChangedAt:    st.LastChangedAt,
	})
}

// ForgotPassword handles POST /password/forgot. The response never reveals whether the account exists.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.passwords.RequestReset(r.Context(), req.Identifier, middleware.ClientIP(r)); err != nil {
		h.fail(w, r, "request reset", err)
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, messageResponse{
		Message: "If an account exists for that identifier, a reset link has been sent",
	})
}

// ResetPassword handles POST /password/reset.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.passwords.ResetPassword(r.Context(), service.ResetInput{
		Identifier:    req.Identifier,
		Token:         req.Token,
		New:           req.NewPassword,
		Confirm:       req.ConfirmPassword,
		SourceAddress: middleware.ClientIP(r),
	})
	if err != nil {
		h.fail(w, r, "reset password", err)
		return
	}
	if res.Succeeded() {
		h.cookies.Clear(w)
		middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "Password reset, please sign in", Redirect: middleware.LoginPath})
		return
	}
	middleware.WriteError(w, http.StatusBadRequest, passwordMessage(res.Reason, res.Detail))
}

// Account handles GET /account. Runs behind RequireSession.
func (h *Handler) Account(w http.ResponseWriter, r *http.Request) {
	accountID, _ := middleware.GetAccountID(r.Context())
	middleware.WriteJSON(w, http.StatusOK, accountResponse{AccountID: accountID})
}

// Home handles GET /: signed-in browsers go to /account, everyone else to /login. The guard on
// /account makes the final call.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	target := middleware.LoginPath
	if c, err := r.Cookie(middleware.ClaimCookie); err == nil && c.Value != "" {
		if _, _, err := h.tokens.Validate(c.Value); err == nil {
			target = "/account"
		}
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func passwordMessage(reason domain.Reason, detail string) string {
	switch reason {
	case domain.ReasonMissingCredentials:
		return "All password fields are required"
	case domain.ReasonSamePassword:
		return "New password must be different from the current password"
	case domain.ReasonPasswordMismatch:
		return "New password and confirmation do not match"
	case domain.ReasonWeakPassword:
		if detail != "" {
			return strings.ToUpper(detail[:1]) + detail[1:]
		}
		return "Password does not meet the strength requirements"
	case domain.ReasonInvalidCredentials:
		return "Current password is incorrect"
	case domain.ReasonPasswordReused:
		return "Password was used recently, choose a different one"
	case domain.ReasonInvalidResetToken:
		return "Invalid or expired reset link"
	default:
		return "Request could not be completed"
	}
}

// decode reads a JSON body into dst and validates it. On failure it writes a 400 and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.log.DebugContext(r.Context(), "decode request failed", "path", r.URL.Path, "error", err)
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request format")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, formatValidationErrors(err))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.log.ErrorContext(r.Context(), op+" failed", "path", r.URL.Path, "error", err)
	middleware.WriteError(w, http.StatusInternalServerError, msgTryAgain)
}

func formatValidationErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", strings.ToLower(fe.Field())))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters long", strings.ToLower(fe.Field()), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", strings.ToLower(fe.Field())))
		}
	}
	return strings.Join(msgs, "; ")
}

// Routes mounts public and guarded routes. requireSession wraps the guarded group; limit wraps
// the login and reset endpoints. GET on the change-password path serves the status so the
// guard's redirect lands somewhere.
func (h *Handler) Routes(r chi.Router, requireSession, limit func(http.Handler) http.Handler) {
	r.Get("/", h.Home)
	r.With(limit).Post("/login", h.Login)
	r.With(limit).Post("/password/forgot", h.ForgotPassword)
	r.With(limit).Post("/password/reset", h.ResetPassword)
	r.Group(func(r chi.Router) {
		r.Use(requireSession)
		r.Post(guard.LogoutPath, h.Logout)
		r.Get("/account", h.Account)
		r.Get(guard.ChangePasswordPath, h.PasswordStatus)
		r.Post(guard.ChangePasswordPath, h.ChangePassword)
		r.Get("/account/password-status", h.PasswordStatus)
	})
}
