package middleware

import (
	"net/http"
	"time"
)

// Cookie names.
const (
	// ClaimCookie holds the signed session claim (JWT with the account id and session token).
	ClaimCookie = "lg_auth"
	// SessionKeyCookie holds the opaque key of the server-side session entry.
	SessionKeyCookie = "lg_sid"
)

// Cookies writes and clears the session cookies.
type Cookies struct {
	Secure bool
	// ClaimTTL is the sliding lifetime of the claim cookie.
	ClaimTTL time.Duration
}

// SetClaim writes the claim cookie expiring at expiresAt.
func (c Cookies) SetClaim(w http.ResponseWriter, value string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     ClaimCookie,
		Value:    value,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// SetSessionKey writes the server session key cookie. It is a browser-session cookie; the
// server side enforces idle expiry.
func (c Cookies) SetSessionKey(w http.ResponseWriter, key string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionKeyCookie,
		Value:    key,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Clear expires both session cookies.
func (c Cookies) Clear(w http.ResponseWriter) {
	for _, name := range []string{ClaimCookie, SessionKeyCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HttpOnly: true,
			Secure:   c.Secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
