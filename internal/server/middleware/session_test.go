package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	accountdomain "loginguard/internal/account/domain"
	"loginguard/internal/audit"
	"loginguard/internal/passwordpolicy"
	"loginguard/internal/security"
	"loginguard/internal/session/guard"
	"loginguard/internal/sessionstore"
	"loginguard/internal/store/memory"
)

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, string, string, string, string) {}

var _ audit.Recorder = nopRecorder{}

type sessionFixture struct {
	store    *memory.Store
	sessions *sessionstore.Memory
	tokens   *security.TokenProvider
	handler  http.Handler
	seen     *string
}

func newSessionFixture(t *testing.T, lastChanged *time.Time) *sessionFixture {
	t.Helper()
	st := memory.New()
	a := &accountdomain.Account{
		ID: "acct-1", Identifier: "alice@example.com", CredentialHash: "h",
		CurrentSessionToken: "tok-1", LastPasswordChangedAt: lastChanged,
	}
	if err := st.Repos().Accounts.Create(context.Background(), a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	sessions := sessionstore.NewMemory(0)
	t.Cleanup(sessions.Close)
	engine := passwordpolicy.NewEngine(passwordpolicy.DefaultPolicy(), st, security.NewHasher(4))
	g := guard.New(st, engine, nopRecorder{}, nil, nil)

	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetAccountID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := RequireSession(SessionDeps{
		Tokens:   tokens,
		Sessions: sessions,
		Guard:    g,
		Cookies:  Cookies{ClaimTTL: time.Minute},
	})(next)
	return &sessionFixture{store: st, sessions: sessions, tokens: tokens, handler: h, seen: &seen}
}

func (f *sessionFixture) request(t *testing.T, path, claimToken, key string, jsonClient bool) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, path, nil)
	if claimToken != "" {
		signed, _, err := f.tokens.Issue("acct-1", claimToken)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		r.AddCookie(&http.Cookie{Name: ClaimCookie, Value: signed})
	}
	if key != "" {
		r.AddCookie(&http.Cookie{Name: SessionKeyCookie, Value: key})
	}
	if jsonClient {
		r.Header.Set("Accept", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, r)
	return rec
}

func TestRequireSession_Continue(t *testing.T) {
	f := newSessionFixture(t, nil)
	_ = f.sessions.Set(context.Background(), "key-1", "tok-1", time.Minute)

	rec := f.request(t, "/account", "tok-1", "key-1", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	if *f.seen != "acct-1" {
		t.Errorf("principal = %q, want acct-1", *f.seen)
	}
	var refreshed bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == ClaimCookie && c.Value != "" {
			refreshed = true
		}
	}
	if !refreshed {
		t.Error("claim cookie should be re-issued")
	}
}

func TestRequireSession_SignOut(t *testing.T) {
	tests := []struct {
		name       string
		claim, key string
		serverTok  string
		jsonClient bool
		wantCode   int
	}{
		{"no cookies", "", "", "", false, http.StatusSeeOther},
		{"server session idle", "tok-1", "key-1", "", false, http.StatusSeeOther},
		{"superseded", "tok-old", "key-1", "tok-old", false, http.StatusSeeOther},
		{"json client", "tok-old", "key-1", "tok-old", true, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSessionFixture(t, nil)
			if tt.serverTok != "" {
				_ = f.sessions.Set(context.Background(), tt.key, tt.serverTok, time.Minute)
			}
			rec := f.request(t, "/account", tt.claim, tt.key, tt.jsonClient)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode == http.StatusSeeOther && rec.Header().Get("Location") != LoginPath {
				t.Errorf("Location = %q", rec.Header().Get("Location"))
			}
			if *f.seen != "" {
				t.Error("next handler should not run")
			}
			if f.sessions.Len() != 0 {
				t.Error("server session entry should be cleared")
			}
			cleared := 0
			for _, c := range rec.Result().Cookies() {
				if c.MaxAge < 0 {
					cleared++
				}
			}
			if cleared != 2 {
				t.Errorf("cleared cookies = %d, want 2", cleared)
			}
		})
	}
}

func TestRequireSession_ExpiredPasswordRedirects(t *testing.T) {
	changed := time.Now().Add(-100 * 24 * time.Hour)
	f := newSessionFixture(t, &changed)
	_ = f.sessions.Set(context.Background(), "key-1", "tok-1", time.Minute)

	rec := f.request(t, "/account", "tok-1", "key-1", false)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != guard.ChangePasswordPath {
		t.Errorf("code = %d Location = %q, want 303 to change-password", rec.Code, rec.Header().Get("Location"))
	}

	rec = f.request(t, guard.ChangePasswordPath, "tok-1", "key-1", false)
	if rec.Code != http.StatusOK {
		t.Errorf("change-password page code = %d, want 200", rec.Code)
	}
}
