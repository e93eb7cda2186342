package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	accountdomain "loginguard/internal/account/domain"
	"loginguard/internal/botcheck"
	"loginguard/internal/passwordpolicy"
	"loginguard/internal/security"
	"loginguard/internal/session/guard"
	"loginguard/internal/sessionstore"
	"loginguard/internal/store/memory"
)

const (
	testIdentifier = "alice@example.com"
	testPassword   = "Initial-Passw0rd!"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type mockRecorder struct {
	mu      sync.Mutex
	actions []string
}

func (m *mockRecorder) Record(_ context.Context, _, action, _, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, action)
}

func (m *mockRecorder) count(action string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.actions {
		if a == action {
			n++
		}
	}
	return n
}

func (m *mockRecorder) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.actions) == 0 {
		return ""
	}
	return m.actions[len(m.actions)-1]
}

type errVerifier struct{}

func (errVerifier) Verify(context.Context, string, string) (botcheck.Result, error) {
	return botcheck.Result{}, errors.New("siteverify: context deadline exceeded")
}

type sentReset struct {
	identifier, token string
	expiresAt         time.Time
}

type mockMailer struct {
	mu   sync.Mutex
	sent []sentReset
	err  error
}

func (m *mockMailer) SendPasswordReset(_ context.Context, identifier, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentReset{identifier, token, expiresAt})
	return m.err
}

type harness struct {
	store    *memory.Store
	hasher   *security.Hasher
	sessions *sessionstore.Memory
	guard    *guard.Guard
	policy   *passwordpolicy.Engine
	audit    *mockRecorder
	mailer   *mockMailer
	clock    *fakeClock
	auth     *AuthService
	password *PasswordService
	account  *accountdomain.Account
}

func newHarness(t *testing.T, p passwordpolicy.Policy) *harness {
	t.Helper()
	h := &harness{
		store:    memory.New(),
		hasher:   security.NewHasher(4),
		sessions: sessionstore.NewMemory(0),
		audit:    &mockRecorder{},
		mailer:   &mockMailer{},
		clock:    &fakeClock{t: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)},
	}
	t.Cleanup(h.sessions.Close)

	h.policy = passwordpolicy.NewEngine(p, h.store, h.hasher).WithClock(h.clock.Now)
	h.guard = guard.New(h.store, h.policy, h.audit, nil, nil)
	h.auth = NewAuthService(AuthDeps{
		Store:    h.store,
		Hasher:   h.hasher,
		Bots:     botcheck.AlwaysPass(),
		Sessions: h.sessions,
		Guard:    h.guard,
		Audit:    h.audit,
		Lockout:  DefaultLockoutPolicy(),
	})
	h.auth.now = h.clock.Now
	h.password = NewPasswordService(h.store, h.hasher, h.policy, h.guard, h.mailer, h.audit, nil, 24*time.Hour)
	h.password.now = h.clock.Now

	hash, err := h.hasher.Hash([]byte(testPassword))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h.account = &accountdomain.Account{ID: "acct-1", Identifier: testIdentifier, CredentialHash: hash}
	if err := h.store.Repos().Accounts.Create(context.Background(), h.account); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return h
}

func (h *harness) reload(t *testing.T) *accountdomain.Account {
	t.Helper()
	a, err := h.store.Repos().Accounts.GetByID(context.Background(), h.account.ID)
	if err != nil || a == nil {
		t.Fatalf("GetByID = %v, %v", a, err)
	}
	return a
}

func login(password, key string) LoginInput {
	return LoginInput{
		Identifier:    testIdentifier,
		Password:      password,
		BotToken:      "bot-token",
		SourceAddress: "203.0.113.7",
		SessionKey:    key,
	}
}
