package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	accountdomain "loginguard/internal/account/domain"
	auditdomain "loginguard/internal/audit/domain"
	historydomain "loginguard/internal/passwordhistory/domain"
	resetdomain "loginguard/internal/resettoken/domain"
	"loginguard/internal/store"
)

func newAccount(id, identifier string) *accountdomain.Account {
	return &accountdomain.Account{ID: id, Identifier: identifier, CredentialHash: "hash"}
}

func TestAccounts_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	s := New()
	repos := s.Repos()

	if err := repos.Accounts.Create(ctx, newAccount("a-1", "Alice@Example.com")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repos.Accounts.Create(ctx, newAccount("a-2", "alice@example.com")); !errors.Is(err, ErrDuplicateIdentifier) {
		t.Errorf("duplicate Create err = %v, want ErrDuplicateIdentifier", err)
	}

	a, err := repos.Accounts.GetByIdentifier(ctx, "  ALICE@example.com")
	if err != nil || a == nil {
		t.Fatalf("GetByIdentifier = %v, %v", a, err)
	}
	if a.Version != 1 {
		t.Errorf("Version = %d, want 1", a.Version)
	}
	missing, err := repos.Accounts.GetByID(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetByID(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestAccounts_SaveOptimisticConcurrency(t *testing.T) {
	ctx := context.Background()
	repos := New().Repos()
	_ = repos.Accounts.Create(ctx, newAccount("a-1", "alice"))

	first, _ := repos.Accounts.GetByID(ctx, "a-1")
	second, _ := repos.Accounts.GetByID(ctx, "a-1")

	first.FailedAttempts = 1
	if err := repos.Accounts.Save(ctx, first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if first.Version != 2 {
		t.Errorf("Version after save = %d, want 2", first.Version)
	}
	second.FailedAttempts = 5
	if err := repos.Accounts.Save(ctx, second); !errors.Is(err, accountdomain.ErrVersionConflict) {
		t.Fatalf("stale Save err = %v, want ErrVersionConflict", err)
	}
	got, _ := repos.Accounts.GetByID(ctx, "a-1")
	if got.FailedAttempts != 1 {
		t.Errorf("FailedAttempts = %d, want 1", got.FailedAttempts)
	}
}

func TestAccounts_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repos := New().Repos()
	_ = repos.Accounts.Create(ctx, newAccount("a-1", "alice"))

	a, _ := repos.Accounts.GetByID(ctx, "a-1")
	a.CurrentSessionToken = "mutated"
	b, _ := repos.Accounts.GetByID(ctx, "a-1")
	if b.CurrentSessionToken != "" {
		t.Error("mutating a loaded account must not change stored state")
	}
}

func TestHistory_ListRecentAndDelete(t *testing.T) {
	ctx := context.Background()
	repos := New().Repos()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"h1", "h2", "h3"} {
		_ = repos.History.Insert(ctx, &historydomain.Entry{ID: id, AccountID: "a-1", Hash: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	_ = repos.History.Insert(ctx, &historydomain.Entry{ID: "other", AccountID: "a-2", Hash: "x", CreatedAt: base})

	recent, err := repos.History.ListRecentByAccount(ctx, "a-1", 2)
	if err != nil {
		t.Fatalf("ListRecentByAccount: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "h3" || recent[1].ID != "h2" {
		t.Fatalf("recent = %v, want [h3 h2]", ids(recent))
	}
	all, _ := repos.History.ListRecentByAccount(ctx, "a-1", 0)
	if len(all) != 3 {
		t.Fatalf("all = %d entries, want 3", len(all))
	}

	if err := repos.History.DeleteMany(ctx, []string{"h1"}); err != nil {
		t.Fatalf("DeleteMany: %v", err)
	}
	all, _ = repos.History.ListRecentByAccount(ctx, "a-1", 0)
	if len(all) != 2 {
		t.Errorf("after delete = %v", ids(all))
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Repos().Accounts.Create(ctx, newAccount("a-1", "alice"))
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(ctx context.Context, r store.Repos) error {
		a, _ := r.Accounts.GetForUpdate(ctx, "a-1")
		a.CredentialHash = "changed"
		if err := r.Accounts.Save(ctx, a); err != nil {
			return err
		}
		_ = r.History.Insert(ctx, &historydomain.Entry{ID: "h1", AccountID: "a-1", Hash: "changed", CreatedAt: time.Now()})
		_ = r.Audit.Append(ctx, &auditdomain.AuditEvent{ID: "e1", Action: "x"})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx err = %v, want boom", err)
	}
	a, _ := s.Repos().Accounts.GetByID(ctx, "a-1")
	if a.CredentialHash != "hash" || a.Version != 1 {
		t.Errorf("account not rolled back: %+v", a)
	}
	if h, _ := s.Repos().History.ListRecentByAccount(ctx, "a-1", 0); len(h) != 0 {
		t.Errorf("history not rolled back: %v", ids(h))
	}
	if len(s.AuditEvents()) != 1 {
		t.Errorf("audit appends are kept, got %d", len(s.AuditEvents()))
	}
}

func TestWithTx_RollbackKeepsWritesOutsideTx(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Repos().Accounts.Create(ctx, newAccount("a-1", "alice"))
	stale, _ := s.Repos().Accounts.GetByID(ctx, "a-1")
	boom := errors.New("boom")

	saved := make(chan error, 1)
	err := s.WithTx(ctx, func(ctx context.Context, r store.Repos) error {
		a, _ := r.Accounts.GetForUpdate(ctx, "a-1")
		_ = r.History.Insert(ctx, &historydomain.Entry{ID: "h1", AccountID: "a-1", Hash: "next", CreatedAt: time.Now()})
		go func() {
			login := *stale
			login.CurrentSessionToken = "tok-from-login"
			saved <- s.Repos().Accounts.Save(context.Background(), &login)
		}()
		a.CredentialHash = "next"
		a.Version = 99
		return errors.Join(r.Accounts.Save(ctx, a), boom)
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx err = %v, want boom", err)
	}
	if err := <-saved; err != nil {
		t.Fatalf("Save outside tx: %v", err)
	}

	a, _ := s.Repos().Accounts.GetByID(ctx, "a-1")
	if a.CurrentSessionToken != "tok-from-login" || a.CredentialHash != "hash" || a.Version != 2 {
		t.Errorf("account = %+v, want the out-of-tx write applied on top of the rolled back state", a)
	}
	if h, _ := s.Repos().History.ListRecentByAccount(ctx, "a-1", 0); len(h) != 0 {
		t.Errorf("history not rolled back: %v", ids(h))
	}
}

func TestWithTx_OutsideWriteWaitsForCommit(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Repos().Accounts.Create(ctx, newAccount("a-1", "alice"))
	stale, _ := s.Repos().Accounts.GetByID(ctx, "a-1")

	saved := make(chan error, 1)
	err := s.WithTx(ctx, func(ctx context.Context, r store.Repos) error {
		go func() {
			login := *stale
			login.CurrentSessionToken = "tok-from-login"
			saved <- s.Repos().Accounts.Save(context.Background(), &login)
		}()
		a, _ := r.Accounts.GetForUpdate(ctx, "a-1")
		a.CredentialHash = "next"
		return r.Accounts.Save(ctx, a)
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if err := <-saved; !errors.Is(err, accountdomain.ErrVersionConflict) {
		t.Fatalf("stale Save after commit err = %v, want ErrVersionConflict", err)
	}
	a, _ := s.Repos().Accounts.GetByID(ctx, "a-1")
	if a.CredentialHash != "next" || a.CurrentSessionToken != "" {
		t.Errorf("account = %+v", a)
	}
}

func TestResetTokens_MarkUsedOnce(t *testing.T) {
	ctx := context.Background()
	repos := New().Repos()
	now := time.Now()
	_ = repos.ResetTokens.Create(ctx, &resetdomain.ResetToken{TokenHash: "t1", AccountID: "a-1", ExpiresAt: now.Add(time.Hour), CreatedAt: now})
	_ = repos.ResetTokens.Create(ctx, &resetdomain.ResetToken{TokenHash: "t2", AccountID: "a-1", ExpiresAt: now.Add(time.Hour), CreatedAt: now})

	ok, err := repos.ResetTokens.MarkUsed(ctx, "t1", now)
	if err != nil || !ok {
		t.Fatalf("first MarkUsed = %v, %v", ok, err)
	}
	if ok, _ := repos.ResetTokens.MarkUsed(ctx, "t1", now); ok {
		t.Error("second MarkUsed should report false")
	}
	if err := repos.ResetTokens.RevokeForAccount(ctx, "a-1", now); err != nil {
		t.Fatalf("RevokeForAccount: %v", err)
	}
	t2, _ := repos.ResetTokens.GetByHash(ctx, "t2")
	if t2 == nil || t2.UsedAt == nil {
		t.Errorf("t2 should be revoked: %+v", t2)
	}
	if missing, _ := repos.ResetTokens.GetByHash(ctx, "nope"); missing != nil {
		t.Error("GetByHash(missing) should be nil")
	}
}

func TestRepos_HonourCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repos := New().Repos()
	if _, err := repos.Accounts.GetByID(ctx, "a"); !errors.Is(err, context.Canceled) {
		t.Errorf("GetByID err = %v, want context.Canceled", err)
	}
	if err := repos.Audit.Append(ctx, &auditdomain.AuditEvent{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Append err = %v, want context.Canceled", err)
	}
}

func ids(es []*historydomain.Entry) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}
