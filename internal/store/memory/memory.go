// Package memory is an in-process Store for development and tests. Transactions are serialised
// store-wide and roll back by restoring a snapshot; writes outside a transaction wait for the
// open one to finish, so a rollback never discards them. Not meant for multi-instance use.
package memory

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	accountdomain "loginguard/internal/account/domain"
	auditdomain "loginguard/internal/audit/domain"
	historydomain "loginguard/internal/passwordhistory/domain"
	resetdomain "loginguard/internal/resettoken/domain"
	"loginguard/internal/store"
)

// ErrDuplicateIdentifier is returned by Create when the identifier is taken.
var ErrDuplicateIdentifier = errors.New("memory: identifier already exists")

// Store holds all account state in maps guarded by mu.
type Store struct {
	txMu sync.Mutex

	mu          sync.Mutex
	accounts    map[string]*accountdomain.Account
	history     map[string]*historydomain.Entry
	resetTokens map[string]*resetdomain.ResetToken
	audit       []*auditdomain.AuditEvent
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		accounts:    make(map[string]*accountdomain.Account),
		history:     make(map[string]*historydomain.Entry),
		resetTokens: make(map[string]*resetdomain.ResetToken),
	}
}

var _ store.Store = (*Store)(nil)

// Repos returns repositories over the store. Their writes autocommit.
func (s *Store) Repos() store.Repos {
	return s.repos(false)
}

func (s *Store) repos(inTx bool) store.Repos {
	return store.Repos{
		Accounts:    accountRepo{s, inTx},
		History:     historyRepo{s, inTx},
		ResetTokens: resetTokenRepo{s, inTx},
		Audit:       auditRepo{s},
	}
}

// autocommit blocks an out-of-transaction write until no transaction is open. Audit appends
// are never rolled back and do not wait.
func (s *Store) autocommit(inTx bool) func() {
	if inTx {
		return func() {}
	}
	s.txMu.Lock()
	return s.txMu.Unlock
}

// WithTx runs fn while holding the store-wide transaction lock and restores the prior account,
// history and reset token state if fn fails. Audit appends are never rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, r store.Repos) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	accounts := maps.Clone(s.accounts)
	history := maps.Clone(s.history)
	resetTokens := maps.Clone(s.resetTokens)
	s.mu.Unlock()

	if err := fn(ctx, s.repos(true)); err != nil {
		s.mu.Lock()
		s.accounts, s.history, s.resetTokens = accounts, history, resetTokens
		s.mu.Unlock()
		return err
	}
	return nil
}

// AuditEvents returns a copy of every appended audit event in order.
func (s *Store) AuditEvents() []auditdomain.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auditdomain.AuditEvent, len(s.audit))
	for i, e := range s.audit {
		out[i] = *e
	}
	return out
}

type accountRepo struct {
	s    *Store
	inTx bool
}

func (r accountRepo) GetByID(ctx context.Context, id string) (*accountdomain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return copyAccount(r.s.accounts[id]), nil
}

func (r accountRepo) GetByIdentifier(ctx context.Context, identifier string) (*accountdomain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := accountdomain.NormalizeIdentifier(identifier)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.accounts {
		if strings.EqualFold(a.Identifier, want) {
			return copyAccount(a), nil
		}
	}
	return nil, nil
}

func (r accountRepo) GetForUpdate(ctx context.Context, id string) (*accountdomain.Account, error) {
	return r.GetByID(ctx, id)
}

func (r accountRepo) Create(ctx context.Context, a *accountdomain.Account) error {
	defer r.s.autocommit(r.inTx)()
	if err := a.Validate(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.accounts {
		if existing.ID == a.ID || strings.EqualFold(existing.Identifier, a.Identifier) {
			return ErrDuplicateIdentifier
		}
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.Version = 1
	r.s.accounts[a.ID] = copyAccount(a)
	return nil
}

func (r accountRepo) Save(ctx context.Context, a *accountdomain.Account) error {
	defer r.s.autocommit(r.inTx)()
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.accounts[a.ID]
	if !ok || current.Version != a.Version {
		return accountdomain.ErrVersionConflict
	}
	a.Version++
	r.s.accounts[a.ID] = copyAccount(a)
	return nil
}

type historyRepo struct {
	s    *Store
	inTx bool
}

func (r historyRepo) Insert(ctx context.Context, e *historydomain.Entry) error {
	defer r.s.autocommit(r.inTx)()
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *e
	r.s.history[e.ID] = &c
	return nil
}

func (r historyRepo) ListRecentByAccount(ctx context.Context, accountID string, n int) ([]*historydomain.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	var out []*historydomain.Entry
	for _, e := range r.s.history {
		if e.AccountID == accountID {
			c := *e
			out = append(out, &c)
		}
	}
	r.s.mu.Unlock()

	slices.SortFunc(out, func(a, b *historydomain.Entry) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (r historyRepo) DeleteMany(ctx context.Context, ids []string) error {
	defer r.s.autocommit(r.inTx)()
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range ids {
		delete(r.s.history, id)
	}
	return nil
}

type resetTokenRepo struct {
	s    *Store
	inTx bool
}

func (r resetTokenRepo) Create(ctx context.Context, t *resetdomain.ResetToken) error {
	defer r.s.autocommit(r.inTx)()
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *t
	c.UsedAt = nil
	r.s.resetTokens[t.TokenHash] = &c
	return nil
}

func (r resetTokenRepo) GetByHash(ctx context.Context, tokenHash string) (*resetdomain.ResetToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.resetTokens[tokenHash]
	if !ok {
		return nil, nil
	}
	c := *t
	return &c, nil
}

func (r resetTokenRepo) MarkUsed(ctx context.Context, tokenHash string, at time.Time) (bool, error) {
	defer r.s.autocommit(r.inTx)()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.resetTokens[tokenHash]
	if !ok || t.UsedAt != nil {
		return false, nil
	}
	c := *t
	used := at.UTC()
	c.UsedAt = &used
	r.s.resetTokens[tokenHash] = &c
	return true, nil
}

func (r resetTokenRepo) RevokeForAccount(ctx context.Context, accountID string, at time.Time) error {
	defer r.s.autocommit(r.inTx)()
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	used := at.UTC()
	for h, t := range r.s.resetTokens {
		if t.AccountID == accountID && t.UsedAt == nil {
			c := *t
			c.UsedAt = &used
			r.s.resetTokens[h] = &c
		}
	}
	return nil
}

type auditRepo struct{ s *Store }

func (r auditRepo) Append(ctx context.Context, e *auditdomain.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *e
	r.s.audit = append(r.s.audit, &c)
	return nil
}

func copyAccount(a *accountdomain.Account) *accountdomain.Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.LockoutUntil != nil {
		t := *a.LockoutUntil
		c.LockoutUntil = &t
	}
	if a.LastPasswordChangedAt != nil {
		t := *a.LastPasswordChangedAt
		c.LastPasswordChangedAt = &t
	}
	return &c
}
