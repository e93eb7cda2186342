package security

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies passwords using bcrypt. The same scheme serves primary
// credentials and password history entries. Callers must not log or persist plaintext passwords.
type Hasher struct {
	Cost int

	// dummy is a hash of a fixed value at Cost, compared against when no account exists
	// so unknown-account and wrong-password paths take the same time.
	dummyOnce sync.Once
	dummy     []byte
}

// NewHasher returns a Hasher with the given bcrypt cost, clamped to 4–31. Cost 12 is a
// reasonable default for interactive login.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// Hash produces a bcrypt hash of password suitable for storage.
func (h *Hasher) Hash(password []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(password, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare verifies password against the stored hash in constant time. Returns nil on match and
// bcrypt.ErrMismatchedHashAndPassword (or a format error) otherwise.
func (h *Hasher) Compare(hash string, password []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), password)
}

// Matches reports whether password matches hash. A mismatch is (false, nil); a malformed
// hash is returned as an error because it indicates corrupted storage, not a wrong guess.
func (h *Hasher) Matches(hash string, password []byte) (bool, error) {
	err := h.Compare(hash, password)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}

// SimulateCompare burns one bcrypt comparison against a throwaway hash.
func (h *Hasher) SimulateCompare(password []byte) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("loginguard-timing-equaliser"), h.Cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, password)
}
