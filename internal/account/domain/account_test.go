package domain

import (
	"testing"
	"time"
)

func TestAccount_Validate(t *testing.T) {
	valid := Account{ID: "a-1", Identifier: "alice@example.com", CredentialHash: "h"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	tests := []struct {
		name string
		mod  func(a *Account)
	}{
		{"missing id", func(a *Account) { a.ID = "" }},
		{"blank identifier", func(a *Account) { a.Identifier = "  " }},
		{"missing hash", func(a *Account) { a.CredentialHash = "" }},
		{"negative failures", func(a *Account) { a.FailedAttempts = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid
			tt.mod(&a)
			if err := a.Validate(); err == nil {
				t.Error("Validate should fail")
			}
		})
	}
}

func TestAccount_RegisterFailure_LocksAtMax(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := &Account{FailedAttempts: 1}
	if a.RegisterFailure(now, 3, time.Minute) {
		t.Fatal("second failure should not lock")
	}
	if a.AttemptsRemaining(3) != 1 {
		t.Errorf("AttemptsRemaining = %d, want 1", a.AttemptsRemaining(3))
	}
	if !a.RegisterFailure(now, 3, time.Minute) {
		t.Fatal("third failure should lock")
	}
	if a.FailedAttempts != 3 {
		t.Errorf("FailedAttempts = %d, want 3", a.FailedAttempts)
	}
	if a.LockoutUntil == nil || !a.LockoutUntil.Equal(now.Add(time.Minute)) {
		t.Errorf("LockoutUntil = %v, want %v", a.LockoutUntil, now.Add(time.Minute))
	}
	if !a.IsLockedOut(now.Add(59 * time.Second)) {
		t.Error("should be locked 59s later")
	}
	if a.IsLockedOut(now.Add(time.Minute)) {
		t.Error("should not be locked once LockoutUntil is reached")
	}
	if a.AttemptsRemaining(3) != 0 {
		t.Errorf("AttemptsRemaining = %d, want 0", a.AttemptsRemaining(3))
	}
}

func TestAccount_ClearExpiredLockout(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(time.Minute)
	a := &Account{FailedAttempts: 3, LockoutUntil: &until}
	if a.ClearExpiredLockout(now) {
		t.Fatal("active lockout must not be cleared")
	}
	if !a.ClearExpiredLockout(now.Add(2 * time.Minute)) {
		t.Fatal("expired lockout should be cleared")
	}
	if a.FailedAttempts != 0 || a.LockoutUntil != nil {
		t.Errorf("after clear: failed=%d lockout=%v", a.FailedAttempts, a.LockoutUntil)
	}
	if a.ClearExpiredLockout(now) {
		t.Error("clearing with no lockout should report no change")
	}
}

func TestAccount_RegisterSuccess(t *testing.T) {
	until := time.Now().Add(-time.Second)
	a := &Account{FailedAttempts: 2, LockoutUntil: &until, CurrentSessionToken: "old"}
	a.RegisterSuccess("new")
	if a.FailedAttempts != 0 || a.LockoutUntil != nil || a.CurrentSessionToken != "new" {
		t.Errorf("after success: %+v", a)
	}
}

func TestNormalizeIdentifier(t *testing.T) {
	if got := NormalizeIdentifier("  Alice@Example.COM "); got != "alice@example.com" {
		t.Errorf("NormalizeIdentifier = %q", got)
	}
}
