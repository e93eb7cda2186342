package domain

import (
	"testing"
	"time"
)

func TestResetToken_Usable(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	used := now.Add(-time.Minute)
	tests := []struct {
		name string
		tok  ResetToken
		want bool
	}{
		{"fresh", ResetToken{ExpiresAt: now.Add(time.Hour)}, true},
		{"expired", ResetToken{ExpiresAt: now.Add(-time.Second)}, false},
		{"expires now", ResetToken{ExpiresAt: now}, false},
		{"used", ResetToken{ExpiresAt: now.Add(time.Hour), UsedAt: &used}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tok.Usable(now); got != tt.want {
				t.Errorf("Usable = %v, want %v", got, tt.want)
			}
		})
	}
}
