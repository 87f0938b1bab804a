package security

import (
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		grace     time.Duration
		want      bool
	}{
		{name: "zero never expires", expiresAt: time.Time{}, want: false},
		{name: "future", expiresAt: now.Add(time.Minute), want: false},
		{name: "past", expiresAt: now.Add(-time.Second), want: true},
		{name: "exactly now", expiresAt: now, want: true},
		{name: "past within grace", expiresAt: now.Add(-2 * time.Second), grace: 5 * time.Second, want: false},
		{name: "past beyond grace", expiresAt: now.Add(-10 * time.Second), grace: 5 * time.Second, want: true},
		{name: "negative grace treated as zero", expiresAt: now.Add(-time.Second), grace: -time.Hour, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(tt.expiresAt, now, tt.grace); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}
