package security

import (
	"testing"
	"time"
)

func TestRegistrationLimiter_Allow(t *testing.T) {
	l := NewRegistrationLimiter(3, time.Hour, nil)

	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("registration %d should be allowed", i+1)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Error("fourth registration in the window should be rejected")
	}
	if !l.Allow("10.0.0.2") {
		t.Error("other IPs should have their own window")
	}
	if got := l.Remaining("10.0.0.2"); got != 2 {
		t.Errorf("Remaining() = %d, want 2", got)
	}
}

func TestRegistrationLimiter_WindowExpires(t *testing.T) {
	l := NewRegistrationLimiter(1, 50*time.Millisecond, nil)

	if !l.Allow("10.0.0.1") {
		t.Fatal("first registration should be allowed")
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("second registration should be rejected")
	}

	time.Sleep(80 * time.Millisecond)

	if !l.Allow("10.0.0.1") {
		t.Error("registration after the window should be allowed")
	}
}

func TestRegistrationLimiter_Defaults(t *testing.T) {
	l := NewRegistrationLimiter(0, 0, nil)
	if l.maxPerWindow != DefaultMaxRegistrationsPerWindow {
		t.Errorf("maxPerWindow = %d, want %d", l.maxPerWindow, DefaultMaxRegistrationsPerWindow)
	}
	if l.window != DefaultRegistrationWindow {
		t.Errorf("window = %v, want %v", l.window, DefaultRegistrationWindow)
	}
}
