package security

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewAuditor(t *testing.T) {
	auditor := NewAuditor(nil, true)
	if auditor.logger == nil {
		t.Fatal("logger should default to slog.Default()")
	}
	if !auditor.enabled {
		t.Error("enabled = false, want true")
	}
}

func TestAuditor_LogEvent(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		wantLog bool
	}{
		{name: "enabled", enabled: true, wantLog: true},
		{name: "disabled", enabled: false, wantLog: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), tt.enabled)

			auditor.LogTokenIssued("alice", "client-1", "10.0.0.1", "read")

			got := buf.String()
			if tt.wantLog && !strings.Contains(got, EventTokenIssued) {
				t.Errorf("expected %q in log output, got %q", EventTokenIssued, got)
			}
			if !tt.wantLog && got != "" {
				t.Errorf("expected no output, got %q", got)
			}
		})
	}
}

func TestAuditor_HashesUserID(t *testing.T) {
	var buf bytes.Buffer
	auditor := NewAuditor(slog.New(slog.NewJSONHandler(&buf, nil)), true)

	auditor.LogAuthFailure("user-secret-id", "client-1", "", "invalid_grant")

	out := buf.String()
	if strings.Contains(out, "user-secret-id") {
		t.Errorf("raw user ID leaked into audit log: %s", out)
	}
	if !strings.Contains(out, hashForLogging("user-secret-id")) {
		t.Errorf("hashed user ID missing from audit log: %s", out)
	}
}

func TestAuditor_NilIsNoop(t *testing.T) {
	var auditor *Auditor
	auditor.LogRateLimitExceeded("10.0.0.1", "/token")
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q, want <empty>", got)
	}
	h := hashForLogging("user")
	if len(h) != 16 {
		t.Errorf("len(hashForLogging()) = %d, want 16", len(h))
	}
	if h != hashForLogging("user") {
		t.Error("hashForLogging() is not deterministic")
	}
}

func TestAuditor_Levels(t *testing.T) {
	var buf bytes.Buffer
	auditor := NewAuditor(slog.New(slog.NewJSONHandler(&buf, nil)), true)

	auditor.LogClientRegistered("client-1", "public", "10.0.0.1")
	if !strings.Contains(buf.String(), `"level":"INFO"`) {
		t.Errorf("registration should be INFO: %s", buf.String())
	}

	buf.Reset()
	auditor.LogCodeReuseDetected("user", "client-1", "10.0.0.1", 2)
	out := buf.String()
	if !strings.Contains(out, `"level":"WARN"`) {
		t.Errorf("code reuse should be WARN: %s", out)
	}
	if !strings.Contains(out, `"details":{"tokens_revoked":2}`) {
		t.Errorf("details group missing: %s", out)
	}
}
