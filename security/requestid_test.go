package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestGenerateRequestID(t *testing.T) {
	id := GenerateRequestID()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("GenerateRequestID() = %q is not a UUID: %v", id, err)
	}
	if !requestIDPattern.MatchString(id) {
		t.Errorf("generated ID %q does not pass our own validation", id)
	}
	if id == GenerateRequestID() {
		t.Error("GenerateRequestID() returned the same ID twice")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		upstream string
		keep     bool
	}{
		{name: "no upstream id", upstream: "", keep: false},
		{name: "valid upstream id", upstream: "req-123_abc", keep: true},
		{name: "header injection", upstream: "abc\r\nSet-Cookie: x", keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.upstream != "" {
				req.Header.Set(RequestIDHeader, tt.upstream)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if seen == "" {
				t.Fatal("request ID missing from context")
			}
			if got := w.Header().Get(RequestIDHeader); got != seen {
				t.Errorf("response header = %q, context = %q", got, seen)
			}
			if tt.keep && seen != tt.upstream {
				t.Errorf("upstream ID not preserved: got %q, want %q", seen, tt.upstream)
			}
			if !tt.keep && seen == tt.upstream {
				t.Errorf("upstream ID %q should have been replaced", tt.upstream)
			}
		})
	}
}
