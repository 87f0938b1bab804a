package oauth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsOAuthError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{
			name:       "oauth error",
			err:        NewOAuthError(ErrorCodeInvalidScope, "bad scope", http.StatusBadRequest),
			wantCode:   ErrorCodeInvalidScope,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "wrapped oauth error",
			err:        fmt.Errorf("exchange: %w", NewOAuthError(ErrorCodeInvalidGrant, "", http.StatusBadRequest)),
			wantCode:   ErrorCodeInvalidGrant,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "internal error is hidden",
			err:        errors.New("connection refused to 10.0.0.3"),
			wantCode:   ErrorCodeServerError,
			wantStatus: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AsOAuthError(tt.err)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.NotContains(t, got.Description, "10.0.0.3")
		})
	}
}

func TestFormatWWWAuthenticate(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	got := env.handler.formatWWWAuthenticate(`read "x"`, ErrorCodeInsufficientScope, `needs \ more`)
	assert.Equal(t,
		`Bearer resource_metadata="https://auth.example.com/.well-known/oauth-protected-resource", `+
			`scope="read \"x\"", error="insufficient_scope", error_description="needs \\ more"`,
		got)
}
