package server

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// PKCE validation constants (RFC 7636)
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	S256ChallengeLength   = 43
	PKCEMethodS256        = "S256"
	PKCEMethodPlain       = "plain"
)

// errPKCEMismatch is returned when a well-formed verifier does not match the challenge.
var errPKCEMismatch = errors.New("code_verifier does not match code_challenge")

// isUnreserved reports whether ch is in the RFC 3986 unreserved set [A-Za-z0-9-._~].
func isUnreserved(ch byte) bool {
	return (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
		ch == '-' || ch == '.' || ch == '_' || ch == '~'
}

// ValidateCodeVerifier checks the RFC 7636 Section 4.1 syntax of a code verifier:
// 43 to 128 characters from the unreserved set.
func ValidateCodeVerifier(verifier string) error {
	if len(verifier) < MinCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at least %d characters", MinCodeVerifierLength)
	}
	if len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at most %d characters", MaxCodeVerifierLength)
	}
	for i := 0; i < len(verifier); i++ {
		if !isUnreserved(verifier[i]) {
			return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	}
	return nil
}

// S256Challenge returns base64url(SHA-256(verifier)) without padding.
func S256Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// VerifyPKCE checks a code verifier against a stored challenge. The verifier
// is syntax-checked before hashing and the final comparison is constant time.
func VerifyPKCE(verifier, challenge, method string) error {
	if err := ValidateCodeVerifier(verifier); err != nil {
		return err
	}

	var computed string
	switch method {
	case PKCEMethodS256:
		computed = S256Challenge(verifier)
	case PKCEMethodPlain:
		computed = verifier
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return errPKCEMismatch
	}
	return nil
}

// validateCodeChallenge checks the challenge sent to the authorization
// endpoint. An omitted method means plain (RFC 7636 Section 4.3).
func (s *Server) validateCodeChallenge(challenge, method string) (string, error) {
	if challenge == "" {
		return "", fmt.Errorf("code_challenge is required")
	}
	if method == "" {
		method = PKCEMethodPlain
	}

	switch method {
	case PKCEMethodS256:
		if len(challenge) != S256ChallengeLength {
			return "", fmt.Errorf("code_challenge must be %d characters for S256", S256ChallengeLength)
		}
		if _, err := base64.RawURLEncoding.DecodeString(challenge); err != nil {
			return "", fmt.Errorf("code_challenge must be unpadded base64url for S256")
		}
	case PKCEMethodPlain:
		if !s.Config.AllowPKCEPlain {
			return "", fmt.Errorf("code_challenge_method 'plain' is not allowed, use S256")
		}
		if err := ValidateCodeVerifier(challenge); err != nil {
			return "", fmt.Errorf("invalid code_challenge: %w", err)
		}
	default:
		return "", fmt.Errorf("unsupported code_challenge_method: %s", method)
	}
	return method, nil
}

// verifyPKCE applies VerifyPKCE with the server's plain-method policy.
func (s *Server) verifyPKCE(verifier, challenge, method string) error {
	if method == PKCEMethodPlain && !s.Config.AllowPKCEPlain {
		return fmt.Errorf("code_challenge_method 'plain' is not allowed")
	}
	return VerifyPKCE(verifier, challenge, method)
}
