package security

import "time"

// IsExpired reports whether expiresAt has passed at now, allowing for the
// given clock skew grace period. A zero expiresAt never expires.
func IsExpired(expiresAt, now time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	if gracePeriod < 0 {
		gracePeriod = 0
	}
	return !now.Before(expiresAt.Add(gracePeriod))
}
