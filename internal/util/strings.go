package util

import "strings"

// SafeTruncate safely truncates a string to maxLen bytes without panicking.
// It is used when logging tokens and codes, where only a prefix should be shown.
//
// If maxLen is negative, it's treated as 0 and returns an empty string.
//
// Example:
//
//	SafeTruncate("very-long-token-abc123", 8) // Returns: "very-lon"
//	SafeTruncate("short", 10)                  // Returns: "short"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// ParseScope splits a space-delimited scope string (RFC 6749 Section 3.3)
// into its individual scopes. Duplicates are removed and the original order
// is preserved.
func ParseScope(scope string) []string {
	return normalizeScopes(strings.Fields(scope))
}

// FormatScope joins scopes into the space-delimited wire representation.
func FormatScope(scopes []string) string {
	return strings.Join(scopes, " ")
}

// NormalizeScopes trims and de-duplicates a scope list. Entries that contain
// whitespace are split, so ["read write"] and ["read", "write"] are equivalent.
func NormalizeScopes(scopes []string) []string {
	var fields []string
	for _, s := range scopes {
		fields = append(fields, strings.Fields(s)...)
	}
	return normalizeScopes(fields)
}

func normalizeScopes(fields []string) []string {
	if len(fields) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// ScopesSubset reports whether every entry of requested is contained in allowed.
// An empty requested set is always a subset.
func ScopesSubset(requested, allowed []string) bool {
	if len(requested) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	for _, r := range requested {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}

// ContainsScope reports whether scope is present in scopes.
func ContainsScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}
