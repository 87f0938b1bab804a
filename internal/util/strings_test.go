package util

import (
	"reflect"
	"testing"
)

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{
			name:   "string shorter than maxLen",
			input:  "short",
			maxLen: 10,
			want:   "short",
		},
		{
			name:   "string longer than maxLen",
			input:  "this-is-a-very-long-token-string",
			maxLen: 8,
			want:   "this-is-",
		},
		{
			name:   "empty string",
			input:  "",
			maxLen: 5,
			want:   "",
		},
		{
			name:   "maxLen is negative",
			input:  "test",
			maxLen: -1,
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SafeTruncate(tt.input, tt.maxLen)
			if got != tt.want {
				t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "empty", input: "", want: nil},
		{name: "whitespace only", input: "   ", want: nil},
		{name: "single", input: "read", want: []string{"read"}},
		{name: "multiple", input: "read write", want: []string{"read", "write"}},
		{name: "duplicates removed", input: "read write read", want: []string{"read", "write"}},
		{name: "extra spacing", input: "  read\twrite  ", want: []string{"read", "write"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseScope(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseScope(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeScopes(t *testing.T) {
	got := NormalizeScopes([]string{"read write", "admin", "read"})
	want := []string{"read", "write", "admin"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeScopes() = %#v, want %#v", got, want)
	}
	if FormatScope(got) != "read write admin" {
		t.Errorf("FormatScope() = %q", FormatScope(got))
	}
}

func TestScopesSubset(t *testing.T) {
	allowed := []string{"read", "write"}

	tests := []struct {
		name      string
		requested []string
		want      bool
	}{
		{name: "empty request", requested: nil, want: true},
		{name: "exact", requested: []string{"read", "write"}, want: true},
		{name: "subset", requested: []string{"write"}, want: true},
		{name: "superset", requested: []string{"read", "admin"}, want: false},
		{name: "case sensitive", requested: []string{"READ"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScopesSubset(tt.requested, allowed); got != tt.want {
				t.Errorf("ScopesSubset(%v, %v) = %v, want %v", tt.requested, allowed, got, tt.want)
			}
		})
	}
}
