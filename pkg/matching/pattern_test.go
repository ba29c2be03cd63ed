package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		want    Pattern
	}{
		{
			name:    "all urls token",
			pattern: "<all_urls>",
			want:    Pattern{AllURLs: true},
		},
		{
			name:    "https exact host",
			pattern: "https://example.com/",
			want:    Pattern{Scheme: SchemeHTTPS, Host: "example.com", Path: "/"},
		},
		{
			name:    "any web scheme",
			pattern: "*://example.com/*",
			want:    Pattern{Scheme: SchemeAnyWeb, Host: "example.com", Path: "/*"},
		},
		{
			name:    "subdomain wildcard",
			pattern: "http://*.example.com/path",
			want:    Pattern{Scheme: SchemeHTTP, MatchSubdomains: true, Host: "example.com", Path: "/path"},
		},
		{
			name:    "host wildcard",
			pattern: "wss://*/socket",
			want:    Pattern{Scheme: SchemeWSS, Path: "/socket"},
		},
		{
			name:    "path with wildcard segment",
			pattern: "https://example.com/a/*/b",
			want:    Pattern{Scheme: SchemeHTTPS, Host: "example.com", Path: "/a/*/b"},
		},
		{
			name:    "file without host",
			pattern: "file:///etc/*",
			want:    Pattern{Scheme: SchemeFile, Path: "/etc/*"},
		},
		{
			name:    "data scheme is hostless",
			pattern: "data:text/plain,*",
			want:    Pattern{Scheme: SchemeData, Path: "text/plain,*"},
		},
		{
			name:    "host is lowercased",
			pattern: "https://EXAMPLE.com/X",
			want:    Pattern{Scheme: SchemeHTTPS, Host: "example.com", Path: "/X"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		wantErr error
	}{
		{"no scheme separator", "example.com/", ErrMissingSchemeSeparator},
		{"unknown scheme", "gopher://example.com/", ErrUnsupportedScheme},
		{"missing host locator", "https:example.com/", ErrMissingHostLocator},
		{"missing host", "https:///", ErrMissingHost},
		{"missing host for web wildcard", "*:///x", ErrMissingHost},
		{"subdomain wildcard on host wildcard", "https://*.*/x", ErrConflictingWildcards},
		{"embedded host wildcard", "https://foo*bar.com/", ErrInvalidHost},
		{"wildcard inside subdomain base", "https://*.ex*.com/", ErrInvalidHost},
		{"missing path", "https://example.com", ErrMissingPath},
		{"empty data payload", "data:", ErrMissingPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.pattern)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPatternString(t *testing.T) {
	// String must render the canonical form a parser accepts again.
	for _, pattern := range []string{
		"<all_urls>",
		"https://example.com/",
		"*://*.example.com/*",
		"https://*/path",
		"data:text/plain,*",
	} {
		p, err := Parse(pattern)
		require.NoError(t, err)
		assert.Equal(t, pattern, p.String())

		again, err := Parse(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, again)
	}
}
