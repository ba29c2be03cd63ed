package urlrewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnwrapCache(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "amp cache with secure marker",
			in:   "https://cdn.ampproject.org/c/s/example.com/page",
			want: "https://example.com/page",
		},
		{
			name: "amp cache without secure marker",
			in:   "https://cdn.ampproject.org/c/example.com/page",
			want: "http://example.com/page",
		},
		{
			name: "amp cache on publisher subdomain",
			in:   "https://example-com.cdn.ampproject.org/c/s/example.com/page",
			want: "https://example.com/page",
		},
		{
			name: "image content type",
			in:   "https://cdn.ampproject.org/i/s/example.com/img.png",
			want: "https://example.com/img.png",
		},
		{
			name: "cloudflare cache",
			in:   "https://amp.cloudflare.com/c/s/example.com/x",
			want: "https://example.com/x",
		},
		{
			name: "viewer defaults to https",
			in:   "https://www.google.com/amp/example.com/page",
			want: "https://example.com/page",
		},
		{
			name: "viewer with secure marker",
			in:   "https://www.google.com/amp/s/example.com/page",
			want: "https://example.com/page",
		},
		{
			name: "unrelated url passes through",
			in:   "https://example.com/page",
			want: "https://example.com/page",
		},
		{
			name: "cache domain with unknown path shape passes through",
			in:   "https://cdn.ampproject.org/v0.js",
			want: "https://cdn.ampproject.org/v0.js",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UnwrapCache(tt.in)
			assert.Equal(t, tt.want, got)

			// Idempotence: applying twice equals applying once.
			assert.Equal(t, got, UnwrapCache(got))
		})
	}
}

func TestUnwrapShim(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "facebook shim",
			in:   "https://l.facebook.com/l.php?u=https%3A%2F%2Fexample.com%2Fstory&h=xyz",
			want: "https://example.com/story",
		},
		{
			name: "mobile shim host",
			in:   "https://lm.facebook.com/l.php?u=https%3A%2F%2Fexample.com%2F",
			want: "https://example.com/",
		},
		{
			name: "shim without destination parameter",
			in:   "https://l.facebook.com/l.php?h=xyz",
			want: "https://l.facebook.com/l.php?h=xyz",
		},
		{
			name: "unrelated facebook url",
			in:   "https://www.facebook.com/some/page",
			want: "https://www.facebook.com/some/page",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UnwrapShim(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, UnwrapShim(got))
		})
	}
}

func TestStripDecoration(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "strips tracking parameter",
			in:   "https://example.com/story?fbclid=abc123",
			want: "https://example.com/story",
		},
		{
			name: "keeps other parameters",
			in:   "https://example.com/story?a=1&fbclid=abc123&b=2",
			want: "https://example.com/story?a=1&b=2",
		},
		{
			name: "no decoration",
			in:   "https://example.com/story?a=1",
			want: "https://example.com/story?a=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StripDecoration(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, StripDecoration(got))
		})
	}
}

func TestRegistrableDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://sub.example.co.uk/page", "example.co.uk"},
		{"https://example.com/", "example.com"},
		{"https://a.b.c.example.com/x", "example.com"},
		{"https://localhost/", ""},
		{"not a url at all ::", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RegistrableDomain(tt.in), "url %q", tt.in)
	}
}

func TestSameSite(t *testing.T) {
	assert.True(t, SameSite("https://news.example.com/a", "https://example.com/b"))
	assert.False(t, SameSite("https://example.com/a", "https://other.org/b"))
	assert.False(t, SameSite("https://localhost/a", "https://localhost/b"))
}
