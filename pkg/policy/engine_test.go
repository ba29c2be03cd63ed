package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-rally/web-science-sub001/pkg/config"
)

func TestNewEngine(t *testing.T) {
	e, err := NewEngine(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, e.Count())

	matched, rule := e.Evaluate(NewContext("https://example.com/"))
	assert.False(t, matched)
	assert.Nil(t, rule)
}

func TestNewEngineCompileError(t *testing.T) {
	_, err := NewEngine([]config.PolicyRule{
		{Name: "broken", When: "Host =="},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestNewEngineSkipsDisabled(t *testing.T) {
	e, err := NewEngine([]config.PolicyRule{
		{Name: "off", When: "true", Disabled: true},
		{Name: "on", When: "true"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, e.Count())
}

func TestEvaluateFields(t *testing.T) {
	tests := []struct {
		name      string
		when      string
		url       string
		wantMatch bool
	}{
		{
			name:      "host equality",
			when:      `Host == "bit.ly"`,
			url:       "https://bit.ly/abc",
			wantMatch: true,
		},
		{
			name:      "host mismatch",
			when:      `Host == "bit.ly"`,
			url:       "https://example.com/abc",
			wantMatch: false,
		},
		{
			name:      "registrable domain covers subdomains",
			when:      `RegistrableDomain == "example.co.uk"`,
			url:       "https://news.example.co.uk/story",
			wantMatch: true,
		},
		{
			name:      "scheme check",
			when:      `Scheme == "http"`,
			url:       "http://example.com/",
			wantMatch: true,
		},
		{
			name:      "path prefix",
			when:      `Path startsWith "/out/"`,
			url:       "https://forum.example/out/12345",
			wantMatch: true,
		},
		{
			name:      "url substring",
			when:      `Url contains "utm_source"`,
			url:       "https://example.com/page?utm_source=feed",
			wantMatch: true,
		},
		{
			name:      "compound expression",
			when:      `Scheme == "https" && Host endsWith ".example.com"`,
			url:       "https://go.example.com/x",
			wantMatch: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEngine([]config.PolicyRule{
				{Name: tt.name, When: tt.when, RequestMode: config.RequestModeNever},
			})
			require.NoError(t, err)

			matched, rule := e.Evaluate(NewContext(tt.url))
			assert.Equal(t, tt.wantMatch, matched)
			if tt.wantMatch {
				require.NotNil(t, rule)
				assert.Equal(t, tt.name, rule.Name)
				assert.Equal(t, config.RequestModeNever, rule.RequestMode)
			} else {
				assert.Nil(t, rule)
			}
		})
	}
}

func TestEvaluatePriorityOrder(t *testing.T) {
	e, err := NewEngine([]config.PolicyRule{
		{Name: "catch-all", Priority: 0, When: "true", RequestMode: config.RequestModeNever},
		{Name: "shortener override", Priority: 10, When: `Host == "t.co"`, RequestMode: config.RequestModeAlways},
	})
	require.NoError(t, err)

	matched, rule := e.Evaluate(NewContext("https://t.co/abc"))
	require.True(t, matched)
	assert.Equal(t, "shortener override", rule.Name)

	matched, rule = e.Evaluate(NewContext("https://example.com/"))
	require.True(t, matched)
	assert.Equal(t, "catch-all", rule.Name)
}

func TestNewContext(t *testing.T) {
	c := NewContext("https://News.Example.co.uk/Story?x=1")
	assert.Equal(t, "https", c.Scheme)
	assert.Equal(t, "news.example.co.uk", c.Host)
	assert.Equal(t, "/Story", c.Path)
	assert.Equal(t, "example.co.uk", c.RegistrableDomain)

	c = NewContext("::not a url::")
	assert.Equal(t, "::not a url::", c.Url)
	assert.Empty(t, c.Host)
}

func TestReplaceRules(t *testing.T) {
	e, err := NewEngine([]config.PolicyRule{
		{Name: "old rule", When: `Host == "old.example"`, RequestMode: config.RequestModeNever},
	})
	require.NoError(t, err)
	require.Equal(t, 1, e.Count())

	err = e.ReplaceRules([]config.PolicyRule{
		{Name: "new rule", When: `Host == "new.example"`, RequestMode: config.RequestModeAlways},
		{Name: "disabled", When: "true", Disabled: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, e.Count())

	matched, _ := e.Evaluate(NewContext("https://old.example/"))
	assert.False(t, matched)

	matched, rule := e.Evaluate(NewContext("https://new.example/"))
	require.True(t, matched)
	assert.Equal(t, "new rule", rule.Name)
}

func TestReplaceRulesKeepsOldOnError(t *testing.T) {
	e, err := NewEngine([]config.PolicyRule{
		{Name: "keeper", When: `Host == "keep.example"`},
	})
	require.NoError(t, err)

	err = e.ReplaceRules([]config.PolicyRule{
		{Name: "broken", When: `Host ==`},
	})
	require.Error(t, err)

	matched, rule := e.Evaluate(NewContext("https://keep.example/"))
	require.True(t, matched)
	assert.Equal(t, "keeper", rule.Name)
}
