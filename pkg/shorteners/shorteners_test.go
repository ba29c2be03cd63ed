package shorteners

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDomainsIsACopy(t *testing.T) {
	a := DefaultDomains()
	require.NotEmpty(t, a)

	a[0] = "mutated.example"
	b := DefaultDomains()
	assert.NotEqual(t, "mutated.example", b[0])
}

func TestDomainsToPatterns(t *testing.T) {
	patterns := DomainsToPatterns([]string{"bit.ly", " T.CO ", ""})
	assert.Equal(t, []string{
		"*://bit.ly/*",
		"*://*.bit.ly/*",
		"*://t.co/*",
		"*://*.t.co/*",
	}, patterns)
}

func TestBuildSet(t *testing.T) {
	set, err := BuildSet([]string{"bit.ly"})
	require.NoError(t, err)

	assert.True(t, set.Matches("https://bit.ly/3xyz"))
	assert.True(t, set.Matches("http://www.bit.ly/3xyz"))
	assert.False(t, set.Matches("https://example.com/bit.ly"))
}

func TestBuildSetDefaults(t *testing.T) {
	set, err := BuildSet(DefaultDomains())
	require.NoError(t, err)

	for _, u := range []string{
		"https://bit.ly/abc",
		"https://t.co/abc",
		"https://tinyurl.com/abc",
		"https://youtu.be/dQw4w9WgXcQ",
	} {
		assert.True(t, set.Matches(u), u)
	}
	assert.False(t, set.Matches("https://news.example.com/story"))
}

func TestMergeDomains(t *testing.T) {
	merged := mergeDomains(
		[]string{"bit.ly", "T.CO"},
		[]string{"t.co", "is.gd", ""},
		nil,
	)
	assert.Equal(t, []string{"bit.ly", "is.gd", "t.co"}, merged)
}

func TestParseDomainList(t *testing.T) {
	input := strings.NewReader(`# comment line
bit.ly

0.0.0.0 tiny.one
127.0.0.1 localhost
IS.GD
`)
	domains, err := parseDomainList(input)
	require.NoError(t, err)
	assert.Equal(t, []string{"bit.ly", "tiny.one", "is.gd"}, domains)
}
