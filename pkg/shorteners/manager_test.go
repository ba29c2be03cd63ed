package shorteners

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-rally/web-science-sub001/pkg/config"
	"github.com/mozilla-rally/web-science-sub001/pkg/logging"
)

func TestNewManagerBuiltins(t *testing.T) {
	m, err := NewManager(&config.ShortenersConfig{}, logging.NewDefault(), nil, nil)
	require.NoError(t, err)

	assert.Contains(t, m.Domains(), "bit.ly")
	assert.True(t, m.Set().Matches("https://bit.ly/abc"))
}

func TestNewManagerExtraDomains(t *testing.T) {
	m, err := NewManager(&config.ShortenersConfig{
		ExtraDomains: []string{"corp.link"},
	}, logging.NewDefault(), nil, nil)
	require.NoError(t, err)

	assert.Contains(t, m.Domains(), "corp.link")
	assert.True(t, m.Set().Matches("https://corp.link/abc"))
	// Builtins still apply alongside extras.
	assert.True(t, m.Set().Matches("https://t.co/abc"))
}

func TestNewManagerDisableBuiltins(t *testing.T) {
	m, err := NewManager(&config.ShortenersConfig{
		DisableBuiltins: true,
		ExtraDomains:    []string{"corp.link"},
	}, logging.NewDefault(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"corp.link"}, m.Domains())
	assert.False(t, m.Set().Matches("https://bit.ly/abc"))
}

func TestManagerUpdateMergesRemoteList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# remote list\nremote.link\nsho.rt\n"))
	}))
	defer srv.Close()

	m, err := NewManager(&config.ShortenersConfig{
		DisableBuiltins: true,
		ListURLs:        []string{srv.URL},
	}, logging.NewDefault(), nil, srv.Client())
	require.NoError(t, err)

	// Remote lists only apply after an update.
	assert.Empty(t, m.Domains())

	require.NoError(t, m.Update(context.Background()))
	assert.Equal(t, []string{"remote.link", "sho.rt"}, m.Domains())
	assert.True(t, m.Set().Matches("https://remote.link/x"))
}

func TestManagerUpdateKeepsSetOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	m, err := NewManager(&config.ShortenersConfig{
		ListURLs: []string{srv.URL},
	}, logging.NewDefault(), nil, srv.Client())
	require.NoError(t, err)

	before := len(m.Domains())
	require.NoError(t, m.Update(context.Background()))

	// A failing list is skipped; the builtin set stays intact.
	assert.Equal(t, before, len(m.Domains()))
	assert.True(t, m.Set().Matches("https://bit.ly/abc"))
}

func TestManagerStartStop(t *testing.T) {
	m, err := NewManager(&config.ShortenersConfig{
		AutoUpdate:     true,
		UpdateInterval: time.Hour,
	}, logging.NewDefault(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	// Second start is a no-op.
	require.NoError(t, m.Start(context.Background()))

	m.Stop()
	// Stop is idempotent.
	m.Stop()
}
