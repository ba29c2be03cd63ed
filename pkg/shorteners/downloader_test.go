package shorteners

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-rally/web-science-sub001/pkg/logging"
)

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("bit.ly\n# comment\ntiny.one\n"))
	}))
	defer srv.Close()

	d := NewDownloader(logging.NewDefault(), srv.Client())
	domains, err := d.Download(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{"bit.ly", "tiny.one"}, domains)
}

func TestDownloadBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDownloader(logging.NewDefault(), srv.Client())
	_, err := d.Download(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status code")
}

func TestDownloadAllSkipsFailures(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("sho.rt\n"))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer bad.Close()

	d := NewDownloader(logging.NewDefault(), good.Client())
	merged := d.DownloadAll(context.Background(), []string{bad.URL, good.URL})
	assert.Equal(t, []string{"sho.rt"}, merged)
}
