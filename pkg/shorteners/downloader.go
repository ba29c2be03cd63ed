package shorteners

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mozilla-rally/web-science-sub001/pkg/logging"
)

// Downloader fetches and parses remote shortener domain lists
type Downloader struct {
	client  *http.Client
	logger  *logging.Logger
	timeout time.Duration
}

// NewDownloader creates a downloader. If client is nil a default HTTP client
// with a 60s timeout is used.
func NewDownloader(logger *logging.Logger, client *http.Client) *Downloader {
	if client == nil {
		client = &http.Client{
			Timeout: 60 * time.Second,
		}
	}
	return &Downloader{
		client:  client,
		logger:  logger,
		timeout: 60 * time.Second,
	}
}

// Download fetches one list URL and returns the domains it contains
func (d *Downloader) Download(ctx context.Context, listURL string) ([]string, error) {
	d.logger.Info("Downloading shortener list", "url", listURL)
	startTime := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download shortener list: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	domains, err := parseDomainList(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse shortener list: %w", err)
	}

	d.logger.Info("Shortener list downloaded",
		"url", listURL,
		"domains", len(domains),
		"duration", time.Since(startTime))

	return domains, nil
}

// DownloadAll fetches multiple lists and merges their domains. A failing list
// is logged and skipped; the others still apply.
func (d *Downloader) DownloadAll(ctx context.Context, listURLs []string) []string {
	var merged []string
	for _, listURL := range listURLs {
		domains, err := d.Download(ctx, listURL)
		if err != nil {
			d.logger.Error("Failed to download shortener list", "url", listURL, "error", err)
			continue
		}
		merged = append(merged, domains...)
	}
	return merged
}

// parseDomainList reads a plain-text domain list. Supports:
// - domain.com (plain list)
// - 0.0.0.0 domain.com (hosts file format)
// - # comments and blank lines
func parseDomainList(r io.Reader) ([]string, error) {
	var domains []string
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		domain := fields[0]
		if len(fields) >= 2 && (strings.Contains(fields[0], ".") || strings.Contains(fields[0], ":")) {
			// Probably "IP domain" hosts format; take the second field.
			domain = fields[1]
		}
		if domain == "localhost" || domain == "" {
			continue
		}
		domains = append(domains, strings.ToLower(domain))
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading shortener list: %w", err)
	}
	return domains, nil
}
