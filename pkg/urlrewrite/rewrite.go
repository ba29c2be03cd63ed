// Package urlrewrite provides stateless URL rewriters that unwrap known URL
// transformations: content-cache and viewer wrapping, the Facebook link shim,
// and link-decoration tracking parameters. Every rewriter is idempotent and
// returns its input unchanged when it does not apply.
package urlrewrite

import (
	"net/url"
	"regexp"
	"strings"
)

// Content caches serve a page under their own origin with the underlying URL
// encoded in the path; viewers proxy a page under a fixed domain-plus-path
// prefix.
var (
	cacheDomains         = []string{"amp.cloudflare.com", "bing-amp.com", "cdn.ampproject.org"}
	viewerDomainsAndPaths = []string{"www.google.com/amp", "google.com/amp"}
)

var cacheViewerRegexp = buildCacheViewerRegexp()

func buildCacheViewerRegexp() *regexp.Regexp {
	quote := func(values []string) string {
		quoted := make([]string, len(values))
		for i, v := range values {
			quoted[i] = regexp.QuoteMeta(v)
		}
		return strings.Join(quoted, "|")
	}

	// Cache-style: scheme://[subdomain.]cacheDomain/{c|i|r}/[s/]url
	cache := `(?P<cacheScheme>https?)://(?:[a-z0-9-]+(?:\.[a-z0-9-]+)*\.)?(?P<cacheDomain>` +
		quote(cacheDomains) + `)/(?P<cacheContentType>c|i|r)/(?P<cacheSecure>s/)?(?P<cacheURL>.+)`

	// Viewer-style: scheme://viewerDomainAndPath/[s/]url
	viewer := `(?P<viewerScheme>https?)://(?P<viewerDomainAndPath>` +
		quote(viewerDomainsAndPaths) + `)/(?P<viewerSecure>s/)?(?P<viewerURL>.+)`

	return regexp.MustCompile(`(?i)^(?:` + cache + `|` + viewer + `)$`)
}

// UnwrapCache reconstructs the underlying URL of a content-cache or
// content-viewer URL. Cache-style URLs carry the underlying scheme in the
// `s/` marker (https when present, http otherwise); viewer-style URLs default
// to https.
func UnwrapCache(rawURL string) string {
	m := cacheViewerRegexp.FindStringSubmatch(rawURL)
	if m == nil {
		return rawURL
	}
	groups := cacheViewerRegexp.SubexpNames()

	var cacheSecure, cacheURL, viewerURL string
	for i, name := range groups {
		switch name {
		case "cacheSecure":
			cacheSecure = m[i]
		case "cacheURL":
			cacheURL = m[i]
		case "viewerURL":
			viewerURL = m[i]
		}
	}

	switch {
	case cacheURL != "":
		scheme := "http"
		if cacheSecure != "" {
			scheme = "https"
		}
		return scheme + "://" + cacheURL
	case viewerURL != "":
		return "https://" + viewerURL
	default:
		return rawURL
	}
}

// Link shim hosts redirect through a wrapper page carrying the destination in
// the `u` query parameter.
var shimHosts = map[string]struct{}{
	"l.facebook.com":  {},
	"lm.facebook.com": {},
}

const shimPath = "/l.php"

// UnwrapShim extracts the destination URL from a link-redirector wrapper.
// URLs that are not a shim, or shims without a destination parameter, pass
// through unchanged.
func UnwrapShim(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if _, ok := shimHosts[strings.ToLower(u.Hostname())]; !ok {
		return rawURL
	}
	if u.EscapedPath() != shimPath {
		return rawURL
	}
	dest := u.Query().Get("u")
	if dest == "" {
		return rawURL
	}
	return dest
}

// decorationParam is the click-identifier parameter appended to shared links.
const decorationParam = "fbclid"

// StripDecoration removes the known tracking parameter from a URL's query
// string, leaving every other parameter in place.
func StripDecoration(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if !q.Has(decorationParam) {
		return rawURL
	}
	q.Del(decorationParam)
	u.RawQuery = q.Encode()
	return u.String()
}
