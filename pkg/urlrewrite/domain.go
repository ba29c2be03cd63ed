package urlrewrite

import (
	"net/url"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// RegistrableDomain returns the public-suffix-plus-one of a URL's host
// (e.g. sub.example.co.uk -> example.co.uk), or the empty string when the URL
// has no derivable registrable domain (IP literals, bare suffixes, garbage).
func RegistrableDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return ""
	}
	if puny, err := idna.Lookup.ToASCII(host); err == nil && puny != "" {
		host = puny
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	return etld1
}

// SameSite reports whether two URLs share a registrable domain. Used for
// self-link suppression: a link pointing back into its own site is not an
// outbound exposure.
func SameSite(a, b string) bool {
	da := RegistrableDomain(a)
	if da == "" {
		return false
	}
	return da == RegistrableDomain(b)
}
