// Package shorteners maintains the set of known URL-shortener domains used by
// the link resolution engine to decide when a network round trip is worth it.
package shorteners

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mozilla-rally/web-science-sub001/pkg/matching"
)

// defaultDomains is the curated list of link-shortening services. Domains
// only; patterns covering the domain and its subdomains are generated from it.
var defaultDomains = []string{
	"adf.ly",
	"amzn.to",
	"bc.vc",
	"bit.do",
	"bit.ly",
	"bitly.com",
	"buff.ly",
	"cutt.ly",
	"db.tt",
	"dlvr.it",
	"fb.me",
	"flic.kr",
	"goo.gl",
	"ht.ly",
	"ift.tt",
	"is.gd",
	"ity.im",
	"j.mp",
	"lc.chat",
	"lnkd.in",
	"mcaf.ee",
	"ow.ly",
	"po.st",
	"q.gs",
	"qr.ae",
	"rb.gy",
	"rebrand.ly",
	"shorte.st",
	"shorturl.at",
	"snip.ly",
	"soo.gd",
	"su.pr",
	"t.co",
	"t.ly",
	"tiny.cc",
	"tinyurl.com",
	"tr.im",
	"trib.al",
	"u.to",
	"v.gd",
	"vzturl.com",
	"w.wiki",
	"x.co",
	"youtu.be",
	"zpr.io",
}

// DefaultDomains returns a copy of the built-in shortener domain list.
func DefaultDomains() []string {
	out := make([]string, len(defaultDomains))
	copy(out, defaultDomains)
	return out
}

// DomainsToPatterns generates match patterns covering each domain and all of
// its subdomains under any web scheme.
func DomainsToPatterns(domains []string) []string {
	patterns := make([]string, 0, len(domains)*2)
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		patterns = append(patterns,
			fmt.Sprintf("*://%s/*", d),
			fmt.Sprintf("*://*.%s/*", d),
		)
	}
	return patterns
}

// BuildSet compiles a shortener domain list into a pattern set.
func BuildSet(domains []string) (*matching.Set, error) {
	return matching.BuildSet(DomainsToPatterns(domains))
}

// mergeDomains deduplicates and sorts domain lists.
func mergeDomains(lists ...[]string) []string {
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, d := range list {
			d = strings.ToLower(strings.TrimSpace(d))
			if d == "" {
				continue
			}
			seen[d] = struct{}{}
		}
	}
	merged := make([]string, 0, len(seen))
	for d := range seen {
		merged = append(merged, d)
	}
	sort.Strings(merged)
	return merged
}
