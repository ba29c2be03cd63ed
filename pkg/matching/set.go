package matching

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"golang.org/x/net/idna"
)

// anyHostKey is the index key for patterns whose host is the `*` wildcard
// (and for hostless schemes).
const anyHostKey = "*"

// bloomThreshold is the host count above which a bloom prefilter is built to
// cheapen negative suffix lookups on large sets.
const bloomThreshold = 10000

// entry is one compiled (scheme, matchSubdomains) group for a host, holding
// every path under that group. Path is the only axis needing regexp
// evaluation; `/*` paths collapse to the wildcardPath flag.
type entry struct {
	scheme          Scheme
	matchSubdomains bool
	host            string // anyHostKey for the host wildcard
	wildcardPath    bool
	pathRegexp      *regexp.Regexp
}

// Set is a compiled, immutable index over many match patterns supporting fast
// membership testing. Once built it is read-only and safe for concurrent use.
type Set struct {
	matchesAllURLs bool
	byHost         map[string][]*entry
	prefilter      *bloom.BloomFilter
}

// BuildSet compiles a list of match pattern strings into a Set. A single
// malformed pattern fails the whole build; nothing is inserted for it.
func BuildSet(patterns []string) (*Set, error) {
	type groupKey struct {
		scheme          Scheme
		matchSubdomains bool
	}
	type group struct {
		wildcardPath bool
		pathSources  []string
	}

	groups := make(map[string]map[groupKey]*group)
	matchesAll := false

	for _, raw := range patterns {
		p, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("building pattern set: %w", err)
		}
		if p.AllURLs {
			matchesAll = true
			continue
		}

		hostKey := p.Host
		if hostKey == "" {
			hostKey = anyHostKey
		}

		k := groupKey{scheme: p.Scheme, matchSubdomains: p.MatchSubdomains}
		byKey, ok := groups[hostKey]
		if !ok {
			byKey = make(map[groupKey]*group)
			groups[hostKey] = byKey
		}
		g, ok := byKey[k]
		if !ok {
			g = &group{}
			byKey[k] = g
		}

		if p.Path == "/*" {
			g.wildcardPath = true
		} else {
			g.pathSources = append(g.pathSources, wildcardToRegexp(p.Path))
		}
	}

	s := &Set{
		matchesAllURLs: matchesAll,
		byHost:         make(map[string][]*entry, len(groups)),
	}

	for hostKey, byKey := range groups {
		for k, g := range byKey {
			e := &entry{
				scheme:          k.scheme,
				matchSubdomains: k.matchSubdomains,
				host:            hostKey,
				wildcardPath:    g.wildcardPath,
			}
			if len(g.pathSources) > 0 {
				re, err := regexp.Compile(combinePathSources(g.pathSources))
				if err != nil {
					return nil, fmt.Errorf("compiling path matcher for host %q: %w", hostKey, err)
				}
				e.pathRegexp = re
			}
			s.byHost[hostKey] = append(s.byHost[hostKey], e)
		}
	}

	s.buildPrefilter()
	return s, nil
}

func (s *Set) buildPrefilter() {
	if len(s.byHost) < bloomThreshold {
		return
	}
	bf := bloom.NewWithEstimates(uint(len(s.byHost))*4, 1e-4)
	for host := range s.byHost {
		bf.AddString(host)
	}
	s.prefilter = bf
}

// Matches reports whether the URL matches any pattern in the set. The URL is
// parsed once; its host is walked by progressively shorter right-anchored
// label suffixes against the host index, so cost is bounded by label count
// rather than pattern count. Malformed URLs never match.
func (s *Set) Matches(rawURL string) bool {
	u, ok := splitURL(rawURL)
	if !ok {
		return false
	}

	if s.matchesAllURLs {
		if _, ok := allURLSchemes[u.scheme]; ok {
			return true
		}
	}

	// Walk host suffixes: a.b.c, b.c, c.
	for suffix := u.host; suffix != ""; {
		if s.prefilter == nil || s.prefilter.TestString(suffix) {
			if s.matchBucket(s.byHost[suffix], u) {
				return true
			}
		}
		i := strings.IndexByte(suffix, '.')
		if i < 0 {
			break
		}
		suffix = suffix[i+1:]
	}

	return s.matchBucket(s.byHost[anyHostKey], u)
}

func (s *Set) matchBucket(entries []*entry, u parsedURL) bool {
	for _, e := range entries {
		if !e.schemeMatches(u.scheme) {
			continue
		}
		if !e.hostMatches(u.host) {
			continue
		}
		if e.wildcardPath || (e.pathRegexp != nil && e.pathRegexp.MatchString(u.path)) {
			return true
		}
	}
	return false
}

func (e *entry) schemeMatches(urlScheme string) bool {
	if e.scheme == SchemeAnyWeb {
		_, ok := webSchemes[urlScheme]
		return ok
	}
	return e.scheme.String() == urlScheme
}

func (e *entry) hostMatches(urlHost string) bool {
	if e.host == anyHostKey {
		return true
	}
	if e.host == urlHost {
		return true
	}
	return e.matchSubdomains && strings.HasSuffix(urlHost, "."+e.host)
}

// parsedURL is the minimal URL decomposition the matcher needs.
type parsedURL struct {
	scheme string
	host   string
	path   string
}

// splitURL decomposes a URL for matching. The path of a URL with no path
// component is treated as "/", so the literal "/" pattern path covers both.
func splitURL(rawURL string) (parsedURL, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return parsedURL{}, false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		return parsedURL{}, false
	}

	path := u.EscapedPath()
	if u.Opaque != "" {
		// data: and friends carry the payload in the opaque component.
		path = u.Opaque
	} else if path == "" {
		path = "/"
	}

	host := strings.ToLower(u.Hostname())
	if a, err := idna.Lookup.ToASCII(host); err == nil && a != "" {
		host = a
	}

	return parsedURL{scheme: scheme, host: host, path: path}, true
}

// wildcardToRegexp escapes a path literal and expands `*` to `.*`.
func wildcardToRegexp(path string) string {
	return strings.ReplaceAll(regexp.QuoteMeta(path), `\*`, `.*`)
}

func combinePathSources(sources []string) string {
	return "(?i)^(?:" + strings.Join(sources, "|") + ")$"
}
