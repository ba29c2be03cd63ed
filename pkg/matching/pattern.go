// Package matching implements the URL match pattern grammar used across the
// toolkit: `<scheme>://<host><path>` with a fixed scheme set, optional
// subdomain wildcard on the host, and `*` wildcards in the path, plus the
// special `<all_urls>` token.
package matching

import (
	"errors"
	"fmt"
	"strings"
)

// Parse errors. Each malformed pattern is rejected with a distinct sentinel
// wrapped with the offending pattern string; patterns are never silently
// coerced or dropped.
var (
	ErrMissingSchemeSeparator = errors.New("missing scheme separator")
	ErrUnsupportedScheme      = errors.New("unsupported scheme")
	ErrMissingHostLocator     = errors.New("missing host locator //")
	ErrMissingHost            = errors.New("missing host")
	ErrInvalidHost            = errors.New("invalid host")
	ErrConflictingWildcards   = errors.New("subdomain wildcard on host wildcard")
	ErrMissingPath            = errors.New("missing path")
)

// AllURLs is the pattern token matching every URL with a supported scheme.
const AllURLs = "<all_urls>"

// Scheme identifies one scheme accepted by the pattern grammar.
type Scheme int

const (
	// SchemeAnyWeb is the `*` scheme wildcard; it matches http, https, ws and wss.
	SchemeAnyWeb Scheme = iota
	SchemeHTTP
	SchemeHTTPS
	SchemeWS
	SchemeWSS
	SchemeFile
	SchemeFTP
	SchemeData
)

// String returns the scheme as it appears in a pattern string.
func (s Scheme) String() string {
	switch s {
	case SchemeAnyWeb:
		return "*"
	case SchemeHTTP:
		return "http"
	case SchemeHTTPS:
		return "https"
	case SchemeWS:
		return "ws"
	case SchemeWSS:
		return "wss"
	case SchemeFile:
		return "file"
	case SchemeFTP:
		return "ftp"
	case SchemeData:
		return "data"
	default:
		return "unknown"
	}
}

func schemeFromString(s string) (Scheme, bool) {
	switch s {
	case "*":
		return SchemeAnyWeb, true
	case "http":
		return SchemeHTTP, true
	case "https":
		return SchemeHTTPS, true
	case "ws":
		return SchemeWS, true
	case "wss":
		return SchemeWSS, true
	case "file":
		return SchemeFile, true
	case "ftp":
		return SchemeFTP, true
	case "data":
		return SchemeData, true
	default:
		return 0, false
	}
}

// webSchemes are the URL schemes matched by the `*` scheme wildcard.
var webSchemes = map[string]struct{}{
	"http": {}, "https": {}, "ws": {}, "wss": {},
}

// allURLSchemes are the URL schemes matched by the `<all_urls>` token.
var allURLSchemes = map[string]struct{}{
	"http": {}, "https": {}, "ws": {}, "wss": {},
	"ftp": {}, "file": {}, "data": {},
}

// hostless schemes take no `//<host>` component after the scheme separator.
func schemeIsHostless(s Scheme) bool {
	return s == SchemeData
}

// hostRequired schemes must carry a non-empty host; file may omit it.
func schemeRequiresHost(s Scheme) bool {
	switch s {
	case SchemeAnyWeb, SchemeHTTP, SchemeHTTPS, SchemeWS, SchemeWSS, SchemeFTP:
		return true
	default:
		return false
	}
}

// Pattern is the immutable result of parsing one match pattern string.
type Pattern struct {
	// AllURLs is set for the `<all_urls>` token; all other fields are zero.
	AllURLs bool

	Scheme Scheme

	// MatchSubdomains is set for `*.<domain>` hosts; the pattern then matches
	// the domain itself and every subdomain of it.
	MatchSubdomains bool

	// Host is the literal host, or empty for the `*` host wildcard and for
	// hostless schemes.
	Host string

	// Path is the raw path component, which may contain `*` wildcards.
	Path string
}

// Parse parses one match pattern string. Parsing is total but fallible:
// every input yields exactly one Pattern or one error.
func Parse(pattern string) (Pattern, error) {
	if pattern == AllURLs {
		return Pattern{AllURLs: true}, nil
	}

	sep := strings.Index(pattern, ":")
	if sep < 0 {
		return Pattern{}, fmt.Errorf("%w: %q", ErrMissingSchemeSeparator, pattern)
	}

	scheme, ok := schemeFromString(strings.ToLower(pattern[:sep]))
	if !ok {
		return Pattern{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, pattern)
	}

	rest := pattern[sep+1:]

	if schemeIsHostless(scheme) {
		if rest == "" {
			return Pattern{}, fmt.Errorf("%w: %q", ErrMissingPath, pattern)
		}
		return Pattern{Scheme: scheme, Path: rest}, nil
	}

	if !strings.HasPrefix(rest, "//") {
		return Pattern{}, fmt.Errorf("%w: %q", ErrMissingHostLocator, pattern)
	}
	rest = rest[2:]

	hostEnd := strings.IndexByte(rest, '/')
	if hostEnd < 0 {
		return Pattern{}, fmt.Errorf("%w: %q", ErrMissingPath, pattern)
	}
	host, path := strings.ToLower(rest[:hostEnd]), rest[hostEnd:]

	p := Pattern{Scheme: scheme, Path: path}

	switch {
	case host == "*":
		// any host; p.Host stays empty
	case strings.HasPrefix(host, "*."):
		base := host[2:]
		if base == "*" {
			return Pattern{}, fmt.Errorf("%w: %q", ErrConflictingWildcards, pattern)
		}
		if base == "" || strings.Contains(base, "*") {
			return Pattern{}, fmt.Errorf("%w: %q", ErrInvalidHost, pattern)
		}
		p.MatchSubdomains = true
		p.Host = base
	case host == "":
		if schemeRequiresHost(scheme) {
			return Pattern{}, fmt.Errorf("%w: %q", ErrMissingHost, pattern)
		}
	case strings.Contains(host, "*"):
		return Pattern{}, fmt.Errorf("%w: %q", ErrInvalidHost, pattern)
	default:
		p.Host = host
	}

	return p, nil
}

// String renders the pattern back to its canonical string form.
func (p Pattern) String() string {
	if p.AllURLs {
		return AllURLs
	}
	if schemeIsHostless(p.Scheme) {
		return p.Scheme.String() + ":" + p.Path
	}
	host := p.Host
	switch {
	case p.MatchSubdomains:
		host = "*." + host
	case host == "":
		host = "*"
	}
	return p.Scheme.String() + "://" + host + p.Path
}
