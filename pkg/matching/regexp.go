package matching

import (
	"fmt"
	"regexp"
	"strings"
)

// ToRegexp compiles match patterns into one combined case-insensitive regular
// expression over raw URL strings. It accepts and rejects exactly the same
// pattern strings as Parse, and agrees with Set.Matches on well-formed URLs.
// Use it only where an in-process index cannot be handed over and a single
// portable expression is required.
func ToRegexp(patterns []string) (*regexp.Regexp, error) {
	alternatives := make([]string, 0, len(patterns))
	for _, raw := range patterns {
		p, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("compiling pattern regexp: %w", err)
		}
		alternatives = append(alternatives, patternSource(p))
	}
	if len(alternatives) == 0 {
		// Match nothing rather than everything for an empty input.
		return regexp.Compile(`\b\B`)
	}
	return regexp.Compile("(?i)^(?:" + strings.Join(alternatives, "|") + ")$")
}

func patternSource(p Pattern) string {
	if p.AllURLs {
		return `(?:https?|wss?|ftp|file)://.*|data:.*`
	}
	if schemeIsHostless(p.Scheme) {
		return p.Scheme.String() + ":" + wildcardToRegexp(p.Path)
	}

	var b strings.Builder

	if p.Scheme == SchemeAnyWeb {
		b.WriteString(`(?:https?|wss?)`)
	} else {
		b.WriteString(p.Scheme.String())
	}
	b.WriteString(`://`)

	// URLs may carry userinfo; patterns never do.
	b.WriteString(`(?:[^/@]*@)?`)

	switch {
	case p.MatchSubdomains:
		b.WriteString(`(?:[^./]+\.)*`)
		b.WriteString(regexp.QuoteMeta(p.Host))
	case p.Host == "":
		b.WriteString(`[^/]*`)
	default:
		b.WriteString(regexp.QuoteMeta(p.Host))
	}

	// Patterns never carry a port; URLs may.
	b.WriteString(`(?::\d+)?`)

	switch p.Path {
	case "/":
		b.WriteString(`/?`)
	case "/*":
		b.WriteString(`(?:/.*)?`)
	default:
		b.WriteString(wildcardToRegexp(p.Path))
	}

	// The pattern path never addresses the query or fragment.
	if p.Path != "/*" {
		b.WriteString(`(?:[?#].*)?`)
	}

	return b.String()
}
