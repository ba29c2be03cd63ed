package matching

import (
	"fmt"
	"regexp"
)

// SetData is the plain serializable form of a Set. A Set exported on one side
// of a process boundary and imported on the other reproduces bit-identical
// Matches behavior without re-parsing the original pattern strings.
type SetData struct {
	MatchesAllURLs bool                   `json:"matches_all_urls" yaml:"matches_all_urls"`
	PatternsByHost map[string][]EntryData `json:"patterns_by_host" yaml:"patterns_by_host"`
}

// EntryData is one compiled pattern group in a SetData.
type EntryData struct {
	Scheme          string `json:"scheme" yaml:"scheme"`
	MatchSubdomains bool   `json:"match_subdomains" yaml:"match_subdomains"`
	Host            string `json:"host" yaml:"host"`
	WildcardPath    bool   `json:"wildcard_path,omitempty" yaml:"wildcard_path,omitempty"`
	PathRegex       string `json:"path_regex,omitempty" yaml:"path_regex,omitempty"`
}

// Export returns the serializable form of the set.
func (s *Set) Export() SetData {
	data := SetData{
		MatchesAllURLs: s.matchesAllURLs,
		PatternsByHost: make(map[string][]EntryData, len(s.byHost)),
	}
	for host, entries := range s.byHost {
		out := make([]EntryData, 0, len(entries))
		for _, e := range entries {
			d := EntryData{
				Scheme:          e.scheme.String(),
				MatchSubdomains: e.matchSubdomains,
				Host:            e.host,
				WildcardPath:    e.wildcardPath,
			}
			if e.pathRegexp != nil {
				d.PathRegex = e.pathRegexp.String()
			}
			out = append(out, d)
		}
		data.PatternsByHost[host] = out
	}
	return data
}

// ImportSet reconstructs a Set from its serialized form.
func ImportSet(data SetData) (*Set, error) {
	s := &Set{
		matchesAllURLs: data.MatchesAllURLs,
		byHost:         make(map[string][]*entry, len(data.PatternsByHost)),
	}

	for host, entries := range data.PatternsByHost {
		for _, d := range entries {
			scheme, ok := schemeFromString(d.Scheme)
			if !ok {
				return nil, fmt.Errorf("importing pattern set: %w: %q", ErrUnsupportedScheme, d.Scheme)
			}
			e := &entry{
				scheme:          scheme,
				matchSubdomains: d.MatchSubdomains,
				host:            d.Host,
				wildcardPath:    d.WildcardPath,
			}
			if d.PathRegex != "" {
				re, err := regexp.Compile(d.PathRegex)
				if err != nil {
					return nil, fmt.Errorf("importing path matcher for host %q: %w", host, err)
				}
				e.pathRegexp = re
			}
			s.byHost[host] = append(s.byHost[host], e)
		}
	}

	s.buildPrefilter()
	return s, nil
}
