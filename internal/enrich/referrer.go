package enrich

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/Wuchinator/litetics/internal/refdata"
)

const (
	MediumInternal = "internal"
	MediumSearch   = "search"
)

// Referrer is the classification of a referring URL.
type Referrer struct {
	Host            string  `json:"host"`
	Path            string  `json:"path"`
	QueryString     *string `json:"queryString"`
	Known           bool    `json:"known"`
	Medium          *string `json:"medium"`
	Name            *string `json:"name"`
	SearchParameter *string `json:"searchParameter"`
	SearchTerm      *string `json:"searchTerm"`
}

type referrerSource struct {
	medium     string
	name       string
	domains    []string
	parameters map[string]struct{}
}

// ReferrerClassifier resolves referrer hostnames against the referrer table.
// It is immutable and safe for concurrent use.
type ReferrerClassifier struct {
	sources []referrerSource
	exact   map[string]int
}

func NewReferrerClassifier(tables *refdata.Tables) *ReferrerClassifier {
	c := &ReferrerClassifier{exact: make(map[string]int)}
	for _, m := range tables.Referrers {
		for _, s := range m.Sources {
			src := referrerSource{medium: m.Medium, name: s.Name, domains: s.Domains}
			if len(s.Parameters) > 0 {
				src.parameters = make(map[string]struct{}, len(s.Parameters))
				for _, p := range s.Parameters {
					src.parameters[p] = struct{}{}
				}
			}
			c.sources = append(c.sources, src)
			idx := len(c.sources) - 1
			for _, d := range s.Domains {
				if _, seen := c.exact[d]; !seen {
					c.exact[d] = idx
				}
			}
		}
	}
	return c
}

// Parse classifies referrerURL. When currentURL is not empty and shares the referrer's
// hostname the referrer is reported as internal. Callers are expected to validate
// referrerURL first; a parse failure is returned as an error.
func (c *ReferrerClassifier) Parse(referrerURL, currentURL string) (*Referrer, error) {
	u, ok := ParseURL(referrerURL)
	if !ok {
		return nil, fmt.Errorf("failed to parse referrer %q", referrerURL)
	}

	ref := &Referrer{
		Host:        strings.ToLower(u.Host),
		Path:        escapedPath(u),
		QueryString: nullable(u.RawQuery),
	}
	hostname := strings.ToLower(u.Hostname())

	if currentURL != "" {
		current, ok := ParseURL(currentURL)
		if !ok {
			return nil, fmt.Errorf("failed to parse current url %q", currentURL)
		}
		if strings.ToLower(current.Hostname()) == hostname {
			medium := MediumInternal
			ref.Known = true
			ref.Medium = &medium
			return ref, nil
		}
	}

	src, ok := c.lookup(hostname)
	if !ok {
		return ref, nil
	}

	ref.Known = true
	ref.Medium = &src.medium
	ref.Name = &src.name

	if src.medium == MediumSearch && src.parameters != nil {
		for _, kv := range queryPairs(u.RawQuery) {
			if _, ok := src.parameters[strings.ToLower(kv.key)]; ok {
				// keep scanning: the last matching parameter wins
				ref.SearchParameter = &kv.key
				ref.SearchTerm = &kv.value
			}
		}
	}
	return ref, nil
}

func (c *ReferrerClassifier) lookup(hostname string) (referrerSource, bool) {
	if idx, ok := c.exact[hostname]; ok {
		return c.sources[idx], true
	}
	for _, s := range c.sources {
		for _, d := range s.domains {
			if strings.HasSuffix(hostname, d) {
				return s, true
			}
		}
	}
	return referrerSource{}, false
}

type queryPair struct {
	key   string
	value string
}

// queryPairs decodes a raw query string keeping parameter order, which url.Values loses.
func queryPairs(rawQuery string) []queryPair {
	var pairs []queryPair
	for rawQuery != "" {
		var part string
		part, rawQuery, _ = strings.Cut(rawQuery, "&")
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			continue
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			continue
		}
		pairs = append(pairs, queryPair{key: key, value: value})
	}
	return pairs
}

var defaultReferrerClassifier = sync.OnceValue(func() *ReferrerClassifier {
	return NewReferrerClassifier(refdata.Default())
})

// ParseReferrer classifies referrerURL against the embedded tables.
func ParseReferrer(referrerURL, currentURL string) (*Referrer, error) {
	return defaultReferrerClassifier().Parse(referrerURL, currentURL)
}

func escapedPath(u *url.URL) string {
	if p := u.EscapedPath(); p != "" {
		return p
	}
	return "/"
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
