package enrich

import (
	"net/url"
	"slices"
	"strings"
)

// Schemes whose URLs are meaningless without an authority.
var hostRequired = map[string]bool{
	"http":  true,
	"https": true,
	"ws":    true,
	"wss":   true,
	"ftp":   true,
}

// IsValidURL reports whether input is an absolute URL. When allowedProtocols is not
// empty the URL protocol, written with its trailing colon ("https:"), must be one of them.
func IsValidURL(input string, allowedProtocols ...string) bool {
	u, ok := ParseURL(input)
	if !ok {
		return false
	}
	if len(allowedProtocols) == 0 {
		return true
	}
	return slices.Contains(allowedProtocols, u.Scheme+":")
}

// ParseURL parses an absolute URL the way browsers do for the cases hits contain: a
// host-based scheme written without slashes ("http:example.com") still names a host,
// and opaque URLs ("mailto:a@b") keep their opaque part.
func ParseURL(input string) (*url.URL, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, false
	}
	u, err := url.Parse(input)
	if err != nil || u.Scheme == "" {
		return nil, false
	}
	if !hostRequired[u.Scheme] || u.Host != "" {
		return u, true
	}

	rest := strings.TrimLeft(input[len(u.Scheme)+1:], "/\\")
	if rest == "" {
		return nil, false
	}
	u, err = url.Parse(u.Scheme + "://" + rest)
	if err != nil || u.Host == "" {
		return nil, false
	}
	return u, true
}
