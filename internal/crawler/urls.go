package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// parseBase validates and normalizes the crawl's base URL.
func parseBase(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme must be http or https: %q", ErrInvalidBaseURL, raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host: %q", ErrInvalidBaseURL, raw)
	}
	return normalize(u), nil
}

// normalize strips fragment and query, lowercases scheme and host, drops
// default ports and trims a trailing slash except on the root path.
func normalize(u *url.URL) *url.URL {
	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	n.Host = strings.ToLower(n.Host)
	if (n.Scheme == "http" && n.Port() == "80") || (n.Scheme == "https" && n.Port() == "443") {
		n.Host = n.Hostname()
	}
	n.Fragment = ""
	n.RawFragment = ""
	n.RawQuery = ""
	n.ForceQuery = false
	n.User = nil
	if n.Path == "" {
		n.Path = "/"
	}
	if len(n.Path) > 1 {
		n.Path = strings.TrimRight(n.Path, "/")
		if n.Path == "" {
			n.Path = "/"
		}
	}
	n.RawPath = ""
	return &n
}

// resolve resolves href against base and normalizes the result. It
// returns nil for non-http links.
func resolve(base *url.URL, href string) *url.URL {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil
	}
	return normalize(u)
}

// sameOrigin reports whether a and b share scheme, host and port exactly.
func sameOrigin(a, b *url.URL) bool {
	return a.Scheme == b.Scheme && a.Host == b.Host
}
