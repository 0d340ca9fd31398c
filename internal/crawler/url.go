package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL builds the canonical key the host harness uses for a link.
// It lowercases the scheme and host, removes default ports, sorts query
// parameters and drops fragments.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	return u.String(), nil
}
