// Package authority extracts hosts from URIs and reduces them to the
// registrable domain label used for same-site comparisons.
package authority

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// RobotsFile is the reserved exclusions resource that is always fetched.
const RobotsFile = "robots.txt"

// Host returns the lowercase host of uri without port. When uri cannot be
// parsed but looks like http(s), the host is recovered from the raw string.
// It returns "" when no host can be found.
func Host(uri string) string {
	u, err := url.Parse(uri)
	if err == nil {
		return strings.ToLower(u.Hostname())
	}
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		parts := strings.Split(uri, "/")
		if len(parts) > 2 {
			host := parts[2]
			if h, _, splitErr := net.SplitHostPort(host); splitErr == nil {
				host = h
			}
			return strings.ToLower(host)
		}
	}
	return ""
}

// RegistrableDomain returns the registrable label of host: the effective
// TLD+1 with the public suffix removed ("www.example.co.uk" -> "example").
// Hosts that are themselves public suffixes, and IP literals, are returned
// unchanged.
func RegistrableDomain(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return ""
	}
	if net.ParseIP(strings.Trim(host, "[]")) != nil {
		return host
	}
	etldPlusOne, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	suffix, _ := publicsuffix.PublicSuffix(host)
	return strings.TrimSuffix(etldPlusOne, "."+suffix)
}

// Domain is RegistrableDomain(Host(uri)). It returns "" for URIs without a
// host, such as dns: placeholders.
func Domain(uri string) string {
	host := Host(uri)
	if host == "" {
		return ""
	}
	return RegistrableDomain(host)
}

// SameDomain reports whether both URIs share a registrable domain.
func SameDomain(a, b string) bool {
	return Domain(a) == Domain(b)
}

// TrimTrailingSlashes removes every trailing '/' from uri.
func TrimTrailingSlashes(uri string) string {
	return strings.TrimRight(uri, "/")
}

// LastSegment returns what follows the last '/' of uri after trailing
// slashes were trimmed.
func LastSegment(uri string) string {
	trimmed := TrimTrailingSlashes(uri)
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return ""
	}
	return trimmed[idx+1:]
}

// IsInfrastructure reports whether uri is bookkeeping the crawler must always
// fetch: the robots exclusions file or a dns: placeholder.
func IsInfrastructure(uri string) bool {
	trimmed := TrimTrailingSlashes(uri)
	return LastSegment(trimmed) == RobotsFile || strings.HasPrefix(trimmed, "dns:")
}

// IsHTTP reports whether uri uses the http or https scheme.
func IsHTTP(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}

// ClassKey returns the work-queue class key for uri: its lowercase host,
// or "-" for URIs without one.
func ClassKey(uri string) string {
	if host := Host(uri); host != "" {
		return host
	}
	return "-"
}
