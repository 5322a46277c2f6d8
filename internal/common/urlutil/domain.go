// Package urlutil holds small URL and network helpers shared by the crawler
// and the fetch drivers.
package urlutil

import (
	"net/url"
	"strings"
)

// ExtractHost extracts and lowercases the host from a URL string.
// Returns empty string if URL is invalid or has no host.
func ExtractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Host)
}

// ExtractHostname extracts the hostname from a host string, removing the
// port if present. Input is a host string (NOT a full URL), e.g.
// "example.com:8080". Handles IPv6 addresses correctly - does not strip the
// port portion of an IPv6 literal.
func ExtractHostname(host string) string {
	// Bracketed IPv6 addresses: [::1]:8080 or [::1]
	if strings.HasPrefix(host, "[") {
		if bracketIdx := strings.Index(host, "]"); bracketIdx != -1 {
			return host[:bracketIdx+1]
		}
		return host
	}
	// Only strip a port when there is exactly one colon, so bare IPv6
	// addresses like ::1 survive.
	if idx := strings.LastIndex(host, ":"); idx != -1 && strings.Count(host, ":") == 1 {
		return host[:idx]
	}
	return host
}

// IsSameOrigin returns true if hosts are the same domain or one is a
// subdomain of the other. Strips ports before comparison. Both hosts should
// already be lowercased.
func IsSameOrigin(baseHost, requestHost string) bool {
	if baseHost == "" || requestHost == "" {
		return false
	}

	base := ExtractHostname(baseHost)
	req := ExtractHostname(requestHost)

	if base == req {
		return true
	}
	if strings.HasSuffix(req, "."+base) {
		return true
	}
	if strings.HasSuffix(base, "."+req) {
		return true
	}
	return false
}

// SameOriginURLs reports whether two full URLs share an origin in the
// IsSameOrigin sense. The crawler uses this to keep navigation links on the
// site being harvested.
func SameOriginURLs(baseURL, otherURL string) bool {
	return IsSameOrigin(ExtractHost(baseURL), ExtractHost(otherURL))
}
