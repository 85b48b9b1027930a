package policy

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// Private, loopback, link-local, and unique-local ranges denied when
// BlockPrivateRanges is set.
var privateNetworks = mustParsePrefixes(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParsePrefixes(cidrs ...string) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		prefixes = append(prefixes, netip.MustParsePrefix(c))
	}
	return prefixes
}

// ExtractHostname returns the hostname from a URL, or "" if unparseable.
func ExtractHostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// IsDomainAllowed checks a URL's host against an allowlist. An empty list
// allows everything. A host matches an entry exactly or as a sub-domain.
func IsDomainAllowed(rawURL string, allowedDomains []string) bool {
	if len(allowedDomains) == 0 {
		return true
	}
	hostname := ExtractHostname(rawURL)
	if hostname == "" {
		return false
	}
	for _, pattern := range allowedDomains {
		if hostname == pattern || strings.HasSuffix(hostname, "."+pattern) {
			return true
		}
	}
	return false
}

// lookupHost is swappable in tests to avoid real DNS.
var lookupHost = net.LookupHost

// ResolvesToPrivate resolves hostname and reports whether any address falls
// in a private range. Unresolvable hostnames are treated as non-private so a
// DNS outage doesn't flip every request to denied.
func ResolvesToPrivate(hostname string) bool {
	// A literal IP skips DNS entirely.
	if addr, err := netip.ParseAddr(hostname); err == nil {
		return addrIsPrivate(addr)
	}
	addrs, err := lookupHost(hostname)
	if err != nil {
		slog.Warn("could not resolve hostname", "host", hostname, "error", err)
		return false
	}
	for _, a := range addrs {
		addr, err := netip.ParseAddr(a)
		if err != nil {
			continue
		}
		if addrIsPrivate(addr) {
			slog.Warn("domain resolves to private address", "host", hostname, "addr", a)
			return true
		}
	}
	return false
}

func addrIsPrivate(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, net := range privateNetworks {
		if net.Contains(addr) {
			return true
		}
	}
	return false
}

// CheckURL returns a denial reason, or "" if the URL passes the domain
// allowlist and private-range checks.
func CheckURL(rawURL string, allowedDomains []string, blockPrivate bool) string {
	hostname := ExtractHostname(rawURL)
	if hostname == "" {
		return fmt.Sprintf("unparseable URL: %s", rawURL)
	}
	if !IsDomainAllowed(rawURL, allowedDomains) {
		return fmt.Sprintf("domain %q not in allowlist", hostname)
	}
	if blockPrivate && ResolvesToPrivate(hostname) {
		return fmt.Sprintf("domain %q resolves to private/loopback address", hostname)
	}
	return ""
}
