package nostr

import (
	"net"
	"net/url"
	"strings"

	"nostr-feed/internal/util"
)

// NormalizeRelayURL lowercases scheme and host and drops a bare trailing
// slash. It returns "" for anything that is not a plausible public ws(s) URL:
// other schemes, doubled schemes, encoded spaces, dotless or internal hosts.
func NormalizeRelayURL(relayURL string) string {
	relayURL = strings.TrimSpace(relayURL)
	if strings.Count(relayURL, "://") != 1 || strings.ContainsAny(relayURL, "+ ") || strings.Contains(relayURL, "%20") {
		return ""
	}

	parsed, err := url.Parse(relayURL)
	if err != nil {
		return ""
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "ws" && scheme != "wss" {
		return ""
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return ""
	}
	if !util.IsLoopbackHost(host) && (len(host) < 3 || !strings.Contains(host, ".") || util.IsInternalHost(host)) {
		return ""
	}

	normalized := scheme + "://" + host
	if port := parsed.Port(); port != "" {
		normalized += ":" + port
	}
	if parsed.Path != "/" {
		normalized += parsed.Path
	}
	return normalized
}

// IsRelayURLSafe validates that a relay URL is safe to connect to.
// Allows localhost for development but blocks other private IP ranges
func IsRelayURLSafe(relayURL string) bool {
	parsed, err := url.Parse(relayURL)
	if err != nil {
		return false
	}

	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return false
	}

	host := parsed.Hostname()
	if host == "" {
		return false
	}

	if util.IsLoopbackHost(host) {
		return true
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		// Unresolvable hosts are allowed unless they are obviously internal
		return !strings.HasSuffix(host, ".") && !util.IsInternalHost(host)
	}

	for _, ip := range ips {
		if !isRelayIPSafe(ip) {
			return false
		}
	}

	return true
}

// isRelayIPSafe allows loopback but blocks other private ranges
func isRelayIPSafe(ip net.IP) bool {
	if ip == nil {
		return false
	}

	if ip.IsLoopback() {
		return true
	}

	// Private networks, link-local (incl. cloud metadata), unspecified, multicast
	if ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() || ip.IsMulticast() {
		return false
	}

	return true
}
