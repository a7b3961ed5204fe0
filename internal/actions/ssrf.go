package actions

import (
	"net"
	"net/url"
	"strings"
)

// maxURLLength bounds outbound URLs.
const maxURLLength = 2048

// ValidateURL enforces the outbound URL policy shared by every dispatcher:
// http(s) only, length bounded, and never a loopback, private, link-local,
// broadcast, unspecified, localhost or *.local target. Link-local in
// particular blocks cloud metadata endpoints.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return ConfigInvalid("URL cannot be empty")
	}
	if len(rawURL) > maxURLLength {
		return ConfigInvalid("URL too long: %d characters (max: %d)", len(rawURL), maxURLLength)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ConfigInvalid("invalid URL format: %v", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ConfigInvalid("unsupported URL scheme: %s (only http/https allowed)", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return ConfigInvalid("URL has no host")
	}

	if isPrivateHost(host) {
		return SecurityViolation("URL host '%s' is a private/internal address (SSRF protection)", host)
	}

	return nil
}

func isPrivateHost(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return isPrivateIP(ip)
	}

	lower := strings.ToLower(host)
	return lower == "localhost" ||
		lower == "localhost.localdomain" ||
		strings.HasSuffix(lower, ".localhost") ||
		strings.HasSuffix(lower, ".local")
}

func isPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		return v4.IsLoopback() ||
			v4.IsPrivate() ||
			v4.IsLinkLocalUnicast() ||
			v4.IsUnspecified() ||
			v4.Equal(net.IPv4bcast)
	}
	return ip.IsLoopback() || ip.IsUnspecified() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}
