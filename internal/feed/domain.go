package feed

import (
	"net/url"
	"strings"
)

// UnknownDomain groups events whose URL has no usable hostname.
const UnknownDomain = "unknown"

// SourceDomain returns the lower-cased hostname of rawURL with a leading
// "www." removed. Relative or malformed URLs yield UnknownDomain.
func SourceDomain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" {
		return UnknownDomain
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return UnknownDomain
	}
	return host
}
