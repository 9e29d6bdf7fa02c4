package models

import (
	"net/url"
	"strings"
)

// NormalizeURL ensures the target has a scheme, defaulting to https.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return "https://" + raw
	}
	return raw
}

// Hostname extracts the host (with port, if any) from a URL, falling
// back to the input when it does not parse.
func Hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}

// SafeDomain turns a hostname into a filesystem-safe token used in
// screenshot file names. Ports would otherwise introduce a colon.
func SafeDomain(host string) string {
	return strings.ReplaceAll(host, ":", "_")
}
