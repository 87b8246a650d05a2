package watchlist

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL validates a product URL and returns its canonical form.
// It lowercases the scheme and host, removes default ports and the fragment.
// Only absolute http(s) URLs with a host are accepted.
func NormalizeURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidInput)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: parse url: %v", ErrInvalidInput, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidInput, u.Scheme)
	}
	if u.Hostname() == "" || u.Opaque != "" {
		return "", fmt.Errorf("%w: url %q has no host", ErrInvalidInput, rawURL)
	}
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""

	return u.String(), nil
}

// DomainOf returns the lowercase hostname of a product URL.
func DomainOf(rawURL string) (string, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return "", fmt.Errorf("%w: parse url: %v", ErrInvalidInput, err)
	}
	return u.Hostname(), nil
}

// ParseDomain accepts either a bare domain name or an http(s) URL and
// returns the domain name routines are keyed by.
func ParseDomain(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: domain is required", ErrInvalidInput)
	}
	if strings.Contains(raw, "://") {
		return DomainOf(raw)
	}
	if strings.ContainsAny(raw, "/?#@ ") {
		return "", fmt.Errorf("%w: malformed domain %q", ErrInvalidInput, raw)
	}
	return DomainOf("https://" + raw)
}
