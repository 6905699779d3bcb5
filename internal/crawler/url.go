package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports and the fragment,
// and turns an empty path into "/". The query string is kept verbatim.
func NormalizeURL(rawURL string) (string, error) {
	u, err := parseAbsolute(rawURL)
	if err != nil {
		return "", err
	}
	return normalize(u).String(), nil
}

func parseAbsolute(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("parse url: %q is not absolute", rawURL)
	}
	return u, nil
}

func normalize(in *url.URL) *url.URL {
	u := *in
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
	if u.Path == "" && u.Opaque == "" {
		u.Path = "/"
		u.RawPath = ""
	}
	return &u
}

// InScope reports whether u is an http(s) URL on domain or one of its subdomains.
func InScope(u *url.URL, domain string) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if host == "" || domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// IsValidURL reports whether rawURL parses as an absolute URL inside domain.
func IsValidURL(rawURL, domain string) bool {
	u, err := parseAbsolute(rawURL)
	if err != nil {
		return false
	}
	return InScope(u, domain)
}

func hasPDFSuffix(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.HasSuffix(strings.ToLower(rawURL), ".pdf")
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}
