// Package urlutil normalizes the dashboard and API base URLs and joins page
// paths onto them.
package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeBase trims whitespace and trailing slashes.
func NormalizeBase(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/")
}

// BuildAbsolute joins path onto base. Absolute http(s) URLs are returned
// unchanged. Dashboard routes such as "/#/login" keep their fragment.
func BuildAbsolute(base, path string) string {
	base = NormalizeBase(base)
	if path == "" {
		return base
	}
	if IsAbsolute(path) || base == "" {
		return path
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

// IsAbsolute reports whether raw parses as a URL with a scheme.
func IsAbsolute(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.IsAbs()
}

// CheckHTTP reports why raw is not an absolute http(s) URL with a host.
func CheckHTTP(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %v", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be an absolute http(s) URL, got %q", raw)
	}
	return nil
}
