// Package urlutil builds target URLs and compares the routes the browser
// lands on.
package urlutil

import (
	"net/url"
	"strings"

	"github.com/kuitang/promptdeck-e2e/internal/errs"
)

// NormalizeBase trims whitespace and trailing slashes from a base URL.
func NormalizeBase(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/")
}

// ValidateBase checks that base is an absolute http(s) URL without query or
// fragment.
func ValidateBase(base string) error {
	u, err := url.Parse(NormalizeBase(base))
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "invalid base URL", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errs.New(errs.InvalidArgument, "base URL must use http or https")
	}
	if u.Host == "" {
		return errs.New(errs.InvalidArgument, "base URL has no host")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return errs.New(errs.InvalidArgument, "base URL must not carry a query or fragment")
	}
	return nil
}

// BuildAbsolute builds an absolute URL from a base origin and a path.
func BuildAbsolute(base, path string) string {
	base = NormalizeBase(base)
	if path == "" {
		return base
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if strings.HasPrefix(path, "/") {
		return base + path
	}
	return base + "/" + path
}

// PathOf returns the path of rawURL without a trailing slash ("/" stays).
// Unparseable input yields "".
func PathOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	p := u.Path
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

// OnRoute reports whether rawURL is at route or below it, e.g. "/prompts"
// matches "/prompts" and "/prompts/42" but not "/prompts-archive".
func OnRoute(rawURL, route string) bool {
	p := PathOf(rawURL)
	route = PathOf(route)
	if p == "" || route == "" {
		return false
	}
	if route == "/" || p == route {
		return p == route
	}
	return strings.HasPrefix(p, route+"/")
}

// LastSegment returns the final path segment of rawURL, e.g. the id in
// "/prompts/42/edit" is not last but "edit" is.
func LastSegment(rawURL string) string {
	p := PathOf(rawURL)
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
