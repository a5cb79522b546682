package finalizer

import (
	"fmt"
	"net/url"
	"strings"
)

// URLResolver turns image URLs from the lookup service into URLs the user
// can load.
type URLResolver struct {
	base        *url.URL
	stripPrefix string
}

// NewURLResolver creates a resolver against baseURL. An empty baseURL keeps
// relative paths relative.
func NewURLResolver(baseURL, stripPrefix string) (*URLResolver, error) {
	r := &URLResolver{stripPrefix: normalizePrefix(stripPrefix)}
	if baseURL == "" {
		return r, nil
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse image base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("image base URL %q must be absolute", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = strings.TrimSuffix(u.RawPath, "/")
	u.RawQuery = ""
	u.Fragment = ""
	r.base = u
	return r, nil
}

// Resolve returns raw unchanged when it is already absolute. Otherwise it
// strips the configured prefix, drops a leading segment the base path already
// ends with, and joins the rest onto the base. Escaping, query and fragment of
// raw are kept as sent.
func (r *URLResolver) Resolve(raw string) string {
	raw = strings.TrimSpace(raw)
	if r == nil || raw == "" || isAbsolute(raw) {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	path := "/" + strings.TrimPrefix(ref.EscapedPath(), "/")
	if r.stripPrefix != "" && (path == r.stripPrefix || strings.HasPrefix(path, r.stripPrefix+"/")) {
		path = "/" + strings.TrimPrefix(strings.TrimPrefix(path, r.stripPrefix), "/")
	}
	if r.base == nil {
		u := url.URL{RawQuery: ref.RawQuery, Fragment: ref.Fragment, RawFragment: ref.RawFragment}
		return path + u.String()
	}

	if last := lastSegment(r.base.EscapedPath()); last != "" {
		if first, rest, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/"); first == last {
			path = "/" + rest
		}
	}

	escaped := r.base.EscapedPath() + path
	unescaped, err := url.PathUnescape(escaped)
	if err != nil {
		return raw
	}
	u := *r.base
	u.Path = unescaped
	u.RawPath = escaped
	u.RawQuery = ref.RawQuery
	u.Fragment = ref.Fragment
	u.RawFragment = ref.RawFragment
	return u.String()
}

func isAbsolute(raw string) bool {
	if strings.HasPrefix(raw, "//") {
		return true
	}
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func normalizePrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

func lastSegment(p string) string {
	p = strings.TrimSuffix(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
