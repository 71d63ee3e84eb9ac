// Package routes classifies request paths for the auth pipeline: public
// pages, auth pages, API routes, and static assets. Classification is pure
// string matching on the path; the matcher carries no per-request state and
// can be hot-swapped on config reload.
package routes

import (
	"path"
	"strings"
)

// staticPrefixes are framework asset namespaces that bypass the redirect
// pipeline entirely.
var staticPrefixes = []string{
	"/_next/",
	"/static/",
	"/assets/",
	"/favicon.ico",
	"/robots.txt",
	"/sitemap.xml",
}

// staticExtensions mark asset requests by file extension.
var staticExtensions = map[string]struct{}{
	".css": {}, ".js": {}, ".mjs": {}, ".map": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".webp": {}, ".ico": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
	".txt": {}, ".xml": {}, ".json": {}, ".webmanifest": {},
}

// Matcher classifies request paths against the configured route sets.
type Matcher struct {
	public      map[string]struct{}
	auth        map[string]struct{}
	apiPrefixes []string
}

// NewMatcher builds a matcher from the configured route sets. Public and
// auth routes match exactly; API prefixes match by prefix.
func NewMatcher(public, auth, apiPrefixes []string) *Matcher {
	m := &Matcher{
		public:      make(map[string]struct{}, len(public)),
		auth:        make(map[string]struct{}, len(auth)),
		apiPrefixes: make([]string, 0, len(apiPrefixes)),
	}
	for _, p := range public {
		m.public[normalize(p)] = struct{}{}
	}
	for _, p := range auth {
		m.auth[normalize(p)] = struct{}{}
	}
	for _, p := range apiPrefixes {
		if p != "" {
			m.apiPrefixes = append(m.apiPrefixes, p)
		}
	}
	return m
}

// IsPublic reports whether the path is an exact-match public page. Auth
// pages are public too: an anonymous visitor may always reach them.
func (m *Matcher) IsPublic(p string) bool {
	p = normalize(p)
	if _, ok := m.public[p]; ok {
		return true
	}
	_, ok := m.auth[p]
	return ok
}

// IsAuthRoute reports whether the path is a login/signup/reset page.
func (m *Matcher) IsAuthRoute(p string) bool {
	_, ok := m.auth[normalize(p)]
	return ok
}

// IsAPI reports whether the path belongs to an API prefix.
func (m *Matcher) IsAPI(p string) bool {
	for _, prefix := range m.apiPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// IsStatic reports whether the path is a framework or file asset.
func (m *Matcher) IsStatic(p string) bool {
	for _, prefix := range staticPrefixes {
		if p == strings.TrimSuffix(prefix, "/") || strings.HasPrefix(p, prefix) {
			return true
		}
	}
	_, ok := staticExtensions[strings.ToLower(path.Ext(p))]
	return ok
}

// Excluded reports whether the path bypasses the redirect pipeline
// entirely. API routes answer with status codes, not redirects, and asset
// requests carry no session semantics.
func (m *Matcher) Excluded(p string) bool {
	return m.IsAPI(p) || m.IsStatic(p)
}

// normalize strips a trailing slash so "/about/" and "/about" classify the
// same. The root path is left untouched.
func normalize(p string) string {
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}
