// Package tenant resolves which tenant workspace an HTTP request targets,
// based on the request's subdomain. "acme.medicorex.app" belongs to tenant
// "acme"; the bare apex and reserved subdomains like "www" belong to none.
package tenant

import (
	"net"
	"regexp"
	"strings"
)

// slugRe matches a single valid DNS label: lowercase alphanumerics and
// hyphens, no leading or trailing hyphen. Length is checked separately.
var slugRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// maxSlugLen is the DNS label length limit.
const maxSlugLen = 63

// Resolver extracts tenant slugs from request hostnames.
type Resolver struct {
	rootDomain string
	devMode    bool
	reserved   map[string]struct{}
}

// NewResolver creates a subdomain resolver for the given root domain.
// In dev mode "<slug>.localhost" hosts are recognized instead of
// "<slug>.<rootDomain>". Reserved names never resolve to a tenant.
func NewResolver(rootDomain string, devMode bool, reserved []string) *Resolver {
	set := make(map[string]struct{}, len(reserved))
	for _, name := range reserved {
		set[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	return &Resolver{
		rootDomain: strings.ToLower(strings.TrimSuffix(rootDomain, ".")),
		devMode:    devMode,
		reserved:   set,
	}
}

// Resolve returns the tenant slug for the request host, or "" when the host
// carries no tenant: the bare root domain, an unrelated host, a reserved
// subdomain, a multi-level subdomain, or a malformed label.
func (r *Resolver) Resolve(host string) string {
	host = normalizeHost(host)
	if host == "" {
		return ""
	}

	var base string
	if r.devMode && (host == "localhost" || strings.HasSuffix(host, ".localhost")) {
		base = "localhost"
	} else {
		base = r.rootDomain
	}
	if base == "" || host == base {
		return ""
	}

	suffix := "." + base
	if !strings.HasSuffix(host, suffix) {
		return ""
	}

	slug := host[:len(host)-len(suffix)]
	if strings.Contains(slug, ".") {
		// Nested subdomains like "a.b.medicorex.app" are not tenant hosts.
		return ""
	}
	if !ValidSlug(slug) {
		return ""
	}
	if _, ok := r.reserved[slug]; ok {
		return ""
	}
	return slug
}

// ValidSlug reports whether s is a well-formed tenant slug (a single DNS
// label, lowercase, at most 63 characters).
func ValidSlug(s string) bool {
	return len(s) > 0 && len(s) <= maxSlugLen && slugRe.MatchString(s)
}

// normalizeHost lowercases the host and strips any port suffix. Bracketed
// IPv6 hosts normalize to "" since they never carry a tenant.
func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if strings.HasPrefix(host, "[") {
		return ""
	}
	return strings.TrimSuffix(host, ".")
}
