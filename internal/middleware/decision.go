// Package middleware implements the request processing pipeline for the
// edge: tenant resolution → token validation → tenant access → rewrite or
// redirect → proxy. The routing decision is computed as a value first and
// rendered to the ResponseWriter afterwards, so every rule is testable
// without HTTP plumbing.
package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/medicorex/edge/internal/config"
	"github.com/medicorex/edge/internal/identity"
	"github.com/medicorex/edge/internal/routes"
	"github.com/medicorex/edge/internal/tenant"
)

// DecisionKind says what happens to the request.
type DecisionKind int

const (
	// DecisionPass forwards the request to the backend unchanged.
	DecisionPass DecisionKind = iota
	// DecisionRedirect answers with a 302 to Location.
	DecisionRedirect
	// DecisionRewrite forwards to the backend under the rewritten Path.
	DecisionRewrite
)

// Decision is the outcome of the routing pipeline for one request.
type Decision struct {
	Kind     DecisionKind
	Location string // redirect target, for DecisionRedirect
	Path     string // rewritten request path, for DecisionRewrite

	// ClearCookie marks the session cookie as permanently dead; the driver
	// expires it in the response.
	ClearCookie bool

	Slug   string
	Claims *identity.Claims
	Role   string

	// Err records why a redirect was issued, for structured logging. A nil
	// Err on a redirect means a routine rule fired (e.g. login required).
	Err error
}

// Pipeline computes routing decisions from an immutable snapshot of the
// matcher, resolver, and route targets. A new Pipeline is built on every
// config reload and swapped in atomically; in-flight requests keep the one
// they started with.
type Pipeline struct {
	matcher   *routes.Matcher
	resolver  *tenant.Resolver
	validator *identity.Validator
	routes    config.RoutesConfig
}

// NewPipeline builds a pipeline snapshot.
func NewPipeline(matcher *routes.Matcher, resolver *tenant.Resolver, validator *identity.Validator, routesCfg config.RoutesConfig) *Pipeline {
	return &Pipeline{
		matcher:   matcher,
		resolver:  resolver,
		validator: validator,
		routes:    routesCfg,
	}
}

// Decide runs the full pipeline for one request. host is the request Host
// header; path the URL path; token the session cookie value ("" when the
// cookie is absent).
func (p *Pipeline) Decide(ctx context.Context, host, path, token string) Decision {
	slug := p.resolver.Resolve(host)

	// API routes answer with status codes, not redirects, and static assets
	// carry no session semantics. Both bypass the pipeline entirely; the
	// resolved slug still rides on the decision for logging and tracing.
	if p.matcher.Excluded(path) {
		return Decision{Kind: DecisionPass, Slug: slug}
	}

	d, done := p.authenticate(ctx, path, token)
	d.Slug = slug
	if done {
		return d
	}
	return p.finish(d, path)
}

// authenticate applies the session rules for the path. done=true means the
// decision is terminal and the tenant stage must not run.
func (p *Pipeline) authenticate(ctx context.Context, path, token string) (Decision, bool) {
	if p.matcher.IsAuthRoute(path) {
		// A signed-in user has no business on login/signup pages.
		if token != "" {
			claims, err := p.validator.Validate(ctx, token)
			if err == nil {
				return Decision{Kind: DecisionRedirect, Location: p.routes.DashboardPath, Claims: claims}, true
			}
			// The page renders either way, but a provider outage should not
			// masquerade as a missing token; carry it for logging.
			if errors.Is(err, identity.ErrVerifyUnavailable) {
				return Decision{Kind: DecisionPass, Err: err}, false
			}
		}
		return Decision{Kind: DecisionPass}, false
	}

	if p.matcher.IsPublic(path) {
		return Decision{Kind: DecisionPass}, false
	}

	claims, err := p.validator.Validate(ctx, token)
	if err != nil {
		return p.reject(err), true
	}
	return Decision{Kind: DecisionPass, Claims: claims}, false
}

// reject maps a validation failure to its redirect. Expired and revoked
// sessions also clear the cookie: those tokens will never validate again,
// and keeping them would loop the user through the login redirect forever.
func (p *Pipeline) reject(err error) Decision {
	switch {
	case identity.StaleCookie(err):
		return Decision{Kind: DecisionRedirect, Location: p.routes.LoginPath, ClearCookie: true, Err: err}
	case errors.Is(err, identity.ErrNoToken):
		return Decision{Kind: DecisionRedirect, Location: p.routes.LoginPath}
	case errors.Is(err, identity.ErrTokenInvalid):
		return Decision{Kind: DecisionRedirect, Location: p.routes.UnauthorizedPath, Err: err}
	default:
		// Provider unreachable or an unknown failure. Fail closed without
		// punishing the cookie: the token may be fine.
		return Decision{Kind: DecisionRedirect, Location: p.routes.ErrorPath, Err: err}
	}
}

// finish applies the tenant stage: trial-expired owners land on billing,
// users without a role in the tenant are turned away, everyone else gets
// the namespace rewrite. Requests without a tenant pass through untouched,
// and so do anonymous requests on a tenant host (public and auth pages are
// served from the root site).
func (p *Pipeline) finish(d Decision, path string) Decision {
	if d.Slug == "" || d.Claims == nil {
		return d
	}

	role, err := p.validator.CheckTenant(d.Claims, d.Slug)
	if err != nil {
		// The session itself is fine; keep the cookie so the user can
		// switch to a workspace they do belong to.
		return Decision{
			Kind:     DecisionRedirect,
			Location: p.routes.UnauthorizedPath,
			Slug:     d.Slug,
			Claims:   d.Claims,
			Err:      err,
		}
	}
	d.Role = role

	if role == identity.RoleOwnerTrialExpired {
		d.Kind = DecisionRewrite
		d.Path = RewritePath(p.routes.TenantPrefix, d.Slug, p.routes.BillingPath)
		return d
	}

	d.Kind = DecisionRewrite
	d.Path = RewritePath(p.routes.TenantPrefix, d.Slug, path)
	return d
}

// RewritePath prefixes path into the tenant namespace. Already-prefixed
// paths come back unchanged so the rewrite is idempotent even if a request
// traverses the edge twice.
func RewritePath(prefix, slug, path string) string {
	base := prefix + "/" + slug
	if path == base || strings.HasPrefix(path, base+"/") {
		return path
	}
	if path == "" || path == "/" {
		return base + "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
