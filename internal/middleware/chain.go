package middleware

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/medicorex/edge/internal/config"
	"github.com/medicorex/edge/internal/identity"
	"github.com/medicorex/edge/internal/observability"
	"github.com/medicorex/edge/internal/routes"
	"github.com/medicorex/edge/internal/tenant"
)

var tracer = otel.Tracer("medicorex.edge.middleware")

// requestIDHeader is the canonical HTTP header for request correlation.
const requestIDHeader = "X-Request-Id"

// maxRequestIDLen is the maximum allowed length for a client-supplied X-Request-Id.
const maxRequestIDLen = 128

// Debug headers attached to responses in development mode.
const (
	debugTenantHeader = "X-Medicorex-Tenant"
	debugUserHeader   = "X-Medicorex-Debug-User"
)

// requestIDRng is a per-goroutine-safe CSPRNG seeded from crypto/rand.
// ChaCha8 avoids a syscall per ID (unlike crypto/rand.Read), which reduces
// latency under high concurrency.
var requestIDRng = func() *rand.ChaCha8 {
	var seed [32]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		panic("failed to seed ChaCha8: " + err.Error())
	}
	return rand.NewChaCha8(seed)
}()

// generateRequestID creates a 16-byte hex-encoded random ID (128 bits).
func generateRequestID() string {
	var buf [16]byte
	for i := 0; i < len(buf); i += 8 {
		v := requestIDRng.Uint64()
		binary.LittleEndian.PutUint64(buf[i:], v)
	}
	return hex.EncodeToString(buf[:])
}

// validRequestID checks that a client-supplied request ID is safe to
// propagate. Rejects IDs that are too long or contain non-printable /
// injection characters.
func validRequestID(s string) bool {
	if len(s) == 0 || len(s) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.' || c == ':':
		default:
			return false
		}
	}
	return true
}

// statusWriter records the response status code for metrics and logging.
type statusWriter struct {
	http.ResponseWriter
	code    int
	written bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.code = code
		sw.written = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.written {
		sw.code = http.StatusOK
		sw.written = true
	}
	return sw.ResponseWriter.Write(b)
}

// Unwrap supports http.ResponseController and middleware that check for
// underlying interfaces (http.Hijacker, http.Flusher, etc.).
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// Flush implements http.Flusher so that SSE streaming works even with
// handlers that assert w.(http.Flusher) directly instead of using Unwrap().
func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// statusWriterPool amortizes statusWriter allocations on the hot path.
var statusWriterPool = sync.Pool{
	New: func() any { return &statusWriter{} },
}

// chainState bundles everything a request needs that can change on config
// reload, so one atomic load gives a consistent snapshot.
type chainState struct {
	pipeline     *Pipeline
	validator    *identity.Validator
	cookieName   string
	userHeader   string
	errorPath    string
	debugHeaders bool
}

// Chain is the edge's main http.Handler: it computes the routing decision
// for each request and renders it as a pass-through, redirect, or rewrite.
type Chain struct {
	next    atomic.Pointer[http.Handler] // swappable proxy for backend hot-reload
	state   atomic.Pointer[chainState]
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewChain creates the pipeline handler. next is the reverse proxy (or any
// downstream handler) that receives passed and rewritten requests.
func NewChain(cfg *config.Config, validator *identity.Validator, next http.Handler, logger *slog.Logger, metrics *observability.Metrics) *Chain {
	c := &Chain{
		logger:  logger,
		metrics: metrics,
	}
	c.next.Store(&next)
	c.state.Store(buildState(cfg, validator))
	return c
}

func buildState(cfg *config.Config, validator *identity.Validator) *chainState {
	matcher := routes.NewMatcher(cfg.Routes.Public, cfg.Routes.Auth, cfg.Routes.APIPrefixes)
	resolver := tenant.NewResolver(
		cfg.Domain.RootDomain,
		cfg.Domain.Environment == config.EnvDevelopment,
		cfg.Domain.ReservedSubdomains,
	)
	return &chainState{
		pipeline:     NewPipeline(matcher, resolver, validator, cfg.Routes),
		validator:    validator,
		cookieName:   cfg.Identity.CookieName,
		userHeader:   cfg.Identity.UserHeader,
		errorPath:    cfg.Routes.ErrorPath,
		debugHeaders: cfg.Domain.DebugHeaders && cfg.Domain.Environment == config.EnvDevelopment,
	}
}

// Reload swaps in a new routing snapshot built from newCfg. Pass a non-nil
// validator to replace the token validation stack as well (identity config
// changed); nil keeps the current one and its warm cache.
func (c *Chain) Reload(newCfg *config.Config, validator *identity.Validator) {
	if validator == nil {
		validator = c.state.Load().validator
	}
	c.state.Store(buildState(newCfg, validator))
	c.logger.Info("routing pipeline reloaded")
}

// SwapProxy replaces the downstream handler (used when the backend URL
// changes in a way that needs a new proxy).
func (c *Chain) SwapProxy(next http.Handler) {
	c.next.Store(&next)
}

// ServeHTTP computes and renders the routing decision.
func (c *Chain) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := statusWriterPool.Get().(*statusWriter)
	sw.ResponseWriter = w
	sw.code = http.StatusOK
	sw.written = false

	// Propagate or generate X-Request-Id for request correlation. Validate
	// client-supplied IDs to prevent CRLF injection and log pollution.
	reqID := r.Header.Get(requestIDHeader)
	if !validRequestID(reqID) {
		reqID = generateRequestID()
		r.Header.Set(requestIDHeader, reqID)
	}
	sw.Header().Set(requestIDHeader, reqID)

	defer func() {
		c.metrics.PromRequestDuration.WithLabelValues(
			r.Method,
			strconv.Itoa(sw.code),
		).Observe(time.Since(start).Seconds())
		sw.ResponseWriter = nil // prevent dangling reference
		statusWriterPool.Put(sw)
	}()

	// A panic below (pipeline, proxy, backend handler) must not drop the
	// connection without a trace. ErrAbortHandler is net/http's intentional
	// abort and is re-raised for the server to swallow.
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if rec == http.ErrAbortHandler {
			panic(rec)
		}
		c.logger.Error("panic while handling request",
			"request_id", reqID,
			"host", r.Host,
			"path", r.URL.Path,
			"panic", rec,
			"stack", string(debug.Stack()),
		)
		if !sw.written {
			http.Redirect(sw, r, c.state.Load().errorPath, http.StatusFound)
		}
	}()

	state := c.state.Load()

	ctx, span := tracer.Start(r.Context(), "medicorex.edge.decide")
	d := state.pipeline.Decide(ctx, r.Host, r.URL.Path, c.cookieValue(r, state))
	span.SetAttributes(
		attribute.String("edge.tenant", d.Slug),
		attribute.Int("edge.decision", int(d.Kind)),
	)
	span.End()

	if d.Slug != "" {
		r = r.WithContext(tenant.WithSlug(r.Context(), d.Slug))
	}

	switch d.Kind {
	case DecisionRedirect:
		c.serveRedirect(sw, r, state, d)
	case DecisionRewrite:
		c.serveRewrite(sw, r, state, d)
	default:
		c.servePass(sw, r, state, d)
	}

	c.logger.Debug("request routed",
		"request_id", reqID,
		"host", r.Host,
		"path", r.URL.Path,
		"tenant", d.Slug,
		"decision", decisionName(d.Kind),
		"status", sw.code,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (c *Chain) serveRedirect(sw *statusWriter, r *http.Request, state *chainState, d Decision) {
	if d.ClearCookie {
		http.SetCookie(sw, &http.Cookie{
			Name:     state.cookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
		})
	}
	if d.Err != nil {
		if errors.Is(d.Err, identity.ErrVerifyUnavailable) {
			c.metrics.IncVerifyErrors()
		}
		c.logger.Warn("request rejected",
			"request_id", r.Header.Get(requestIDHeader),
			"host", r.Host,
			"path", r.URL.Path,
			"tenant", d.Slug,
			"redirect", d.Location,
			"error", d.Err,
		)
		if d.Slug != "" && errors.Is(d.Err, identity.ErrNoTenantAccess) {
			c.metrics.IncTenantDenied(d.Slug)
		}
	}
	c.metrics.IncRedirected()
	http.Redirect(sw, r, d.Location, http.StatusFound)
}

func (c *Chain) serveRewrite(sw *statusWriter, r *http.Request, state *chainState, d Decision) {
	r.URL.Path = d.Path
	r.URL.RawPath = ""

	c.injectUserHeader(r, state, d.Claims)
	if state.debugHeaders {
		sw.Header().Set(debugTenantHeader, d.Slug)
		if d.Claims != nil {
			sw.Header().Set(debugUserHeader, d.Claims.UID)
		}
	}

	c.metrics.IncRewritten()
	c.metrics.IncTenantRewrites(d.Slug)
	(*c.next.Load()).ServeHTTP(sw, r)
}

func (c *Chain) servePass(sw *statusWriter, r *http.Request, state *chainState, d Decision) {
	if d.Err != nil {
		if errors.Is(d.Err, identity.ErrVerifyUnavailable) {
			c.metrics.IncVerifyErrors()
		}
		c.logger.Warn("request passed with degraded verification",
			"request_id", r.Header.Get(requestIDHeader),
			"host", r.Host,
			"path", r.URL.Path,
			"error", d.Err,
		)
	}
	c.injectUserHeader(r, state, d.Claims)
	c.metrics.IncPassed()
	(*c.next.Load()).ServeHTTP(sw, r)
}

// injectUserHeader attaches the verified user ID for the backend, and
// strips any client-supplied value so identity can never be spoofed from
// outside.
func (c *Chain) injectUserHeader(r *http.Request, state *chainState, claims *identity.Claims) {
	r.Header.Del(state.userHeader)
	if claims != nil {
		r.Header.Set(state.userHeader, claims.UID)
	}
}

func (c *Chain) cookieValue(r *http.Request, state *chainState) string {
	cookie, err := r.Cookie(state.cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func decisionName(k DecisionKind) string {
	switch k {
	case DecisionRedirect:
		return "redirect"
	case DecisionRewrite:
		return "rewrite"
	default:
		return "pass"
	}
}
