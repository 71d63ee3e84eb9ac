package observability

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Probe bodies are pre-serialized so the admin endpoints never hit an
// encoding error path.
var (
	jsonAlive      = []byte(`{"status":"alive"}`)
	jsonReady      = []byte(`{"status":"ready"}`)
	jsonNotReady   = []byte(`{"status":"not_ready"}`)
	jsonStarted    = []byte(`{"status":"started"}`)
	jsonNotStarted = []byte(`{"status":"not_started"}`)
	jsonDeepOK     = []byte(`{"status":"ready","token_cache":"ok"}`)
	jsonDeepFail   = []byte(`{"status":"not_ready","token_cache":"unreachable"}`)
)

// Pinger checks connectivity to a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker backs the edge's startup, liveness, and readiness probes.
// The edge itself is stateless; the only dependency worth a deep check is
// the shared token-cache backend, registered via SetCachePinger.
type HealthChecker struct {
	started atomic.Bool
	ready   atomic.Bool

	mu          sync.RWMutex
	cachePinger Pinger // nil when the token cache is in-process only
}

// NewHealthChecker starts in the not-started, not-ready state.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

// SetStarted marks startup as complete. The Kubernetes startup probe gates
// liveness and readiness probing on this.
func (h *HealthChecker) SetStarted() {
	h.started.Store(true)
}

// IsStarted reports whether startup has completed.
func (h *HealthChecker) IsStarted() bool {
	return h.started.Load()
}

// SetReady marks the edge as ready to receive traffic.
func (h *HealthChecker) SetReady() {
	h.ready.Store(true)
}

// SetNotReady flips readiness off, used while draining.
func (h *HealthChecker) SetNotReady() {
	h.ready.Store(false)
}

// IsReady reports whether the edge accepts traffic.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// SetCachePinger registers the token-cache backend for deep readiness
// checks. Pass nil to clear it when the cache runs in-process.
func (h *HealthChecker) SetCachePinger(p Pinger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cachePinger = p
}

// StartzHandler answers 200 once startup is complete, 503 before.
func (h *HealthChecker) StartzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if h.IsStarted() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(jsonStarted)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write(jsonNotStarted)
	}
}

// HealthzHandler answers 200 whenever the process is alive.
func (h *HealthChecker) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(jsonAlive)
	}
}

// ReadyzHandler answers 200 when the edge accepts traffic, 503 otherwise.
// With ?deep=true and a registered cache pinger it also PINGs the
// token-cache backend, reporting 503 when the backend is unreachable.
func (h *HealthChecker) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if !h.IsReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write(jsonNotReady)
			return
		}

		if r.URL.Query().Get("deep") == "true" {
			h.mu.RLock()
			pinger := h.cachePinger
			h.mu.RUnlock()

			if pinger != nil {
				ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
				defer cancel()
				if err := pinger.Ping(ctx); err != nil {
					w.WriteHeader(http.StatusServiceUnavailable)
					_, _ = w.Write(jsonDeepFail)
					return
				}
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(jsonDeepOK)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(jsonReady)
	}
}
