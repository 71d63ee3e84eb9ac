// Package server orchestrates the Medicorex edge: the main routing server
// that fronts the application backend and an admin server exposing health
// checks, readiness probes, and Prometheus metrics.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/medicorex/edge/internal/config"
	"github.com/medicorex/edge/internal/identity"
	"github.com/medicorex/edge/internal/middleware"
	"github.com/medicorex/edge/internal/observability"
	"github.com/medicorex/edge/internal/proxy"
	iredis "github.com/medicorex/edge/internal/redis"
	"github.com/medicorex/edge/internal/tokencache"
)

// Server is the main Medicorex edge server.
type Server struct {
	cfg             *config.Config
	logger          *slog.Logger
	version         string
	mainServer      *http.Server
	http3Server     *http3.Server // nil when HTTP/3 is disabled.
	adminServer     *http.Server
	chain           *middleware.Chain
	health          *observability.HealthChecker
	metrics         *observability.Metrics
	tracingShutdown func(context.Context) error
	certs           *certHolder // non-nil when TLS is enabled; supports hot-reload.
	redis           iredis.Client
}

// New creates a new edge server instance.
func New(cfg *config.Config, logger *slog.Logger, version string) (*Server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	metrics := observability.NewMetrics(reg)
	health := observability.NewHealthChecker()

	validator, redisClient, err := buildValidator(cfg, metrics, logger)
	if err != nil {
		return nil, err
	}
	if redisClient != nil {
		health.SetCachePinger(pingAdapter{redisClient})
	}

	rp, err := proxy.New(cfg.Backend, logger)
	if err != nil {
		return nil, fmt.Errorf("create proxy: %w", err)
	}

	chain := middleware.NewChain(cfg, validator, rp, logger, metrics)

	mainServer, h3srv := buildMainServer(cfg, chain, logger)
	adminServer := buildAdminServer(cfg, health, reg, logger)

	return &Server{
		cfg:         cfg,
		logger:      logger,
		version:     version,
		mainServer:  mainServer,
		http3Server: h3srv,
		adminServer: adminServer,
		chain:       chain,
		health:      health,
		metrics:     metrics,
		redis:       redisClient,
	}, nil
}

// buildValidator assembles the token validation stack: verifier, cache
// backend, and the cache-through validator on top. Returns the redis client
// when the redis backend is selected so the caller can wire health checks
// and close it on shutdown.
func buildValidator(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (*identity.Validator, iredis.Client, error) {
	var verifier identity.Verifier
	switch cfg.Identity.Mode {
	case config.VerifyModeLocal:
		verifier = identity.NewLocalVerifier(cfg.Identity.SessionSecret.Value())
	default:
		timeout := config.MustParseDuration(cfg.Identity.Timeout, 5*time.Second)
		verifier = identity.NewHTTPVerifier(cfg.Identity.VerifyURL, timeout)
	}

	stats := &tokencache.Stats{
		OnHit:   metrics.IncCacheHits,
		OnMiss:  metrics.IncCacheMisses,
		OnEvict: metrics.IncCacheEvicted,
	}

	var (
		cache       tokencache.Cache[identity.Claims]
		redisClient iredis.Client
	)
	switch cfg.TokenCache.Backend {
	case config.CacheBackendOff:
		cache = tokencache.NewNoop[identity.Claims]()
	case config.CacheBackendRedis:
		client, err := iredis.NewClient(cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		redisClient = client
		cache = tokencache.NewRedis[identity.Claims](client,
			tokencache.WithRedisStats[identity.Claims](stats),
			tokencache.WithRedisLogger[identity.Claims](logger),
		)
	default:
		cache = tokencache.NewMemory[identity.Claims](cfg.TokenCache.MaxSize,
			tokencache.WithStats[identity.Claims](stats),
		)
	}

	ttl := config.MustParseDuration(cfg.TokenCache.TTL, 5*time.Minute)
	validator := identity.NewValidator(verifier, cache, ttl, logger,
		identity.WithVerifyObserver(metrics.ObserveVerifyDuration))
	return validator, redisClient, nil
}

// pingAdapter bridges the redis client to the health checker's Pinger.
type pingAdapter struct {
	c iredis.Client
}

func (p pingAdapter) Ping(ctx context.Context) error {
	return p.c.Ping(ctx).Err()
}

func buildMainServer(cfg *config.Config, chain *middleware.Chain, logger *slog.Logger) (*http.Server, *http3.Server) {
	readTimeout := config.MustParseDuration(cfg.Server.ReadTimeout, 30*time.Second)
	writeTimeout := config.MustParseDuration(cfg.Server.WriteTimeout, 30*time.Second)
	idleTimeout := config.MustParseDuration(cfg.Server.IdleTimeout, 120*time.Second)

	h2s := &http2.Server{}
	mainHandler := h2c.NewHandler(chain, h2s)

	var h3srv *http3.Server
	if cfg.Server.TLS.HTTP3Enabled {
		h3srv = &http3.Server{
			Addr:           cfg.Server.Address,
			Handler:        chain,
			MaxHeaderBytes: 1 << 20, // 1 MiB — same as the TCP server.
			IdleTimeout:    idleTimeout,
			QUICConfig: &quic.Config{
				MaxIdleTimeout: idleTimeout,
				Allow0RTT:      false, // Disable 0-RTT to prevent replay attacks.
			},
		}

		tcpHandler := mainHandler
		mainHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ProtoMajor < 3 {
				if setErr := h3srv.SetQUICHeaders(w.Header()); setErr != nil {
					logger.Debug("failed to set Alt-Svc header", "error", setErr)
				}
			}
			tcpHandler.ServeHTTP(w, r)
		})
	}

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           mainHandler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB — explicit default to prevent large-header DoS.
		BaseContext: func(_ net.Listener) context.Context {
			return context.Background()
		},
		ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	return srv, h3srv
}

func buildAdminServer(cfg *config.Config, health *observability.HealthChecker, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	adminReadTimeout := config.MustParseDuration(cfg.Admin.ReadTimeout, 5*time.Second)
	adminWriteTimeout := config.MustParseDuration(cfg.Admin.WriteTimeout, 10*time.Second)
	adminIdleTimeout := config.MustParseDuration(cfg.Admin.IdleTimeout, 30*time.Second)

	adminMux := http.NewServeMux()
	adminMux.Handle("/startz", health.StartzHandler())
	adminMux.Handle("/healthz", health.HealthzHandler())
	adminMux.Handle("/readyz", health.ReadyzHandler())
	adminMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	return &http.Server{
		Addr:              cfg.Admin.Address,
		Handler:           adminMux,
		ReadTimeout:       adminReadTimeout,
		WriteTimeout:      adminWriteTimeout,
		IdleTimeout:       adminIdleTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB — explicit default.
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}
}

// certHolder provides atomic TLS certificate hot-reload via GetCertificate.
type certHolder struct {
	cert atomic.Pointer[tls.Certificate]
}

// newCertHolder creates and loads the initial certificate.
func newCertHolder(certFile, keyFile string) (*certHolder, error) {
	ch := &certHolder{}
	if err := ch.Reload(certFile, keyFile); err != nil {
		return nil, err
	}
	return ch, nil
}

// Reload loads a new certificate from disk and atomically swaps it.
func (ch *certHolder) Reload(certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return fmt.Errorf("load TLS certificate: %w", err)
	}
	ch.cert.Store(&cert)
	return nil
}

// GetCertificate implements the tls.Config.GetCertificate callback.
func (ch *certHolder) GetCertificate(_ *tls.ClientHelloInfo) (*tls.Certificate, error) {
	return ch.cert.Load(), nil
}

// tlsMinVersion returns the tls.Config MinVersion from config, defaulting to TLS 1.2.
func tlsMinVersion(cfg *config.Config) uint16 {
	if cfg.Server.TLS.MinVersion == config.TLSVersion13 {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

// Run starts both the main and admin servers and blocks until the context is
// canceled, then performs a graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	tracingShutdown, err := observability.InitTracing(ctx, s.cfg.Tracing, s.version)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
		tracingShutdown = func(_ context.Context) error { return nil }
	}
	s.tracingShutdown = tracingShutdown

	errCh := make(chan error, 3)

	// readyCh is closed after the main listener has successfully bound,
	// preventing SetReady from being called before the server can accept
	// connections.
	readyCh := make(chan struct{})

	go s.startAdminServer(errCh)
	go s.startMainServerWithReady(errCh, readyCh)

	if s.http3Server != nil {
		go s.startHTTP3Server(errCh)
	}

	s.health.SetStarted()

	// Wait for the main listener to bind (or fail) before marking ready.
	select {
	case <-readyCh:
		s.health.SetReady()
		s.logger.Info("medicorex edge is ready", "version", s.version)
	case srvErr := <-errCh:
		return srvErr
	}

	// Watch TLS cert files so rotated certs are picked up without a restart.
	if s.cfg.Server.TLS.Enabled {
		cw := config.NewCertWatcher(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile, s.ReloadCerts, s.logger)
		go func() {
			if watchErr := cw.Start(ctx); watchErr != nil {
				s.logger.Error("TLS cert watcher error", "error", watchErr)
			}
		}()
		defer cw.Stop()
	}

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining...")
	case srvErr := <-errCh:
		return srvErr
	}

	return s.shutdown()
}

func (s *Server) startAdminServer(errCh chan<- error) {
	s.logger.Info("admin server starting", "address", s.cfg.Admin.Address)
	if err := s.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errCh <- fmt.Errorf("admin server: %w", err)
	}
}

func (s *Server) startMainServerWithReady(errCh chan<- error, readyCh chan struct{}) {
	s.logger.Info("edge server starting",
		"address", s.cfg.Server.Address,
		"backend", s.cfg.Backend.URL,
		"tls", s.cfg.Server.TLS.Enabled,
		"http3", s.cfg.Server.TLS.HTTP3Enabled)

	// Separate Listen from Serve so we can signal readiness after bind.
	ln, listenErr := net.Listen("tcp", s.cfg.Server.Address)
	if listenErr != nil {
		errCh <- fmt.Errorf("edge server listen: %w", listenErr)
		return
	}
	close(readyCh) // signal that the listener has bound

	var err error
	if s.cfg.Server.TLS.Enabled {
		// Create a certHolder for hot-reload support.
		ch, certErr := newCertHolder(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
		if certErr != nil {
			errCh <- certErr
			return
		}
		s.certs = ch

		tlsCfg := &tls.Config{
			MinVersion:     tlsMinVersion(s.cfg),
			GetCertificate: ch.GetCertificate,
		}
		s.mainServer.TLSConfig = tlsCfg

		// Share the same TLS config with the HTTP/3 server so both
		// listeners enforce identical MinVersion and ciphers.
		if s.http3Server != nil {
			s.http3Server.TLSConfig = tlsCfg
		}

		tlsLn := tls.NewListener(ln, tlsCfg)
		err = s.mainServer.Serve(tlsLn)
	} else {
		err = s.mainServer.Serve(ln)
	}

	if err != nil && err != http.ErrServerClosed {
		errCh <- fmt.Errorf("edge server: %w", err)
	}
}

func (s *Server) startHTTP3Server(errCh chan<- error) {
	s.logger.Info("HTTP/3 (QUIC) server starting", "address", s.cfg.Server.Address)
	err := s.http3Server.ListenAndServeTLS(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
	if err != nil && err != http.ErrServerClosed {
		errCh <- fmt.Errorf("HTTP/3 server: %w", err)
	}
}

// identityChanged reports whether the reloaded config needs a fresh token
// validation stack (new verifier, cache, or both).
func identityChanged(old, newCfg *config.Config) bool {
	return old.Identity != newCfg.Identity ||
		old.TokenCache != newCfg.TokenCache ||
		old.Redis != newCfg.Redis
}

// Reload hot-swaps the routing pipeline, token validation stack, and TLS
// certificates without restarting the server. Sections that cannot be
// hot-applied (listen addresses, backend URL) are logged and skipped.
func (s *Server) Reload(newCfg *config.Config) error {
	if restart := newCfg.RequiresRestart(s.cfg); len(restart) > 0 {
		s.logger.Warn("config sections changed that require a restart, keeping old values",
			"sections", restart)
	}

	var validator *identity.Validator
	if identityChanged(s.cfg, newCfg) {
		v, redisClient, err := buildValidator(newCfg, s.metrics, s.logger)
		if err != nil {
			return fmt.Errorf("rebuild token validation: %w", err)
		}
		validator = v

		oldRedis := s.redis
		s.redis = redisClient
		if redisClient != nil {
			s.health.SetCachePinger(pingAdapter{redisClient})
		}
		if oldRedis != nil && oldRedis != redisClient {
			if err := oldRedis.Close(); err != nil {
				s.logger.Warn("closing previous redis client", "error", err)
			}
		}
	}

	s.chain.Reload(newCfg, validator)

	// Reload TLS certificates if TLS is enabled and cert files are configured.
	if newCfg.Server.TLS.CertFile != "" && newCfg.Server.TLS.KeyFile != "" {
		s.ReloadCerts(newCfg.Server.TLS.CertFile, newCfg.Server.TLS.KeyFile)
	}

	s.cfg = newCfg
	return nil
}

// ReloadCerts hot-swaps the TLS key pair from disk. Keeps the old pair when
// the new files fail to load. No-op when TLS is not enabled.
func (s *Server) ReloadCerts(certFile, keyFile string) {
	if s.certs == nil {
		return
	}
	if err := s.certs.Reload(certFile, keyFile); err != nil {
		s.logger.Error("TLS certificate reload failed, keeping old certificate", "error", err)
		return
	}
	s.logger.Info("TLS certificates reloaded")
}

func (s *Server) shutdown() error {
	s.health.SetNotReady()

	drainTimeout := config.MustParseDuration(s.cfg.Server.DrainTimeout, 30*time.Second)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if s.http3Server != nil {
		if err := s.http3Server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP/3 server shutdown error", "error", err)
		}
	}

	if err := s.mainServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("main server shutdown error", "error", err)
	}

	if err := s.adminServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("admin server shutdown error", "error", err)
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	if s.tracingShutdown != nil {
		if err := s.tracingShutdown(shutdownCtx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}
