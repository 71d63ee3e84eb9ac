// Package config handles loading and validation of MediCorex Edge
// configuration from YAML files and environment variables. Environment
// variables always override file-based values. Env var names follow the
// struct path with a MEDICOREX_ prefix:
//
//	server.address → MEDICOREX_SERVER_ADDRESS
//	token_cache.max_size → MEDICOREX_TOKEN_CACHE_MAX_SIZE
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// defaultConfigFile is the default path for the YAML configuration file.
// Override via MEDICOREX_CONFIG_FILE environment variable.
const defaultConfigFile = "/etc/medicorex/edge.yaml"

// ---------------------------------------------------------------------------
// Enum types — typed string constants replace scattered hard-coded values.
// All canonical forms are lowercase; Load() normalizes before validation.
// ---------------------------------------------------------------------------

// Environment selects development or production behavior for subdomain
// resolution (localhost vs root domain) and debug headers.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

func (e Environment) Valid() bool {
	switch e {
	case EnvDevelopment, EnvProduction:
		return true
	}
	return false
}

// CacheBackend selects the token cache implementation.
type CacheBackend string

const (
	CacheBackendMemory CacheBackend = "memory"
	CacheBackendRedis  CacheBackend = "redis"
	CacheBackendOff    CacheBackend = "off"
)

func (b CacheBackend) Valid() bool {
	switch b {
	case CacheBackendMemory, CacheBackendRedis, CacheBackendOff:
		return true
	}
	return false
}

// VerifyMode selects how bearer tokens are verified.
type VerifyMode string

const (
	// VerifyModeHTTP calls the identity provider's internal verification
	// endpoint for every uncached token.
	VerifyModeHTTP VerifyMode = "http"
	// VerifyModeLocal verifies HS256 session JWTs in-process against the
	// shared session secret. Intended for development and the mock stub.
	VerifyModeLocal VerifyMode = "local"
)

func (m VerifyMode) Valid() bool {
	switch m {
	case VerifyModeHTTP, VerifyModeLocal:
		return true
	}
	return false
}

// LogLevel controls the minimum severity for structured log output.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

func (l LogLevel) Valid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}

// LogFormat selects the structured log encoding.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

func (f LogFormat) Valid() bool {
	switch f {
	case LogFormatJSON, LogFormatText:
		return true
	}
	return false
}

// TLSVersion selects the minimum TLS protocol version.
type TLSVersion string

const (
	TLSVersion12 TLSVersion = "1.2"
	TLSVersion13 TLSVersion = "1.3"
)

func (v TLSVersion) Valid() bool {
	switch v {
	case TLSVersion12, TLSVersion13, "":
		return true
	}
	return false
}

// Config is the top-level MediCorex Edge configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"      envPrefix:"SERVER_"`
	Admin      AdminConfig      `yaml:"admin"       envPrefix:"ADMIN_"`
	Backend    BackendConfig    `yaml:"backend"     envPrefix:"BACKEND_"`
	Domain     DomainConfig     `yaml:"domain"      envPrefix:"DOMAIN_"`
	Identity   IdentityConfig   `yaml:"identity"    envPrefix:"IDENTITY_"`
	TokenCache TokenCacheConfig `yaml:"token_cache" envPrefix:"TOKEN_CACHE_"`
	Redis      RedisConfig      `yaml:"redis"       envPrefix:"REDIS_"`
	Routes     RoutesConfig     `yaml:"routes"      envPrefix:"ROUTES_"`
	Logging    LoggingConfig    `yaml:"logging"     envPrefix:"LOGGING_"`
	Tracing    TracingConfig    `yaml:"tracing"     envPrefix:"TRACING_"`
}

// ServerConfig holds the main edge server settings.
type ServerConfig struct {
	Address      string          `yaml:"address"       env:"ADDRESS"`
	ReadTimeout  string          `yaml:"read_timeout"  env:"READ_TIMEOUT"`
	WriteTimeout string          `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout  string          `yaml:"idle_timeout"  env:"IDLE_TIMEOUT"`
	DrainTimeout string          `yaml:"drain_timeout" env:"DRAIN_TIMEOUT"`
	TLS          ServerTLSConfig `yaml:"tls"           envPrefix:"TLS_"`
}

// ServerTLSConfig holds optional TLS termination settings.
type ServerTLSConfig struct {
	Enabled      bool       `yaml:"enabled"       env:"ENABLED"`
	CertFile     string     `yaml:"cert_file"     env:"CERT_FILE"`
	KeyFile      string     `yaml:"key_file"      env:"KEY_FILE"`
	HTTP3Enabled bool       `yaml:"http3_enabled" env:"HTTP3_ENABLED"`
	MinVersion   TLSVersion `yaml:"min_version"   env:"MIN_VERSION"`
}

// AdminConfig holds the admin/metrics server settings.
type AdminConfig struct {
	Address      string `yaml:"address"       env:"ADDRESS"`
	ReadTimeout  string `yaml:"read_timeout"  env:"READ_TIMEOUT"`
	WriteTimeout string `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout  string `yaml:"idle_timeout"  env:"IDLE_TIMEOUT"`
}

// BackendConfig holds settings for the application backend the edge fronts.
type BackendConfig struct {
	URL             string `yaml:"url"               env:"URL"`
	Timeout         string `yaml:"timeout"           env:"TIMEOUT"`
	MaxIdleConns    int    `yaml:"max_idle_conns"    env:"MAX_IDLE_CONNS"`
	IdleConnTimeout string `yaml:"idle_conn_timeout" env:"IDLE_CONN_TIMEOUT"`
	// H2C enables HTTP/2 cleartext to the backend (pod-to-pod streaming).
	H2C bool `yaml:"h2c" env:"H2C"`
}

// DomainConfig controls tenant subdomain resolution.
type DomainConfig struct {
	// RootDomain is the production apex, e.g. "medicorex.app". Requests to
	// "<slug>.medicorex.app" resolve to tenant <slug>; the bare apex has no
	// tenant. In development mode "<slug>.localhost" is recognized instead.
	RootDomain         string      `yaml:"root_domain"         env:"ROOT_DOMAIN"`
	Environment        Environment `yaml:"environment"         env:"ENVIRONMENT"`
	ReservedSubdomains []string    `yaml:"reserved_subdomains" env:"RESERVED_SUBDOMAINS" envSeparator:","`
	// DebugHeaders attaches X-Medicorex-Tenant / X-Medicorex-User to
	// rewritten responses. Forced off in production regardless of this flag.
	DebugHeaders bool `yaml:"debug_headers" env:"DEBUG_HEADERS"`
}

// IdentityConfig holds token verification settings.
type IdentityConfig struct {
	// Mode selects remote HTTP verification or in-process HS256 verification.
	Mode VerifyMode `yaml:"mode" env:"MODE"`
	// VerifyURL is the internal verification endpoint of the identity
	// provider, called at most once per uncached token.
	VerifyURL string `yaml:"verify_url" env:"VERIFY_URL"`
	Timeout   string `yaml:"timeout"    env:"TIMEOUT"`
	// SessionSecret signs HS256 session JWTs; required in local mode.
	SessionSecret RedactedString `yaml:"session_secret" env:"SESSION_SECRET"`
	// CookieName is the auth cookie read from requests and cleared on
	// expired/revoked tokens.
	CookieName string `yaml:"cookie_name" env:"COOKIE_NAME"`
	// UserHeader carries the verified user ID to the backend on pass-through.
	UserHeader string `yaml:"user_header" env:"USER_HEADER"`
}

// TokenCacheConfig bounds the token→claims cache.
type TokenCacheConfig struct {
	Backend CacheBackend `yaml:"backend"  env:"BACKEND"`
	TTL     string       `yaml:"ttl"      env:"TTL"`
	MaxSize int          `yaml:"max_size" env:"MAX_SIZE"`
}

// RedisConfig holds connection settings for the redis token cache backend.
type RedisConfig struct {
	Addr        string         `yaml:"addr"         env:"ADDR"`
	Password    RedactedString `yaml:"password"     env:"PASSWORD"`
	DB          int            `yaml:"db"           env:"DB"`
	DialTimeout string         `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	PoolSize    int            `yaml:"pool_size"    env:"POOL_SIZE"`
	TLS         RedisTLSConfig `yaml:"tls"          envPrefix:"TLS_"`
}

// RedisTLSConfig holds Redis TLS settings.
type RedisTLSConfig struct {
	Enabled            bool `yaml:"enabled"              env:"ENABLED"`
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
}

// RoutesConfig holds the route classification sets and the well-known paths
// the pipeline redirects or rewrites to.
type RoutesConfig struct {
	// Public paths require no authentication (exact match).
	Public []string `yaml:"public" env:"PUBLIC" envSeparator:","`
	// Auth paths are the login/signup/password-reset pages; authenticated
	// users are redirected away from them.
	Auth []string `yaml:"auth" env:"AUTH" envSeparator:","`
	// APIPrefixes mark API routes (prefix match), excluded from the
	// redirect-based pipeline.
	APIPrefixes []string `yaml:"api_prefixes" env:"API_PREFIXES" envSeparator:","`

	LoginPath        string `yaml:"login_path"        env:"LOGIN_PATH"`
	DashboardPath    string `yaml:"dashboard_path"    env:"DASHBOARD_PATH"`
	BillingPath      string `yaml:"billing_path"      env:"BILLING_PATH"`
	UnauthorizedPath string `yaml:"unauthorized_path" env:"UNAUTHORIZED_PATH"`
	ErrorPath        string `yaml:"error_path"        env:"ERROR_PATH"`
	// TenantPrefix is the internal namespace requests are rewritten under.
	TenantPrefix string `yaml:"tenant_prefix" env:"TENANT_PREFIX"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"  env:"LEVEL"`
	Format LogFormat `yaml:"format" env:"FORMAT"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"      env:"ENABLED"`
	Endpoint    string  `yaml:"endpoint"     env:"ENDPOINT"`
	ServiceName string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate  float64 `yaml:"sample_rate"  env:"SAMPLE_RATE"`
}

// redactedPlaceholder replaces secret values in any textual output.
const redactedPlaceholder = "[REDACTED]"

// RedactedString is a string whose value never appears in logs, JSON, or
// %v/%#v formatting. Use Value() to read the secret.
type RedactedString string

// Value returns the underlying secret.
func (r RedactedString) Value() string { return string(r) }

// String implements fmt.Stringer — always returns a redacted placeholder.
func (r RedactedString) String() string {
	if r == "" {
		return ""
	}
	return redactedPlaceholder
}

// GoString implements fmt.GoStringer for %#v.
func (r RedactedString) GoString() string { return r.String() }

// MarshalJSON masks the value in JSON output.
func (r RedactedString) MarshalJSON() ([]byte, error) {
	if r == "" {
		return []byte(`""`), nil
	}
	return json.Marshal(redactedPlaceholder)
}

// Defaults returns a Config populated with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  "30s",
			WriteTimeout: "30s",
			IdleTimeout:  "120s",
			DrainTimeout: "30s",
		},
		Admin: AdminConfig{
			Address:      ":9090",
			ReadTimeout:  "5s",
			WriteTimeout: "10s",
			IdleTimeout:  "30s",
		},
		Backend: BackendConfig{
			Timeout:         "30s",
			MaxIdleConns:    100,
			IdleConnTimeout: "90s",
		},
		Domain: DomainConfig{
			RootDomain:  "medicorex.app",
			Environment: EnvProduction,
			ReservedSubdomains: []string{
				"www", "api", "admin", "app", "mail", "ftp",
				"staging", "dev", "test", "assets", "cdn", "status",
			},
		},
		Identity: IdentityConfig{
			Mode:       VerifyModeHTTP,
			Timeout:    "5s",
			CookieName: "mcx_session",
			UserHeader: "X-Medicorex-User",
		},
		TokenCache: TokenCacheConfig{
			Backend: CacheBackendMemory,
			TTL:     "5m",
			MaxSize: 1000,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			DialTimeout: "5s",
			PoolSize:    10,
		},
		Routes: RoutesConfig{
			Public:      []string{"/", "/about", "/pricing", "/contact", "/terms", "/privacy"},
			Auth:        []string{"/auth/login", "/auth/signup", "/auth/reset-password"},
			APIPrefixes: []string{"/api/"},

			LoginPath:        "/auth/login",
			DashboardPath:    "/dashboard",
			BillingPath:      "/billing",
			UnauthorizedPath: "/unauthorized",
			ErrorPath:        "/error",
			TenantPrefix:     "/_tenants",
		},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatJSON,
		},
		Tracing: TracingConfig{
			ServiceName: "medicorex-edge",
			SampleRate:  0.1,
		},
	}
}

// ConfigFilePath returns the resolved config file path (from env or default).
func ConfigFilePath() string {
	configFile := os.Getenv("MEDICOREX_CONFIG_FILE")
	if configFile == "" {
		configFile = defaultConfigFile
	}
	return configFile
}

// Load reads configuration from a YAML file and overlays environment variable
// overrides. The config file path defaults to /etc/medicorex/edge.yaml and
// can be overridden via MEDICOREX_CONFIG_FILE.
func Load() (*Config, error) {
	return LoadFromPath(ConfigFilePath())
}

// LoadFromPath reads configuration from the given YAML file and overlays
// environment variable overrides. Used by the config watcher to reload.
func LoadFromPath(configFile string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(configFile) // config file path is intentionally user-provided.
	if err == nil {
		if yamlErr := yaml.Unmarshal(data, cfg); yamlErr != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configFile, yamlErr)
		}
	}
	// If the file doesn't exist, we continue with defaults + env overrides.

	if envErr := env.ParseWithOptions(cfg, env.Options{Prefix: "MEDICOREX_"}); envErr != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", envErr)
	}

	cfg.normalize()

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// normalize lowercases all enum fields so that YAML values like "Production"
// or env values like "MEMORY" match the canonical lowercase constants.
func (cfg *Config) normalize() {
	cfg.Domain.Environment = Environment(strings.ToLower(string(cfg.Domain.Environment)))
	cfg.Identity.Mode = VerifyMode(strings.ToLower(string(cfg.Identity.Mode)))
	cfg.TokenCache.Backend = CacheBackend(strings.ToLower(string(cfg.TokenCache.Backend)))
	cfg.Logging.Level = LogLevel(strings.ToLower(string(cfg.Logging.Level)))
	cfg.Logging.Format = LogFormat(strings.ToLower(string(cfg.Logging.Format)))
	cfg.Server.TLS.MinVersion = TLSVersion(normalizeTLSVersion(string(cfg.Server.TLS.MinVersion)))

	cfg.Domain.RootDomain = strings.ToLower(strings.TrimSuffix(cfg.Domain.RootDomain, "."))
	for i, s := range cfg.Domain.ReservedSubdomains {
		cfg.Domain.ReservedSubdomains[i] = strings.ToLower(strings.TrimSpace(s))
	}
}

// normalizeTLSVersion maps the various accepted spellings to canonical "1.2" / "1.3".
func normalizeTLSVersion(v string) string {
	switch strings.ToLower(v) {
	case "1.3", "tls13", "tls1.3":
		return string(TLSVersion13)
	case "1.2", "tls12", "tls1.2":
		return string(TLSVersion12)
	default:
		return v // leave as-is; validation will catch invalid values
	}
}

// Validate checks that the configuration is internally consistent.
func Validate(cfg *Config) error {
	if err := validateBackend(cfg); err != nil {
		return err
	}
	if err := validateDomain(cfg); err != nil {
		return err
	}
	if err := validateIdentity(cfg); err != nil {
		return err
	}
	if err := validateTokenCache(cfg); err != nil {
		return err
	}
	if err := validateDurations(cfg); err != nil {
		return err
	}
	if err := validateTLS(cfg); err != nil {
		return err
	}
	if err := validateRoutes(cfg); err != nil {
		return err
	}
	if err := validateLogging(cfg); err != nil {
		return err
	}
	return validateTracing(cfg)
}

func validateBackend(cfg *Config) error {
	if cfg.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	u, err := url.Parse(cfg.Backend.URL)
	if err != nil {
		return fmt.Errorf("backend.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.url: scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("backend.url: missing host")
	}
	return nil
}

// rootDomainRe matches a dotted sequence of DNS labels.
var rootDomainRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)+$`)

func validateDomain(cfg *Config) error {
	if !cfg.Domain.Environment.Valid() {
		return fmt.Errorf("domain.environment: invalid value %q", cfg.Domain.Environment)
	}
	if cfg.Domain.Environment == EnvProduction {
		if cfg.Domain.RootDomain == "" {
			return fmt.Errorf("domain.root_domain is required in production")
		}
		if !rootDomainRe.MatchString(cfg.Domain.RootDomain) {
			return fmt.Errorf("domain.root_domain: %q is not a valid domain", cfg.Domain.RootDomain)
		}
	}
	return nil
}

func validateIdentity(cfg *Config) error {
	if !cfg.Identity.Mode.Valid() {
		return fmt.Errorf("identity.mode: invalid value %q", cfg.Identity.Mode)
	}
	switch cfg.Identity.Mode {
	case VerifyModeHTTP:
		if cfg.Identity.VerifyURL == "" {
			return fmt.Errorf("identity.verify_url is required in http mode")
		}
		u, err := url.Parse(cfg.Identity.VerifyURL)
		if err != nil {
			return fmt.Errorf("identity.verify_url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("identity.verify_url: scheme must be http or https, got %q", u.Scheme)
		}
	case VerifyModeLocal:
		if cfg.Identity.SessionSecret.Value() == "" {
			return fmt.Errorf("identity.session_secret is required in local mode")
		}
	}
	if cfg.Identity.CookieName == "" {
		return fmt.Errorf("identity.cookie_name must not be empty")
	}
	return nil
}

func validateTokenCache(cfg *Config) error {
	if !cfg.TokenCache.Backend.Valid() {
		return fmt.Errorf("token_cache.backend: invalid value %q", cfg.TokenCache.Backend)
	}
	if cfg.TokenCache.Backend == CacheBackendMemory && cfg.TokenCache.MaxSize <= 0 {
		return fmt.Errorf("token_cache.max_size must be positive, got %d", cfg.TokenCache.MaxSize)
	}
	if cfg.TokenCache.Backend == CacheBackendRedis && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when token_cache.backend is redis")
	}
	return nil
}

func validateDurations(cfg *Config) error {
	durations := map[string]string{
		"server.read_timeout":       cfg.Server.ReadTimeout,
		"server.write_timeout":      cfg.Server.WriteTimeout,
		"server.idle_timeout":       cfg.Server.IdleTimeout,
		"server.drain_timeout":      cfg.Server.DrainTimeout,
		"admin.read_timeout":        cfg.Admin.ReadTimeout,
		"admin.write_timeout":       cfg.Admin.WriteTimeout,
		"admin.idle_timeout":        cfg.Admin.IdleTimeout,
		"backend.timeout":           cfg.Backend.Timeout,
		"backend.idle_conn_timeout": cfg.Backend.IdleConnTimeout,
		"identity.timeout":          cfg.Identity.Timeout,
		"token_cache.ttl":           cfg.TokenCache.TTL,
		"redis.dial_timeout":        cfg.Redis.DialTimeout,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: invalid duration %q", name, value)
		}
	}
	return nil
}

func validateTLS(cfg *Config) error {
	tls := cfg.Server.TLS
	if !tls.Enabled {
		if tls.HTTP3Enabled {
			return fmt.Errorf("server.tls.http3_enabled requires server.tls.enabled")
		}
		return nil
	}
	if tls.CertFile == "" || tls.KeyFile == "" {
		return fmt.Errorf("server.tls: cert_file and key_file are required when TLS is enabled")
	}
	if !tls.MinVersion.Valid() {
		return fmt.Errorf("server.tls.min_version: invalid value %q", tls.MinVersion)
	}
	return nil
}

func validateRoutes(cfg *Config) error {
	paths := map[string]string{
		"routes.login_path":        cfg.Routes.LoginPath,
		"routes.dashboard_path":    cfg.Routes.DashboardPath,
		"routes.billing_path":      cfg.Routes.BillingPath,
		"routes.unauthorized_path": cfg.Routes.UnauthorizedPath,
		"routes.error_path":        cfg.Routes.ErrorPath,
		"routes.tenant_prefix":     cfg.Routes.TenantPrefix,
	}
	for name, p := range paths {
		if p == "" || !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s: must be a non-empty absolute path, got %q", name, p)
		}
	}
	if strings.HasSuffix(cfg.Routes.TenantPrefix, "/") {
		return fmt.Errorf("routes.tenant_prefix: must not end with a slash")
	}
	for _, p := range cfg.Routes.Auth {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("routes.auth: %q must be an absolute path", p)
		}
	}
	for _, p := range cfg.Routes.Public {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("routes.public: %q must be an absolute path", p)
		}
	}
	return nil
}

func validateLogging(cfg *Config) error {
	if cfg.Logging.Level != "" && !cfg.Logging.Level.Valid() {
		return fmt.Errorf("logging.level: invalid value %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "" && !cfg.Logging.Format.Valid() {
		return fmt.Errorf("logging.format: invalid value %q", cfg.Logging.Format)
	}
	return nil
}

func validateTracing(cfg *Config) error {
	if !cfg.Tracing.Enabled {
		return nil
	}
	if cfg.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate: must be in [0,1], got %v", cfg.Tracing.SampleRate)
	}
	return nil
}

// ParseDuration parses a duration string, returning the default on empty or
// invalid input along with the parse error (if any) for optional logging.
func ParseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def, err
	}
	return d, nil
}

// MustParseDuration parses a duration string, returning the default on empty
// or invalid input. Use only after Validate has accepted the config.
func MustParseDuration(s string, def time.Duration) time.Duration {
	d, err := ParseDuration(s, def)
	if err != nil {
		return def
	}
	return d
}

// RequiresRestart compares two configs and returns the names of changed
// settings that cannot be applied by hot-reload (listener addresses, TLS
// topology, backend transport). An empty slice means the change is fully
// hot-reloadable.
func (c *Config) RequiresRestart(old *Config) []string {
	if old == nil {
		return nil
	}
	var changed []string
	if c.Server.Address != old.Server.Address {
		changed = append(changed, "server.address")
	}
	if c.Admin.Address != old.Admin.Address {
		changed = append(changed, "admin.address")
	}
	if c.Server.TLS.Enabled != old.Server.TLS.Enabled ||
		c.Server.TLS.HTTP3Enabled != old.Server.TLS.HTTP3Enabled {
		changed = append(changed, "server.tls")
	}
	if c.Backend.URL != old.Backend.URL || c.Backend.H2C != old.Backend.H2C {
		changed = append(changed, "backend")
	}
	return changed
}
