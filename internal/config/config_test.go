package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseEnv is a test helper that applies env overrides to cfg using the same
// mechanism as Load(). It mirrors the MEDICOREX_ prefix used in production.
func parseEnv(t *testing.T, cfg *Config) {
	t.Helper()
	require.NoError(t, env.ParseWithOptions(cfg, env.Options{Prefix: "MEDICOREX_"}))
}

func TestDefaults(t *testing.T) {
	t.Run("returns non-nil config with sensible defaults", func(t *testing.T) {
		cfg := Defaults()

		assert.Equal(t, ":8080", cfg.Server.Address)
		assert.Equal(t, ":9090", cfg.Admin.Address)
		assert.Equal(t, "30s", cfg.Server.ReadTimeout)
		assert.Equal(t, "medicorex.app", cfg.Domain.RootDomain)
		assert.Equal(t, EnvProduction, cfg.Domain.Environment)
		assert.Contains(t, cfg.Domain.ReservedSubdomains, "www")
		assert.Contains(t, cfg.Domain.ReservedSubdomains, "api")
		assert.Equal(t, VerifyModeHTTP, cfg.Identity.Mode)
		assert.Equal(t, "mcx_session", cfg.Identity.CookieName)
		assert.Equal(t, "X-Medicorex-User", cfg.Identity.UserHeader)
		assert.Equal(t, CacheBackendMemory, cfg.TokenCache.Backend)
		assert.Equal(t, "5m", cfg.TokenCache.TTL)
		assert.Equal(t, 1000, cfg.TokenCache.MaxSize)
		assert.Equal(t, "/auth/login", cfg.Routes.LoginPath)
		assert.Equal(t, "/_tenants", cfg.Routes.TenantPrefix)
		assert.Equal(t, LogLevelInfo, cfg.Logging.Level)
		assert.Equal(t, LogFormatJSON, cfg.Logging.Format)
		assert.Equal(t, "medicorex-edge", cfg.Tracing.ServiceName)
	})
}

func TestLoadFromYAML(t *testing.T) {
	t.Run("parses valid YAML file", func(t *testing.T) {
		yamlContent := `
server:
  address: ":9999"
backend:
  url: "http://app-backend:3000"
domain:
  root_domain: "example.dev"
  environment: "development"
identity:
  mode: "http"
  verify_url: "http://identity:4000/internal/verify"
token_cache:
  backend: "memory"
  ttl: "2m"
  max_size: 500
logging:
  level: "debug"
  format: "text"
`
		tmpDir := t.TempDir()
		cfgFile := filepath.Join(tmpDir, "config.yaml")
		require.NoError(t, os.WriteFile(cfgFile, []byte(yamlContent), 0o644))

		t.Setenv("MEDICOREX_CONFIG_FILE", cfgFile)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, ":9999", cfg.Server.Address)
		assert.Equal(t, "http://app-backend:3000", cfg.Backend.URL)
		assert.Equal(t, "example.dev", cfg.Domain.RootDomain)
		assert.Equal(t, EnvDevelopment, cfg.Domain.Environment)
		assert.Equal(t, "2m", cfg.TokenCache.TTL)
		assert.Equal(t, 500, cfg.TokenCache.MaxSize)
		assert.Equal(t, LogLevelDebug, cfg.Logging.Level)
		assert.Equal(t, LogFormatText, cfg.Logging.Format)
	})

	t.Run("returns error for invalid YAML", func(t *testing.T) {
		tmpDir := t.TempDir()
		cfgFile := filepath.Join(tmpDir, "bad.yaml")
		require.NoError(t, os.WriteFile(cfgFile, []byte("{{invalid"), 0o644))

		t.Setenv("MEDICOREX_CONFIG_FILE", cfgFile)

		_, err := Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "parsing config file")
	})

	t.Run("uses defaults when config file does not exist", func(t *testing.T) {
		t.Setenv("MEDICOREX_CONFIG_FILE", "/nonexistent/config.yaml")
		t.Setenv("MEDICOREX_BACKEND_URL", "http://fallback-backend:8080")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "http://fallback-backend:8080", cfg.Backend.URL)
		assert.Equal(t, ":8080", cfg.Server.Address) // default
	})
}

func TestEnvOverrides(t *testing.T) {
	t.Run("env overrides string field", func(t *testing.T) {
		cfg := Defaults()

		t.Setenv("MEDICOREX_SERVER_ADDRESS", ":7777")
		t.Setenv("MEDICOREX_BACKEND_URL", "http://env-backend:9090")

		parseEnv(t, cfg)

		assert.Equal(t, ":7777", cfg.Server.Address)
		assert.Equal(t, "http://env-backend:9090", cfg.Backend.URL)
	})

	t.Run("env overrides nested and typed fields", func(t *testing.T) {
		cfg := Defaults()

		t.Setenv("MEDICOREX_TOKEN_CACHE_MAX_SIZE", "250")
		t.Setenv("MEDICOREX_TOKEN_CACHE_BACKEND", "redis")
		t.Setenv("MEDICOREX_DOMAIN_DEBUG_HEADERS", "true")

		parseEnv(t, cfg)

		assert.Equal(t, 250, cfg.TokenCache.MaxSize)
		assert.Equal(t, CacheBackendRedis, cfg.TokenCache.Backend)
		assert.True(t, cfg.Domain.DebugHeaders)
	})

	t.Run("env overrides slice field with comma separator", func(t *testing.T) {
		cfg := Defaults()

		t.Setenv("MEDICOREX_DOMAIN_RESERVED_SUBDOMAINS", "www,api,internal")
		t.Setenv("MEDICOREX_ROUTES_API_PREFIXES", "/api/,/v2/")

		parseEnv(t, cfg)

		assert.Equal(t, []string{"www", "api", "internal"}, cfg.Domain.ReservedSubdomains)
		assert.Equal(t, []string{"/api/", "/v2/"}, cfg.Routes.APIPrefixes)
	})

	t.Run("env parse error surfaces from Load", func(t *testing.T) {
		t.Setenv("MEDICOREX_CONFIG_FILE", "/nonexistent/config.yaml")
		t.Setenv("MEDICOREX_TOKEN_CACHE_MAX_SIZE", "not-a-number")

		_, err := Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "parsing environment variables")
	})
}

func TestNormalize(t *testing.T) {
	t.Run("lowercases enum values", func(t *testing.T) {
		cfg := Defaults()
		cfg.Domain.Environment = "PRODUCTION"
		cfg.Identity.Mode = "HTTP"
		cfg.TokenCache.Backend = "Memory"
		cfg.Logging.Level = "DEBUG"
		cfg.Logging.Format = "Text"

		cfg.normalize()

		assert.Equal(t, EnvProduction, cfg.Domain.Environment)
		assert.Equal(t, VerifyModeHTTP, cfg.Identity.Mode)
		assert.Equal(t, CacheBackendMemory, cfg.TokenCache.Backend)
		assert.Equal(t, LogLevelDebug, cfg.Logging.Level)
		assert.Equal(t, LogFormatText, cfg.Logging.Format)
	})

	t.Run("lowercases and trims root domain", func(t *testing.T) {
		cfg := Defaults()
		cfg.Domain.RootDomain = "MediCorex.App."
		cfg.Domain.ReservedSubdomains = []string{" WWW ", "Api"}

		cfg.normalize()

		assert.Equal(t, "medicorex.app", cfg.Domain.RootDomain)
		assert.Equal(t, []string{"www", "api"}, cfg.Domain.ReservedSubdomains)
	})

	t.Run("normalizes TLS version spellings", func(t *testing.T) {
		for _, tc := range []struct {
			in   string
			want TLSVersion
		}{
			{"TLS1.3", TLSVersion13},
			{"tls13", TLSVersion13},
			{"1.2", TLSVersion12},
			{"TLS12", TLSVersion12},
		} {
			cfg := Defaults()
			cfg.Server.TLS.MinVersion = TLSVersion(tc.in)
			cfg.normalize()
			assert.Equal(t, tc.want, cfg.Server.TLS.MinVersion, tc.in)
		}
	})
}

// validConfig returns a config that passes Validate, for mutation in tests.
func validConfig() *Config {
	cfg := Defaults()
	cfg.Backend.URL = "http://backend:3000"
	cfg.Identity.VerifyURL = "http://identity:4000/internal/verify"
	return cfg
}

func TestValidate(t *testing.T) {
	t.Run("accepts a fully valid config", func(t *testing.T) {
		assert.NoError(t, Validate(validConfig()))
	})

	t.Run("rejects missing backend URL", func(t *testing.T) {
		cfg := validConfig()
		cfg.Backend.URL = ""
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "backend.url is required")
	})

	t.Run("rejects backend URL with bad scheme", func(t *testing.T) {
		cfg := validConfig()
		cfg.Backend.URL = "ftp://backend:3000"
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scheme must be http or https")
	})

	t.Run("rejects invalid environment", func(t *testing.T) {
		cfg := validConfig()
		cfg.Domain.Environment = "staging"
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "domain.environment")
	})

	t.Run("requires root domain in production", func(t *testing.T) {
		cfg := validConfig()
		cfg.Domain.Environment = EnvProduction
		cfg.Domain.RootDomain = ""
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "root_domain is required")
	})

	t.Run("rejects malformed root domain", func(t *testing.T) {
		cfg := validConfig()
		cfg.Domain.RootDomain = "-bad-.app"
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a valid domain")
	})

	t.Run("allows empty root domain in development", func(t *testing.T) {
		cfg := validConfig()
		cfg.Domain.Environment = EnvDevelopment
		cfg.Domain.RootDomain = ""
		assert.NoError(t, Validate(cfg))
	})

	t.Run("requires verify URL in http mode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Identity.Mode = VerifyModeHTTP
		cfg.Identity.VerifyURL = ""
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "identity.verify_url is required")
	})

	t.Run("requires session secret in local mode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Identity.Mode = VerifyModeLocal
		cfg.Identity.SessionSecret = ""
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "identity.session_secret is required")
	})

	t.Run("rejects empty cookie name", func(t *testing.T) {
		cfg := validConfig()
		cfg.Identity.CookieName = ""
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cookie_name")
	})

	t.Run("rejects invalid cache backend", func(t *testing.T) {
		cfg := validConfig()
		cfg.TokenCache.Backend = "memcached"
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "token_cache.backend")
	})

	t.Run("rejects non-positive memory cache size", func(t *testing.T) {
		cfg := validConfig()
		cfg.TokenCache.Backend = CacheBackendMemory
		cfg.TokenCache.MaxSize = 0
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_size must be positive")
	})

	t.Run("requires redis addr for redis cache backend", func(t *testing.T) {
		cfg := validConfig()
		cfg.TokenCache.Backend = CacheBackendRedis
		cfg.Redis.Addr = ""
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis.addr is required")
	})

	t.Run("rejects invalid duration strings", func(t *testing.T) {
		cfg := validConfig()
		cfg.TokenCache.TTL = "five minutes"
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid duration")
	})

	t.Run("requires cert and key when TLS enabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.TLS.Enabled = true
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cert_file and key_file are required")
	})

	t.Run("rejects HTTP/3 without TLS", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.TLS.HTTP3Enabled = true
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "http3_enabled requires server.tls.enabled")
	})

	t.Run("rejects relative route paths", func(t *testing.T) {
		cfg := validConfig()
		cfg.Routes.LoginPath = "auth/login"
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "routes.login_path")
	})

	t.Run("rejects tenant prefix with trailing slash", func(t *testing.T) {
		cfg := validConfig()
		cfg.Routes.TenantPrefix = "/_tenants/"
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must not end with a slash")
	})

	t.Run("rejects invalid log level", func(t *testing.T) {
		cfg := validConfig()
		cfg.Logging.Level = "verbose"
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logging.level")
	})

	t.Run("requires tracing endpoint when enabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.Tracing.Enabled = true
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tracing.endpoint is required")
	})

	t.Run("rejects out-of-range sample rate", func(t *testing.T) {
		cfg := validConfig()
		cfg.Tracing.Enabled = true
		cfg.Tracing.Endpoint = "localhost:4318"
		cfg.Tracing.SampleRate = 1.5
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sample_rate")
	})
}

func TestEnumValid(t *testing.T) {
	assert.True(t, EnvDevelopment.Valid())
	assert.True(t, EnvProduction.Valid())
	assert.False(t, Environment("prod").Valid())

	assert.True(t, CacheBackendMemory.Valid())
	assert.True(t, CacheBackendRedis.Valid())
	assert.True(t, CacheBackendOff.Valid())
	assert.False(t, CacheBackend("lru").Valid())

	assert.True(t, VerifyModeHTTP.Valid())
	assert.True(t, VerifyModeLocal.Valid())
	assert.False(t, VerifyMode("grpc").Valid())

	assert.True(t, TLSVersion12.Valid())
	assert.True(t, TLSVersion13.Valid())
	assert.True(t, TLSVersion("").Valid())
	assert.False(t, TLSVersion("1.1").Valid())
}

func TestRedactedString(t *testing.T) {
	secret := RedactedString("super-secret-password")

	t.Run("String returns placeholder", func(t *testing.T) {
		assert.Equal(t, "[REDACTED]", secret.String())
		assert.Equal(t, "", RedactedString("").String())
	})

	t.Run("fmt verbs never leak the value", func(t *testing.T) {
		assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", secret))
		assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", secret))
		assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", secret))
	})

	t.Run("MarshalJSON masks the value", func(t *testing.T) {
		data, err := json.Marshal(secret)
		require.NoError(t, err)
		assert.Equal(t, `"[REDACTED]"`, string(data))

		data, err = json.Marshal(RedactedString(""))
		require.NoError(t, err)
		assert.Equal(t, `""`, string(data))
	})

	t.Run("Value returns the secret", func(t *testing.T) {
		assert.Equal(t, "super-secret-password", secret.Value())
	})
}

func TestParseDuration(t *testing.T) {
	t.Run("parses valid duration", func(t *testing.T) {
		d, err := ParseDuration("5s", 0)
		require.NoError(t, err)
		assert.Equal(t, int64(5e9), int64(d))
	})

	t.Run("returns default for empty string", func(t *testing.T) {
		d, err := ParseDuration("", 10e9)
		require.NoError(t, err)
		assert.Equal(t, int64(10e9), int64(d))
	})

	t.Run("returns error for invalid duration", func(t *testing.T) {
		_, err := ParseDuration("nope", 0)
		assert.Error(t, err)
	})

	t.Run("MustParseDuration falls back on invalid input", func(t *testing.T) {
		assert.Equal(t, int64(3e9), int64(MustParseDuration("not-a-duration", 3e9)))
		assert.Equal(t, int64(10e9), int64(MustParseDuration("", 10e9)))
		assert.Equal(t, int64(5e9), int64(MustParseDuration("5s", 0)))
	})
}

func TestRequiresRestart(t *testing.T) {
	t.Run("nil old config requires no restart", func(t *testing.T) {
		assert.Nil(t, validConfig().RequiresRestart(nil))
	})

	t.Run("identical configs require no restart", func(t *testing.T) {
		base := validConfig()
		same := *base
		assert.Empty(t, base.RequiresRestart(&same))
	})

	t.Run("address change requires restart", func(t *testing.T) {
		cfg := validConfig()
		old := *cfg
		old.Server.Address = ":8081"
		assert.Contains(t, cfg.RequiresRestart(&old), "server.address")
	})

	t.Run("TLS toggle requires restart", func(t *testing.T) {
		cfg := validConfig()
		old := *cfg
		old.Server.TLS.Enabled = true
		assert.Contains(t, cfg.RequiresRestart(&old), "server.tls")
	})

	t.Run("backend change requires restart", func(t *testing.T) {
		cfg := validConfig()
		old := *cfg
		old.Backend.URL = "http://other:3000"
		assert.Contains(t, cfg.RequiresRestart(&old), "backend")
	})

	t.Run("route set change is hot-reloadable", func(t *testing.T) {
		cfg := validConfig()
		old := *cfg
		old.Routes.Public = []string{"/", "/about"}
		old.TokenCache.TTL = "10m"
		assert.Empty(t, cfg.RequiresRestart(&old))
	})
}
