// Package redis provides the client factory for the optional Redis-backed
// token cache. The Client interface is kept minimal — only the operations
// the token cache needs — to simplify testing and keep the coupling surface
// small.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/medicorex/edge/internal/config"
)

// slogRedisLogger adapts slog.Logger to the go-redis internal.Logging
// interface. go-redis logs connection pool errors and retry attempts
// through this adapter instead of the default log.Printf.
type slogRedisLogger struct {
	logger *slog.Logger
}

func (l *slogRedisLogger) Printf(ctx context.Context, format string, v ...interface{}) {
	l.logger.WarnContext(ctx, fmt.Sprintf(format, v...), "component", "go-redis")
}

// InitLogger redirects go-redis internal logs to the given slog.Logger.
// Call once at startup before any Redis client is created.
func InitLogger(logger *slog.Logger) {
	goredis.SetLogger(&slogRedisLogger{logger: logger})
}

// Client is the interface the token cache needs from Redis.
type Client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
	Ping(ctx context.Context) *goredis.StatusCmd
	Close() error
}

// NewClient creates a go-redis client for the configured address and
// verifies connectivity with an initial Ping.
func NewClient(cfg config.RedisConfig) (Client, error) {
	opts := &goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password.Value(),
		DB:          cfg.DB,
		DialTimeout: config.MustParseDuration(cfg.DialTimeout, 5*time.Second),
		PoolSize:    cfg.PoolSize,
	}
	if cfg.TLS.Enabled {
		opts.TLSConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // operator opt-in for self-signed dev setups
		}
	}

	c := goredis.NewClient(opts)
	if err := c.Ping(context.Background()).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: connect to %s: %w", cfg.Addr, err)
	}
	return c, nil
}
