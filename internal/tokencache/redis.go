package tokencache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/medicorex/edge/internal/redis"
)

const keyPrefix = "mcx:token:"

// Redis is a token cache backed by Redis. Redis enforces the TTL itself;
// the size bound is delegated to the server's maxmemory policy, so Len
// reports -1. Errors degrade to misses so a Redis outage never breaks
// verification, only removes its shortcut.
type Redis[V any] struct {
	client redis.Client
	logger *slog.Logger
	stats  *Stats
}

// RedisOption configures a Redis cache.
type RedisOption[V any] func(*Redis[V])

// WithRedisStats attaches hit/miss callbacks.
func WithRedisStats[V any](s *Stats) RedisOption[V] {
	return func(r *Redis[V]) { r.stats = s }
}

// WithRedisLogger sets the logger for degraded-operation messages.
func WithRedisLogger[V any](l *slog.Logger) RedisOption[V] {
	return func(r *Redis[V]) { r.logger = l }
}

// NewRedis creates a Redis-backed token cache.
func NewRedis[V any](client redis.Client, opts ...RedisOption[V]) *Redis[V] {
	r := &Redis[V]{
		client: client,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	data, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		r.stats.miss()
		return zero, false
	}
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		r.logger.Debug("tokencache: unmarshal error", "error", err)
		r.stats.miss()
		return zero, false
	}
	r.stats.hit()
	return v, true
}

func (r *Redis[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		r.logger.Debug("tokencache: marshal error", "error", err)
		return
	}
	if err := r.client.Set(ctx, keyPrefix+key, data, ttl).Err(); err != nil {
		r.logger.Debug("tokencache: set error", "error", err)
	}
}

func (r *Redis[V]) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		r.logger.Debug("tokencache: delete error", "error", err)
	}
}

// Len always reports -1: entry counting over the network is not worth a
// KEYS scan, and the bound lives server-side anyway.
func (r *Redis[V]) Len() int { return -1 }
