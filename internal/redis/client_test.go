package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medicorex/edge/internal/config"
)

func TestNewClient(t *testing.T) {
	t.Run("connects and pings", func(t *testing.T) {
		mr := miniredis.RunT(t)

		c, err := NewClient(config.RedisConfig{Addr: mr.Addr()})
		require.NoError(t, err)
		defer c.Close()

		assert.NoError(t, c.Ping(context.Background()).Err())
	})

	t.Run("round-trips values with TTL", func(t *testing.T) {
		mr := miniredis.RunT(t)

		c, err := NewClient(config.RedisConfig{Addr: mr.Addr()})
		require.NoError(t, err)
		defer c.Close()

		ctx := context.Background()
		require.NoError(t, c.Set(ctx, "k", "v", time.Minute).Err())

		got, err := c.Get(ctx, "k").Result()
		require.NoError(t, err)
		assert.Equal(t, "v", got)

		mr.FastForward(2 * time.Minute)
		assert.Error(t, c.Get(ctx, "k").Err(), "value should expire")
	})

	t.Run("fails fast on unreachable address", func(t *testing.T) {
		_, err := NewClient(config.RedisConfig{
			Addr:        "127.0.0.1:1",
			DialTimeout: "100ms",
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "connect to 127.0.0.1:1")
	})
}

func TestInitLogger(t *testing.T) {
	// Must not panic; go-redis keeps the logger globally.
	InitLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}
