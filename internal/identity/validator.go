package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/medicorex/edge/internal/tokencache"
)

// Validator caches verified claims in front of a Verifier. Concurrent
// validations of the same token are collapsed into a single provider call.
type Validator struct {
	verifier Verifier
	cache    tokencache.Cache[Claims]
	ttl      time.Duration
	group    singleflight.Group
	logger   *slog.Logger
	observe  func(time.Duration) // verification round-trip timing, may be nil
}

// ValidatorOption customizes a Validator.
type ValidatorOption func(*Validator)

// WithVerifyObserver records the duration of each provider round-trip
// (cache hits are not observed).
func WithVerifyObserver(f func(time.Duration)) ValidatorOption {
	return func(v *Validator) { v.observe = f }
}

// NewValidator creates a cache-through validator. Only positive results are
// cached: a rejected token is cheap to reject again, and caching rejections
// would delay recovery after re-login.
func NewValidator(verifier Verifier, cache tokencache.Cache[Claims], ttl time.Duration, logger *slog.Logger, opts ...ValidatorOption) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Validator{
		verifier: verifier,
		cache:    cache,
		ttl:      ttl,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate returns the claims for a session token, consulting the cache
// first. An empty token returns ErrNoToken without touching the verifier.
func (v *Validator) Validate(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrNoToken
	}

	key := cacheKey(token)
	if claims, ok := v.cache.Get(ctx, key); ok {
		return &claims, nil
	}

	result, err, _ := v.group.Do(key, func() (any, error) {
		start := time.Now()
		claims, verifyErr := v.verifier.Verify(ctx, token)
		if v.observe != nil {
			v.observe(time.Since(start))
		}
		if verifyErr != nil {
			return nil, verifyErr
		}
		v.cache.Set(ctx, key, *claims, v.ttl)
		return claims, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Claims), nil
}

// CheckTenant returns the user's role in the tenant, or ErrNoTenantAccess
// when the claims grant none.
func (v *Validator) CheckTenant(claims *Claims, slug string) (string, error) {
	role := claims.RoleFor(slug)
	if role == "" {
		return "", ErrNoTenantAccess
	}
	return role, nil
}

// Invalidate drops a token's cached claims, forcing re-verification on the
// next request. Called when a downstream signal says the session changed.
func (v *Validator) Invalidate(ctx context.Context, token string) {
	if token == "" {
		return
	}
	v.cache.Delete(ctx, cacheKey(token))
}

// cacheKey hashes the token so raw session tokens never appear as cache
// keys in memory dumps or Redis.
func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
