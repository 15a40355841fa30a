package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/practicas/practice-hub/pkg/circuitbreaker"
)

// guardedStore sends store calls through a circuit breaker. While the
// breaker is open calls fail fast with circuitbreaker.ErrCircuitOpen, which
// the typed caches treat like any other Redis failure.
type guardedStore struct {
	next    store
	breaker *circuitbreaker.CircuitBreaker
}

func guard(next store, breaker *circuitbreaker.CircuitBreaker) store {
	if breaker == nil {
		return next
	}
	return &guardedStore{next: next, breaker: breaker}
}

// isRedisFailure keeps misses and caller mistakes from opening the breaker.
func isRedisFailure(err error) bool {
	switch {
	case errors.Is(err, ErrCacheMiss),
		errors.Is(err, ErrCacheKeyEmpty),
		errors.Is(err, ErrCacheNilValue),
		errors.Is(err, ErrCacheInvalidTTL),
		errors.Is(err, ErrCacheSerialization),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func newBreaker(logger *slog.Logger) *circuitbreaker.CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	return circuitbreaker.CacheBreaker(isRedisFailure, func(name string, from, to circuitbreaker.State) {
		logger.Warn("cache circuit breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
	})
}

func (g *guardedStore) Get(ctx context.Context, key string, dest any) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.next.Get(ctx, key, dest)
	})
}

func (g *guardedStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.next.Set(ctx, key, value, ttl)
	})
}

func (g *guardedStore) Delete(ctx context.Context, keys ...string) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.next.Delete(ctx, keys...)
	})
}

func (g *guardedStore) DeleteByPattern(ctx context.Context, pattern string) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.next.DeleteByPattern(ctx, pattern)
	})
}
