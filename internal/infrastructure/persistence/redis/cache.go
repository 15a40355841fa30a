// Package redis implements the Redis caches used in front of PostgreSQL:
// the active grading configuration, computed deadline reports, and the
// lock that keeps a deadline scan on a single worker.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/practicas/practice-hub/pkg/circuitbreaker"
)

var (
	ErrCacheMiss          = errors.New("cache: key not found")
	ErrCacheConnection    = errors.New("cache: connection failed")
	ErrCacheSerialization = errors.New("cache: serialization failed")
	ErrCacheInvalidTTL    = errors.New("cache: invalid TTL")
	ErrCacheKeyEmpty      = errors.New("cache: key cannot be empty")
	ErrCacheNilValue      = errors.New("cache: value cannot be nil")
)

// Key layout. Every key lives under the practice-hub: namespace so the
// instance can share a Redis database.
const (
	PrefixGradingConfig  = "practice-hub:grading-config"
	PrefixDeadlineReport = "practice-hub:deadline-report:"
	PrefixLock           = "practice-hub:lock:"
)

const (
	// TTLGradingConfig bounds how long a config change takes to reach
	// every worker.
	TTLGradingConfig  = time.Minute
	TTLDeadlineReport = 10 * time.Minute

	scanBatch = 100
)

func DeadlineReportKey(key string) string { return PrefixDeadlineReport + key }
func LockKey(resource string) string { return PrefixLock + resource }

// ══════════════════════════════════════════════════════════════════════════════
// CONNECTION
// ══════════════════════════════════════════════════════════════════════════════

// Config locates the Redis server. URL wins over Host/Port when both are set.
type Config struct {
	URL      string
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Logger receives circuit breaker transitions.
	Logger *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Options converts c into go-redis client options.
func (c Config) Options() (*redis.Options, error) {
	if c.URL == "" {
		return &redis.Options{
			Addr:         net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
			Password:     c.Password,
			DB:           c.DB,
			PoolSize:     c.PoolSize,
			MinIdleConns: c.MinIdleConns,
			MaxRetries:   c.MaxRetries,
			DialTimeout:  c.DialTimeout,
			ReadTimeout:  c.ReadTimeout,
			WriteTimeout: c.WriteTimeout,
		}, nil
	}

	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return opts, nil
}

// Cache stores JSON values with TTLs. The typed caches built on it go
// through its circuit breaker; the raw methods below do not.
type Cache struct {
	client  *redis.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewCache connects and pings within the dial timeout.
func NewCache(ctx context.Context, cfg Config) (*Cache, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return &Cache{client: client, breaker: newBreaker(cfg.Logger)}, nil
}

func NewCacheFromClient(client *redis.Client) *Cache {
	return &Cache{client: client, breaker: newBreaker(nil)}
}

func (c *Cache) Breaker() *circuitbreaker.CircuitBreaker { return c.breaker }

// Client exposes the connection so the event bus can share it.
func (c *Cache) Client() *redis.Client { return c.client }

func (c *Cache) Close() error { return c.client.Close() }

// ══════════════════════════════════════════════════════════════════════════════
// JSON VALUES
// ══════════════════════════════════════════════════════════════════════════════

// Set stores value as JSON. A zero ttl means no expiry.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	switch {
	case key == "":
		return ErrCacheKeyEmpty
	case value == nil:
		return ErrCacheNilValue
	case ttl < 0:
		return ErrCacheInvalidTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Get decodes the value under key into dest, or returns ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// DeleteByPattern walks the keyspace with SCAN and deletes matches in
// batches, so it never blocks Redis the way KEYS would.
func (c *Cache) DeleteByPattern(ctx context.Context, pattern string) error {
	if pattern == "" {
		return ErrCacheKeyEmpty
	}

	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := c.client.Del(ctx, batch...).Err()
		batch = batch[:0]
		return err
	}

	iter := c.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		if batch = append(batch, iter.Val()); len(batch) == scanBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return flush()
}
