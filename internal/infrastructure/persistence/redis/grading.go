package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/practicas/practice-hub/internal/domain/deadline"
	"github.com/practicas/practice-hub/internal/domain/practice"
	"github.com/practicas/practice-hub/internal/domain/shared"
)

// store is the part of Cache the typed caches below rely on.
type store interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHED GRADING CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

type gradingConfigDTO struct {
	EmployerWeight  int    `json:"employer_weight"`
	ReportWeight    int    `json:"report_weight"`
	MinPassingGrade string `json:"min_passing_grade"`
}

// CachedConfigProvider serves the active grading configuration from Redis and
// falls back to the wrapped provider on a miss, a Redis failure or an open breaker.
type CachedConfigProvider struct {
	next   practice.ConfigProvider
	cache  store
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedConfigProvider wraps next. ttl <= 0 uses TTLGradingConfig.
func NewCachedConfigProvider(next practice.ConfigProvider, cache *Cache, ttl time.Duration, logger *slog.Logger) *CachedConfigProvider {
	return newCachedConfigProvider(next, guard(cache, cache.breaker), ttl, logger)
}

func newCachedConfigProvider(next practice.ConfigProvider, cache store, ttl time.Duration, logger *slog.Logger) *CachedConfigProvider {
	if ttl <= 0 {
		ttl = TTLGradingConfig
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedConfigProvider{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "grading_config_cache"),
	}
}

// ActiveGradingConfig implements practice.ConfigProvider.
func (p *CachedConfigProvider) ActiveGradingConfig(ctx context.Context) (practice.GradingConfig, error) {
	var dto gradingConfigDTO
	err := p.cache.Get(ctx, PrefixGradingConfig, &dto)
	if err == nil {
		if minPassing, perr := decimal.NewFromString(dto.MinPassingGrade); perr == nil {
			return practice.GradingConfig{
				EmployerWeight:  dto.EmployerWeight,
				ReportWeight:    dto.ReportWeight,
				MinPassingGrade: minPassing,
			}, nil
		}
	} else if !errors.Is(err, ErrCacheMiss) {
		p.logger.WarnContext(ctx, "grading config cache read failed", "error", err)
	}

	cfg, err := p.next.ActiveGradingConfig(ctx)
	if err != nil {
		return practice.GradingConfig{}, err
	}

	dto = gradingConfigDTO{
		EmployerWeight:  cfg.EmployerWeight,
		ReportWeight:    cfg.ReportWeight,
		MinPassingGrade: cfg.MinPassingGrade.String(),
	}
	if err := p.cache.Set(ctx, PrefixGradingConfig, dto, p.ttl); err != nil {
		p.logger.WarnContext(ctx, "grading config cache write failed", "error", err)
	}
	return cfg, nil
}

// Invalidate drops the cached configuration.
func (p *CachedConfigProvider) Invalidate(ctx context.Context) error {
	return p.cache.Delete(ctx, PrefixGradingConfig)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEADLINE REPORT CACHE
// ══════════════════════════════════════════════════════════════════════════════

// DeadlineReportCache implements query.DeadlineReportCache.
type DeadlineReportCache struct {
	cache  store
	ttl    time.Duration
	logger *slog.Logger
}

// NewDeadlineReportCache creates a report cache. ttl <= 0 uses TTLDeadlineReport.
func NewDeadlineReportCache(cache *Cache, ttl time.Duration, logger *slog.Logger) *DeadlineReportCache {
	return newDeadlineReportCache(guard(cache, cache.breaker), ttl, logger)
}

func newDeadlineReportCache(cache store, ttl time.Duration, logger *slog.Logger) *DeadlineReportCache {
	if ttl <= 0 {
		ttl = TTLDeadlineReport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadlineReportCache{
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "deadline_report_cache"),
	}
}

// Get returns the cached report, or nil on a miss.
func (c *DeadlineReportCache) Get(ctx context.Context, key string) (*deadline.Report, error) {
	var report deadline.Report
	err := c.cache.Get(ctx, DeadlineReportKey(key), &report)
	if errors.Is(err, ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, shared.Unavailable("deadline_cache", "Get", err)
	}
	return &report, nil
}

// Set stores a report under key.
func (c *DeadlineReportCache) Set(ctx context.Context, key string, report *deadline.Report) error {
	if report == nil {
		return nil
	}
	if err := c.cache.Set(ctx, DeadlineReportKey(key), report, c.ttl); err != nil {
		return shared.Unavailable("deadline_cache", "Set", err)
	}
	return nil
}

// InvalidateAll drops every cached report.
func (c *DeadlineReportCache) InvalidateAll(ctx context.Context) error {
	return c.cache.DeleteByPattern(ctx, PrefixDeadlineReport+"*")
}

// Register drops cached reports whenever a practice is created or changes.
func (c *DeadlineReportCache) Register(bus shared.EventSubscriber) error {
	for _, t := range []shared.EventType{
		shared.EventPracticeCreated,
		shared.EventPracticeStateChanged,
		shared.EventPracticeUpdated,
		shared.EventPracticeClosed,
	} {
		if err := bus.Subscribe(t, c.onPracticeChanged); err != nil {
			return err
		}
	}
	return nil
}

func (c *DeadlineReportCache) onPracticeChanged(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.InvalidateAll(ctx); err != nil {
		c.logger.Warn("failed to invalidate deadline reports",
			"event_type", event.EventType(),
			"practice_id", event.AggregateID(),
			"error", err,
		)
		return err
	}
	return nil
}
