// Package app assembles storage, caches, the event bus and the application
// handlers from configuration. cmd/worker and cmd/practicectl share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/practicas/practice-hub/config"
	"github.com/practicas/practice-hub/internal/application/command"
	"github.com/practicas/practice-hub/internal/application/query"
	"github.com/practicas/practice-hub/internal/domain/deadline"
	"github.com/practicas/practice-hub/internal/domain/practice"
	"github.com/practicas/practice-hub/internal/domain/shared"
	"github.com/practicas/practice-hub/internal/infrastructure/messaging"
	"github.com/practicas/practice-hub/internal/infrastructure/persistence/memory"
	"github.com/practicas/practice-hub/internal/infrastructure/persistence/postgres"
	"github.com/practicas/practice-hub/internal/infrastructure/persistence/redis"
	"github.com/practicas/practice-hub/internal/infrastructure/scheduler/jobs"
	"github.com/practicas/practice-hub/internal/infrastructure/service"
)

// EventBus is what the application needs from an event bus implementation.
type EventBus interface {
	shared.EventPublisher
	shared.EventSubscriber
	Close() error
}

// Storage groups the repositories of one backend.
type Storage struct {
	Practices   practice.Repository
	Evaluations practice.EvaluationRepository
	Closures    practice.ClosureRepository
	Configs     practice.ConfigProvider
	Tx          practice.Transactor
}

// App holds every wired component. Fields for optional components are nil
// when the component is disabled.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Storage

	DB     *postgres.Connection // nil with the memory driver
	Memory *memory.DB           // nil with the postgres driver
	Cache  *redis.Cache         // nil when Redis is disabled or unreachable

	GradingCache *redis.CachedConfigProvider
	ReportCache  *redis.DeadlineReportCache

	Bus      EventBus
	Notifier *service.NotifierStub

	CreatePractice   *command.CreatePracticeHandler
	ChangeState      *command.ChangeStateHandler
	UpdateDetails    *command.UpdateDetailsHandler
	SubmitEvaluation *command.SubmitEvaluationHandler
	CloseEvaluation  *command.CloseEvaluationHandler
	DeadlineReport   *query.DeadlineReportHandler

	closers []func() error
}

// New connects every backend named by cfg and wires the handlers.
// On error, whatever was already opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.initStorage(ctx); err != nil {
		return nil, err
	}
	a.initCache(ctx)
	if err := a.initEventBus(ctx); err != nil {
		return nil, err
	}
	if err := a.initSubscribers(); err != nil {
		return nil, err
	}
	a.initHandlers()

	return a, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// STORAGE
// ─────────────────────────────────────────────────────────────────────────────

func (a *App) initStorage(ctx context.Context) error {
	switch a.Config.Database.Driver {
	case config.StorageMemory:
		a.Logger.Warn("using in-memory storage; data is lost on exit")
		db := memory.NewDB()
		db.SetGradingConfig(ctx, a.gradingDefaults())
		a.Memory = db
		a.Storage = Storage{
			Practices:   memory.NewPracticeRepository(db),
			Evaluations: memory.NewEvaluationRepository(db),
			Closures:    memory.NewClosureRepository(db),
			Configs:     db,
			Tx:          db,
		}
		return nil

	case config.StoragePostgres:
		a.Logger.Info("connecting to database...")
		conn, err := postgres.NewConnection(ctx, postgresConfig(a.Config.Database))
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DB = conn
		a.closers = append(a.closers, func() error {
			a.Logger.Info("closing database connection...")
			conn.Close()
			return nil
		})
		a.Logger.Info("database connection established")

		if a.Config.Database.AutoMigrate {
			a.Logger.Info("checking database migrations...")
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			a.Logger.Info("database schema is up to date")
		}

		a.Storage = Storage{
			Practices:   postgres.NewPracticeRepository(conn),
			Evaluations: postgres.NewEvaluationRepository(conn),
			Closures:    postgres.NewClosureRepository(conn),
			Configs:     postgres.NewConfigProvider(conn),
			Tx:          conn,
		}
		return nil
	}
	return fmt.Errorf("unknown storage driver %q", a.Config.Database.Driver)
}

func (a *App) gradingDefaults() practice.GradingConfig {
	return practice.GradingConfig{
		EmployerWeight:  a.Config.Grading.EmployerWeight,
		ReportWeight:    a.Config.Grading.ReportWeight,
		MinPassingGrade: a.Config.Grading.MinPassingGrade,
	}
}

func postgresConfig(c config.DatabaseConfig) postgres.Config {
	pg := postgres.DefaultConfig()
	pg.URL = c.URL
	pg.MaxConns = c.MaxConns
	pg.MinConns = c.MinConns
	pg.MaxConnLifetime = c.ConnMaxLifetime
	pg.MaxConnIdleTime = c.ConnMaxIdleTime
	pg.ConnectTimeout = c.ConnectTimeout
	return pg
}

// SetGradingConfig replaces the active grading configuration and drops the
// cached copy.
func (a *App) SetGradingConfig(ctx context.Context, cfg practice.GradingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	switch {
	case a.DB != nil:
		if err := postgres.NewConfigProvider(a.DB).SetGradingConfig(ctx, cfg); err != nil {
			return err
		}
	case a.Memory != nil:
		a.Memory.SetGradingConfig(ctx, cfg)
	}
	if a.GradingCache != nil {
		if err := a.GradingCache.Invalidate(ctx); err != nil {
			a.Logger.Warn("failed to invalidate grading config cache", "error", err)
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// CACHE
// ─────────────────────────────────────────────────────────────────────────────

// initCache connects to Redis. A connection failure only disables caching,
// unless the event bus needs Redis, which initEventBus reports.
func (a *App) initCache(ctx context.Context) {
	rc := a.Config.Redis
	if rc.Disabled {
		a.Logger.Info("redis disabled, caching off")
		return
	}

	a.Logger.Info("connecting to Redis...")
	cache, err := redis.NewCache(ctx, redisConfig(rc, a.Logger))
	if err != nil {
		a.Logger.Warn("failed to connect to Redis, caching disabled", "error", err)
		return
	}
	a.Cache = cache
	a.closers = append(a.closers, cache.Close)
	a.Logger.Info("Redis connection established")

	a.GradingCache = redis.NewCachedConfigProvider(a.Configs, cache, rc.GradingConfigTTL, a.Logger)
	a.Configs = a.GradingCache
	a.ReportCache = redis.NewDeadlineReportCache(cache, rc.DeadlineReportTTL, a.Logger)
}

func redisConfig(c config.RedisConfig, logger *slog.Logger) redis.Config {
	rc := redis.DefaultConfig()
	rc.URL = c.URL
	rc.Host = c.Host
	rc.Port = c.Port
	rc.Password = c.Password
	rc.DB = c.DB
	rc.PoolSize = c.PoolSize
	rc.MinIdleConns = c.MinIdleConns
	rc.DialTimeout = c.DialTimeout
	rc.ReadTimeout = c.ReadTimeout
	rc.WriteTimeout = c.WriteTimeout
	rc.Logger = logger
	return rc
}

// Locker returns the scan lock backend, or nil without Redis.
func (a *App) Locker() jobs.Locker {
	if a.Cache == nil {
		return nil
	}
	return a.Cache
}

func (a *App) reportCache() query.DeadlineReportCache {
	if a.ReportCache == nil {
		return nil
	}
	return a.ReportCache
}

// ─────────────────────────────────────────────────────────────────────────────
// EVENTS
// ─────────────────────────────────────────────────────────────────────────────

func (a *App) initEventBus(ctx context.Context) error {
	local := messaging.InMemoryEventBusConfig{
		AsyncMode:      a.Config.Events.Async,
		WorkerPoolSize: a.Config.Events.WorkerPool,
		Logger:         a.Logger,
	}

	if a.Config.Events.Backend == config.EventsRedis {
		if a.Cache == nil {
			return errors.New("redis event bus requested but Redis is unavailable")
		}
		bus, err := messaging.NewRedisEventBus(ctx, messaging.RedisEventBusConfig{
			Client:         a.Cache.Client(),
			ChannelName:    a.Config.Events.Channel,
			LocalBusConfig: local,
			Logger:         a.Logger,
		})
		if err != nil {
			return fmt.Errorf("failed to start redis event bus: %w", err)
		}
		a.Bus = bus
	} else {
		a.Bus = messaging.NewInMemoryEventBus(local)
	}

	bus := a.Bus
	a.closers = append(a.closers, func() error {
		a.Logger.Info("closing event bus...")
		return bus.Close()
	})
	return nil
}

func (a *App) initSubscribers() error {
	if err := service.NewAuditLogger(a.Logger).Register(a.Bus); err != nil {
		return fmt.Errorf("register audit logger: %w", err)
	}

	a.Notifier = service.NewNotifierStub(a.Logger)
	if err := a.Notifier.Register(a.Bus); err != nil {
		return fmt.Errorf("register notifier: %w", err)
	}

	if a.ReportCache != nil {
		if err := a.ReportCache.Register(a.Bus); err != nil {
			return fmt.Errorf("register report cache: %w", err)
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// HANDLERS
// ─────────────────────────────────────────────────────────────────────────────

func (a *App) initHandlers() {
	s := a.Storage

	a.CreatePractice = command.NewCreatePracticeHandler(s.Practices, a.Bus, nil)
	a.ChangeState = command.NewChangeStateHandler(s.Practices, s.Tx, a.Bus, nil)
	a.UpdateDetails = command.NewUpdateDetailsHandler(s.Practices, s.Tx, a.Bus, nil)
	a.SubmitEvaluation = command.NewSubmitEvaluationHandler(s.Practices, s.Evaluations, s.Tx, a.Bus, nil)
	a.CloseEvaluation = command.NewCloseEvaluationHandler(command.CloseEvaluationDeps{
		Practices:      s.Practices,
		Evaluations:    s.Evaluations,
		Closures:       s.Closures,
		Configs:        s.Configs,
		Tx:             s.Tx,
		EventPublisher: a.Bus,
		Logger:         a.Logger,
	})

	a.DeadlineReport = query.NewDeadlineReportHandler(s.Practices, a.reportCache(), a.deadlineReportConfig(), a.Logger)
}

func (a *App) deadlineReportConfig() query.DeadlineReportConfig {
	d := a.Config.Deadlines
	return query.DeadlineReportConfig{
		Deadlines: deadline.Config{
			AcceptanceWindowDays: d.AcceptanceWindowDays,
			UpcomingWindowDays:   d.UpcomingWindowDays,
			Location:             a.Config.App.Location,
		},
		ParallelThreshold: d.ParallelThreshold,
		Workers:           d.Workers,
	}
}

// Close releases every backend in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
