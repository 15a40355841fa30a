// Package main is the background worker of Practice Hub.
//
// The worker runs the periodic deadline scan: it classifies every active
// practice against its deadlines, notifies coordinators and publishes a
// summary event. Storage, caches and the event bus come from internal/app.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/practicas/practice-hub/config"
	"github.com/practicas/practice-hub/internal/app"
	"github.com/practicas/practice-hub/internal/domain/practice"
	"github.com/practicas/practice-hub/internal/infrastructure/scheduler"
	"github.com/practicas/practice-hub/internal/infrastructure/scheduler/jobs"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting Practice Hub worker",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"timezone", cfg.App.Timezone,
		"storage", cfg.Database.Driver,
		"events", cfg.Events.Backend,
	)

	// Parse the schedule before touching any backend.
	scanSchedule, err := scheduler.ParseSchedule(cfg.Scheduler.DeadlineScan)
	if err != nil {
		return fmt.Errorf("invalid SCHEDULER_DEADLINE_SCAN: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. STORAGE, CACHE, EVENT BUS, HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer application.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. JOBS
	// ─────────────────────────────────────────────────────────────────────────
	detectOverdue := jobs.NewDetectOverdueJob(
		application.DeadlineReport,
		application.Notifier,
		application.Bus,
		application.Locker(),
		log,
		jobs.DetectOverdueConfig{
			Timeout:       cfg.Scheduler.JobTimeout,
			LockTTL:       cfg.Scheduler.LockTTL,
			RetryAttempts: cfg.Scheduler.RetryAttempts,
		},
	)

	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:       log,
		Timezone:     cfg.App.Location,
		TickInterval: cfg.Scheduler.TickInterval,
	})
	if err := sched.Register(detectOverdue, scanSchedule); err != nil {
		return fmt.Errorf("failed to register %s: %w", detectOverdue.Name(), err)
	}
	sched.OnJobComplete(func(r scheduler.JobResult) {
		if r.Success {
			return
		}
		for _, info := range sched.ListJobs() {
			if info.Name == r.JobName {
				log.Warn("job failure count", "job", r.JobName, "failures", info.FailCount, "runs", info.RunCount)
			}
		}
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 5. START
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		for _, info := range sched.ListJobs() {
			log.Info("job scheduled", "job", info.Name, "schedule", info.Schedule, "next_run", info.NextRun)
		}
	} else {
		log.Warn("scheduler disabled; deadline scans run only on start")
	}

	if cfg.Scheduler.RunOnStart || !cfg.Scheduler.Enabled {
		if _, err := sched.RunNow(ctx, detectOverdue.Name()); err != nil && !errors.Is(err, scheduler.ErrJobRunning) {
			log.Error("initial deadline scan failed", "error", err)
		}
	}

	log.Info("Practice Hub worker is running")

	// ─────────────────────────────────────────────────────────────────────────
	// 6. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	if sched.IsRunning() {
		stopped := make(chan error, 1)
		go func() { stopped <- sched.Stop() }()

		select {
		case err := <-stopped:
			if err != nil {
				log.Warn("scheduler stop failed", "error", err)
			}
		case <-time.After(cfg.App.ShutdownTimeout):
			log.Warn("scheduler did not stop in time, abandoning running jobs")
		}
	}

	if stats := detectOverdue.LastRunStats(); stats != nil {
		log.Info("last deadline scan",
			"scan_id", stats.ScanID,
			"completed_at", stats.CompletedAt,
			"overdue", stats.Overdue,
			"critical", stats.Critical,
		)
	}

	if application.Cache != nil {
		breaker := application.Cache.Breaker()
		counts := breaker.Counts()
		log.Info("cache breaker",
			"state", breaker.State().String(),
			"failures", counts.TotalFailures,
			"rejected", counts.Rejected,
		)
	}

	countCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	logPracticeCounts(countCtx, log, application.Practices)
	cancel()

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger configures structured logging.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}

	var handler slog.Handler
	if strings.EqualFold(cfg.Observability.LogFormat, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler).With("app", cfg.App.Name)
	slog.SetDefault(log)
	return log
}

// logPracticeCounts logs how many practices sit in each lifecycle state.
func logPracticeCounts(ctx context.Context, log *slog.Logger, practices practice.Repository) {
	counts, err := practices.CountByState(ctx)
	if err != nil {
		log.Warn("failed to count practices", "error", err)
		return
	}
	attrs := make([]any, 0, 2*len(practice.States))
	for _, s := range practice.States {
		attrs = append(attrs, string(s), counts[s])
	}
	log.Info("practices by state", attrs...)
}
