// Package jobs contains the worker's scheduled jobs.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/practicas/practice-hub/internal/application/query"
	"github.com/practicas/practice-hub/internal/domain/deadline"
	"github.com/practicas/practice-hub/internal/domain/shared"
	"github.com/practicas/practice-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DETECT OVERDUE JOB
// ══════════════════════════════════════════════════════════════════════════════

// DeadlineReporter produces a deadline report. query.DeadlineReportHandler implements it.
type DeadlineReporter interface {
	Handle(ctx context.Context, q query.DeadlineReportQuery) (*query.DeadlineReportResult, error)
}

// Locker keeps a scan on one worker at a time. The redis cache implements it.
type Locker interface {
	TryLock(ctx context.Context, resource, token string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// DetectOverdueJob classifies every active practice against its deadlines,
// hands the report to the notifier and announces the scan on the event bus.
type DetectOverdueJob struct {
	reporter       DeadlineReporter
	notifier       deadline.Notifier
	eventPublisher shared.EventPublisher
	locker         Locker // optional
	logger         *slog.Logger
	config         DetectOverdueConfig
	now            func() time.Time

	lastRunStats atomic.Pointer[DetectOverdueStats]
}

// DetectOverdueConfig contains configuration for the job.
type DetectOverdueConfig struct {
	// Timeout is the maximum duration of one run.
	Timeout time.Duration

	// LockTTL bounds how long a crashed worker can hold the scan lock.
	LockTTL time.Duration

	// RetryAttempts is how many times a dependency failure is tried in total.
	RetryAttempts int
}

// DefaultDetectOverdueConfig returns sensible defaults.
func DefaultDetectOverdueConfig() DetectOverdueConfig {
	return DetectOverdueConfig{
		Timeout:       5 * time.Minute,
		LockTTL:       10 * time.Minute,
		RetryAttempts: 3,
	}
}

// DetectOverdueStats contains statistics from one run.
type DetectOverdueStats struct {
	ScanID             string
	StartedAt          time.Time
	CompletedAt        time.Time
	Duration           time.Duration
	Checked            int
	Overdue            int
	Critical           int
	AcceptanceExpiring int
	EndingSoon         int
	ReportPending      int
	Notified           bool
	SkippedLocked      bool
}

// NewDetectOverdueJob creates the job. eventPublisher and locker may be nil.
func NewDetectOverdueJob(
	reporter DeadlineReporter,
	notifier deadline.Notifier,
	eventPublisher shared.EventPublisher,
	locker Locker,
	logger *slog.Logger,
	config DetectOverdueConfig,
) *DetectOverdueJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}
	return &DetectOverdueJob{
		reporter:       reporter,
		notifier:       notifier,
		eventPublisher: eventPublisher,
		locker:         locker,
		logger:         logger.With("job", "detect_overdue"),
		config:         config,
		now:            time.Now,
	}
}

// WithClock replaces the clock. Tests only.
func (j *DetectOverdueJob) WithClock(now func() time.Time) *DetectOverdueJob {
	j.now = now
	return j
}

// Name returns the job name.
func (j *DetectOverdueJob) Name() string {
	return "detect_overdue"
}

// Description returns a human-readable description.
func (j *DetectOverdueJob) Description() string {
	return "Classifies active practices against their deadlines and notifies coordinators"
}

// Run executes one scan.
func (j *DetectOverdueJob) Run(ctx context.Context) error {
	stats := &DetectOverdueStats{
		ScanID:    uuid.NewString(),
		StartedAt: j.now(),
	}
	log := j.logger.With("scan_id", stats.ScanID)

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	if j.locker != nil {
		release, ok, err := j.locker.TryLock(ctx, j.Name(), stats.ScanID, j.config.LockTTL)
		switch {
		case err != nil:
			// Without the lock two workers may both notify; that beats no scan.
			log.Warn("scan lock unavailable, running unlocked", "error", err)
		case !ok:
			log.Info("another worker holds the scan lock, skipping")
			stats.SkippedLocked = true
			j.finish(stats)
			return nil
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					log.Warn("failed to release scan lock", "error", err)
				}
			}()
		}
	}

	result, err := retry.DoWithData(ctx,
		func(ctx context.Context) (*query.DeadlineReportResult, error) {
			return j.reporter.Handle(ctx, query.DeadlineReportQuery{At: stats.StartedAt, SkipCache: true})
		},
		retry.WithMaxAttempts(j.config.RetryAttempts),
		retry.WithInitialDelay(200*time.Millisecond),
		retry.WithMaxDelay(5*time.Second),
		retry.WithRetryIf(shared.IsDependencyUnavailable),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("deadline report failed, retrying", "attempt", attempt, "delay", delay.String(), "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("detect_overdue: build report: %w", err)
	}
	report := result.Report

	stats.Checked = report.Checked
	stats.Overdue = report.Summary.Total
	stats.Critical = report.Summary.Critical
	stats.AcceptanceExpiring = len(report.AcceptanceExpiring)
	stats.EndingSoon = len(report.Milestones.EndingSoon)
	stats.ReportPending = len(report.Milestones.ReportPending)

	var notifyErr error
	if j.notifier != nil && !report.IsEmpty() {
		if notifyErr = j.notifier.NotifyDeadlines(ctx, report); notifyErr != nil {
			log.Error("failed to deliver deadline report", "error", notifyErr)
		} else {
			stats.Notified = true
		}
	}

	if j.eventPublisher != nil {
		_ = j.eventPublisher.Publish(shared.NewDeadlineScanCompletedEvent(
			stats.ScanID,
			stats.Overdue,
			stats.Critical,
			stats.AcceptanceExpiring,
			stats.EndingSoon,
			stats.ReportPending,
			j.now(),
		))
	}

	j.finish(stats)
	log.Info("deadline scan completed",
		"duration", stats.Duration.String(),
		"checked", stats.Checked,
		"overdue", stats.Overdue,
		"critical", stats.Critical,
		"acceptance_expiring", stats.AcceptanceExpiring,
		"ending_soon", stats.EndingSoon,
		"report_pending", stats.ReportPending,
		"average_days_late", report.Summary.AverageDaysLate,
	)

	if notifyErr != nil {
		return fmt.Errorf("detect_overdue: notify: %w", notifyErr)
	}
	return nil
}

func (j *DetectOverdueJob) finish(stats *DetectOverdueStats) {
	stats.CompletedAt = j.now()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	j.lastRunStats.Store(stats)
}

// LastRunStats returns statistics from the last run, or nil before the first.
func (j *DetectOverdueJob) LastRunStats() *DetectOverdueStats {
	return j.lastRunStats.Load()
}
