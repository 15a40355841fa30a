// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/practicas/practice-hub/internal/domain/deadline"
	"github.com/practicas/practice-hub/internal/domain/practice"
	"github.com/practicas/practice-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEADLINE REPORT QUERY
// Classifies every active practice against its deadlines and summarizes the
// overdue ones. Reports are cached per calendar day and program.
// ══════════════════════════════════════════════════════════════════════════════

// DeadlineReportQuery contains the parameters of a deadline report.
type DeadlineReportQuery struct {
	// At is the reference time. Zero means now.
	At time.Time

	// Program restricts the report to one program name. Empty means all.
	Program string

	// SkipCache forces a fresh classification.
	SkipCache bool
}

// DeadlineReportResult contains the report and where it came from.
type DeadlineReportResult struct {
	Report    *deadline.Report
	FromCache bool
}

// DeadlineReportCache stores computed reports.
type DeadlineReportCache interface {
	// Get returns the cached report for key, or nil on a miss.
	Get(ctx context.Context, key string) (*deadline.Report, error)

	// Set stores a report under key.
	Set(ctx context.Context, key string, report *deadline.Report) error
}

// DeadlineReportConfig tunes the handler.
type DeadlineReportConfig struct {
	Deadlines deadline.Config

	// ParallelThreshold - at or above this many practices the overdue check
	// runs on Workers goroutines.
	ParallelThreshold int
	Workers           int
}

// DefaultDeadlineReportConfig returns the default tuning.
func DefaultDeadlineReportConfig() DeadlineReportConfig {
	return DeadlineReportConfig{
		Deadlines:         deadline.DefaultConfig(),
		ParallelThreshold: 500,
		Workers:           4,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// DeadlineReportHandler handles the DeadlineReportQuery.
type DeadlineReportHandler struct {
	practices practice.Repository
	cache     DeadlineReportCache // optional
	config    DeadlineReportConfig
	now       func() time.Time
	logger    *slog.Logger
}

// NewDeadlineReportHandler creates a new DeadlineReportHandler. cache may be nil.
func NewDeadlineReportHandler(
	practices practice.Repository,
	cache DeadlineReportCache,
	config DeadlineReportConfig,
	logger *slog.Logger,
) *DeadlineReportHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadlineReportHandler{
		practices: practices,
		cache:     cache,
		config:    config,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock replaces the clock used when the query carries no reference time.
func (h *DeadlineReportHandler) WithClock(now func() time.Time) *DeadlineReportHandler {
	h.now = now
	return h
}

// Handle executes the deadline report query.
func (h *DeadlineReportHandler) Handle(ctx context.Context, q DeadlineReportQuery) (*DeadlineReportResult, error) {
	if err := h.config.Deadlines.Validate(); err != nil {
		return nil, err
	}

	at := q.At
	if at.IsZero() {
		at = h.now()
	}
	key := h.cacheKey(at, q.Program)

	if h.cache != nil && !q.SkipCache {
		cached, err := h.cache.Get(ctx, key)
		if err != nil {
			// A broken cache degrades to a fresh computation.
			h.logger.Warn("deadline report cache read failed", "key", key, "error", err)
		} else if cached != nil {
			return &DeadlineReportResult{Report: cached, FromCache: true}, nil
		}
	}

	practices, err := h.practices.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("deadline_report: list active practices: %w", err)
	}
	practices = filterProgram(practices, q.Program)

	report, err := h.classify(ctx, at, practices)
	if err != nil {
		return nil, fmt.Errorf("deadline_report: %w", err)
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, key, report); err != nil {
			h.logger.Warn("deadline report cache write failed", "key", key, "error", err)
		}
	}

	return &DeadlineReportResult{Report: report}, nil
}

func (h *DeadlineReportHandler) classify(ctx context.Context, at time.Time, practices []*practice.Practice) (*deadline.Report, error) {
	cfg := h.config.Deadlines
	if h.config.Workers > 1 && len(practices) >= h.config.ParallelThreshold {
		report, err := deadline.ClassifyParallel(ctx, at, practices, cfg, h.config.Workers)
		if err != nil {
			return nil, err
		}
		return &report, nil
	}
	report := deadline.Classify(at, practices, cfg)
	return &report, nil
}

func (h *DeadlineReportHandler) cacheKey(at time.Time, program string) string {
	day := timeutil.FormatDate(at, h.config.Deadlines.Location)
	if program = strings.TrimSpace(program); program == "" {
		return day
	}
	return day + ":" + strings.ToLower(program)
}

func filterProgram(practices []*practice.Practice, program string) []*practice.Practice {
	program = strings.TrimSpace(program)
	if program == "" {
		return practices
	}
	out := make([]*practice.Practice, 0, len(practices))
	for _, p := range practices {
		if strings.EqualFold(p.ProgramName, program) {
			out = append(out, p)
		}
	}
	return out
}
