// Package deadline classifies active practices by how far they are past, or
// approaching, their institutional deadlines.
//
// Every function here is a pure projection over its inputs: "now" is always
// passed in and practices are never mutated.
package deadline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/practicas/practice-hub/internal/domain/practice"
	"github.com/practicas/practice-hub/internal/domain/shared"
	"github.com/practicas/practice-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SEVERITY
// ══════════════════════════════════════════════════════════════════════════════

// Severity is the urgency bucket of an overdue practice.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityLow      Severity = "LOW"
	SeverityNormal   Severity = "NORMAL"
)

// Overdue thresholds in whole days past the end date.
const (
	// GraceDays - below this nothing is flagged.
	GraceDays = 5
	// LowFromDays - first day of the LOW bucket.
	LowFromDays = 7
	// CriticalAfterDays - strictly more than this is CRITICAL.
	CriticalAfterDays = 15
)

// SeverityFor maps days late to a severity. ok is false inside the grace period.
//
//	0..4  -> not flagged
//	5..6  -> NORMAL
//	7..15 -> LOW
//	16..  -> CRITICAL
func SeverityFor(daysLate int) (sev Severity, ok bool) {
	switch {
	case daysLate > CriticalAfterDays:
		return SeverityCritical, true
	case daysLate >= LowFromDays:
		return SeverityLow, true
	case daysLate >= GraceDays:
		return SeverityNormal, true
	default:
		return "", false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config parameterizes the acceptance and upcoming-milestone checks.
type Config struct {
	// AcceptanceWindowDays - days a practice may wait for teacher acceptance
	// before it is flagged.
	AcceptanceWindowDays int

	// UpcomingWindowDays - an IN_PROGRESS practice ending within this many days
	// is flagged as ending soon.
	UpcomingWindowDays int

	// Location - calendar used to count whole days. nil means UTC.
	Location *time.Location
}

// DefaultConfig returns a 5 day acceptance window and a 7 day upcoming window in UTC.
func DefaultConfig() Config {
	return Config{
		AcceptanceWindowDays: 5,
		UpcomingWindowDays:   7,
		Location:             time.UTC,
	}
}

// Validate checks that both windows are non-negative.
func (c Config) Validate() error {
	if c.AcceptanceWindowDays < 0 {
		return shared.NewDomainError("deadline", "ValidateConfig", shared.ErrInvalidConfiguration,
			fmt.Sprintf("acceptance window must be >= 0, got %d", c.AcceptanceWindowDays))
	}
	if c.UpcomingWindowDays < 0 {
		return shared.NewDomainError("deadline", "ValidateConfig", shared.ErrInvalidConfiguration,
			fmt.Sprintf("upcoming window must be >= 0, got %d", c.UpcomingWindowDays))
	}
	return nil
}

func (c Config) days(from, to time.Time) int {
	return timeutil.DaysBetween(from, to, c.Location)
}

// ══════════════════════════════════════════════════════════════════════════════
// OVERDUE CLOSURE CHECK
// ══════════════════════════════════════════════════════════════════════════════

// OverdueClassification is one active practice past its end date.
type OverdueClassification struct {
	PracticeID  string         `json:"practice_id"`
	ProgramName string         `json:"program_name"`
	State       practice.State `json:"state"`
	EndDate     time.Time      `json:"end_date"`
	DaysLate    int            `json:"days_late"`
	Severity    Severity       `json:"severity"`
}

// ClassifyOverdue flags active practices whose end date is at least GraceDays
// calendar days before now. Output follows input order.
func ClassifyOverdue(now time.Time, practices []*practice.Practice, cfg Config) []OverdueClassification {
	out := make([]OverdueClassification, 0)
	for _, p := range practices {
		if p == nil || !p.State.IsActive() {
			continue
		}
		daysLate := cfg.days(p.EndDate, now)
		sev, ok := SeverityFor(daysLate)
		if !ok {
			continue
		}
		out = append(out, OverdueClassification{
			PracticeID:  p.ID,
			ProgramName: p.ProgramName,
			State:       p.State,
			EndDate:     p.EndDate,
			DaysLate:    daysLate,
			Severity:    sev,
		})
	}
	return out
}

// ClassifyOverdueParallel splits practices into chunks and classifies them on up
// to workers goroutines. The result is identical to ClassifyOverdue.
func ClassifyOverdueParallel(
	ctx context.Context,
	now time.Time,
	practices []*practice.Practice,
	cfg Config,
	workers int,
) ([]OverdueClassification, error) {
	parts, err := classifyOverdueChunks(ctx, now, practices, cfg, workers)
	if err != nil {
		return nil, err
	}
	return flatten(parts), nil
}

// classifyOverdueChunks splits practices into at most workers contiguous
// chunks and classifies them concurrently. parts[i] holds chunk i's result.
func classifyOverdueChunks(
	ctx context.Context,
	now time.Time,
	practices []*practice.Practice,
	cfg Config,
	workers int,
) ([][]OverdueClassification, error) {
	if workers <= 1 || len(practices) < 2 {
		return [][]OverdueClassification{ClassifyOverdue(now, practices, cfg)}, nil
	}
	if workers > len(practices) {
		workers = len(practices)
	}

	chunkSize := (len(practices) + workers - 1) / workers
	chunks := make([][]*practice.Practice, 0, workers)
	for start := 0; start < len(practices); start += chunkSize {
		end := min(start+chunkSize, len(practices))
		chunks = append(chunks, practices[start:end])
	}

	// Each goroutine writes only its own slot, so order survives the fan-out.
	results := make([][]OverdueClassification, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = ClassifyOverdue(now, chunk, cfg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func flatten(parts [][]OverdueClassification) []OverdueClassification {
	total := 0
	for _, r := range parts {
		total += len(r)
	}
	out := make([]OverdueClassification, 0, total)
	for _, r := range parts {
		out = append(out, r...)
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// TEACHER ACCEPTANCE CHECK
// ══════════════════════════════════════════════════════════════════════════════

// AcceptanceExpiring is a practice that has waited for teacher acceptance for
// at least the configured window.
type AcceptanceExpiring struct {
	PracticeID  string    `json:"practice_id"`
	ProgramName string    `json:"program_name"`
	WaitingFrom time.Time `json:"waiting_from"`
	DaysWaiting int       `json:"days_waiting"`
}

// ClassifyAcceptanceExpiring flags PENDING_TEACHER_ACCEPTANCE practices whose
// days in that state reach cfg.AcceptanceWindowDays. The edge day is flagged.
func ClassifyAcceptanceExpiring(now time.Time, practices []*practice.Practice, cfg Config) []AcceptanceExpiring {
	out := make([]AcceptanceExpiring, 0)
	for _, p := range practices {
		if p == nil || p.State != practice.StatePendingTeacherAcceptance {
			continue
		}
		waiting := cfg.days(p.StateChangedAt, now)
		if waiting < cfg.AcceptanceWindowDays {
			continue
		}
		out = append(out, AcceptanceExpiring{
			PracticeID:  p.ID,
			ProgramName: p.ProgramName,
			WaitingFrom: p.StateChangedAt,
			DaysWaiting: waiting,
		})
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// NEAR-TERM MILESTONE CHECK
// ══════════════════════════════════════════════════════════════════════════════

// Milestone is an IN_PROGRESS practice close to, or past, its end date.
type Milestone struct {
	PracticeID  string    `json:"practice_id"`
	ProgramName string    `json:"program_name"`
	EndDate     time.Time `json:"end_date"`
	// Days - days until the end date for EndingSoon, days since it for ReportPending.
	Days int `json:"days"`
}

// Milestones groups the two near-term checks.
type Milestones struct {
	EndingSoon    []Milestone `json:"ending_soon"`
	ReportPending []Milestone `json:"report_pending"`
}

// EndingSoonIDs returns the practice ids ending within the upcoming window.
func (m Milestones) EndingSoonIDs() []string {
	return milestoneIDs(m.EndingSoon)
}

// ReportPendingIDs returns the practice ids past their end date without a report.
func (m Milestones) ReportPendingIDs() []string {
	return milestoneIDs(m.ReportPending)
}

func milestoneIDs(ms []Milestone) []string {
	ids := make([]string, len(ms))
	for i, m := range ms {
		ids[i] = m.PracticeID
	}
	return ids
}

// ClassifyUpcomingMilestones checks IN_PROGRESS practices. A practice ends soon
// when 0 <= days until end <= cfg.UpcomingWindowDays, and has its report pending
// when the end date has passed and no report document is attached.
func ClassifyUpcomingMilestones(now time.Time, practices []*practice.Practice, cfg Config) Milestones {
	out := Milestones{
		EndingSoon:    make([]Milestone, 0),
		ReportPending: make([]Milestone, 0),
	}
	for _, p := range practices {
		if p == nil || p.State != practice.StateInProgress {
			continue
		}
		until := cfg.days(now, p.EndDate)
		switch {
		case until >= 0 && until <= cfg.UpcomingWindowDays:
			out.EndingSoon = append(out.EndingSoon, Milestone{
				PracticeID:  p.ID,
				ProgramName: p.ProgramName,
				EndDate:     p.EndDate,
				Days:        until,
			})
		case until < 0 && !p.HasReport():
			out.ReportPending = append(out.ReportPending, Milestone{
				PracticeID:  p.ID,
				ProgramName: p.ProgramName,
				EndDate:     p.EndDate,
				Days:        -until,
			})
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// FULL REPORT
// ══════════════════════════════════════════════════════════════════════════════

// Report bundles the three checks and the overdue summary for one run.
type Report struct {
	GeneratedAt        time.Time               `json:"generated_at"`
	Checked            int                     `json:"checked"`
	Overdue            []OverdueClassification `json:"overdue"`
	AcceptanceExpiring []AcceptanceExpiring    `json:"acceptance_expiring"`
	Milestones         Milestones              `json:"milestones"`
	Summary            AlertSummary            `json:"summary"`
}

// IsEmpty returns true when no check flagged anything.
func (r Report) IsEmpty() bool {
	return len(r.Overdue) == 0 &&
		len(r.AcceptanceExpiring) == 0 &&
		len(r.Milestones.EndingSoon) == 0 &&
		len(r.Milestones.ReportPending) == 0
}

// Classify runs every check over practices.
func Classify(now time.Time, practices []*practice.Practice, cfg Config) Report {
	overdue := ClassifyOverdue(now, practices, cfg)
	return assemble(now, practices, overdue, Summarize(overdue), cfg)
}

// ClassifyParallel is Classify with the overdue check fanned out over workers.
// Each chunk is summarized on its own and the partial summaries are merged.
func ClassifyParallel(ctx context.Context, now time.Time, practices []*practice.Practice, cfg Config, workers int) (Report, error) {
	parts, err := classifyOverdueChunks(ctx, now, practices, cfg, workers)
	if err != nil {
		return Report{}, err
	}

	summary := Summarize(nil)
	for _, part := range parts {
		summary = summary.Merge(Summarize(part))
	}
	return assemble(now, practices, flatten(parts), summary, cfg), nil
}

// Notifier delivers a deadline report to the people who act on it.
type Notifier interface {
	NotifyDeadlines(ctx context.Context, report *Report) error
}

func assemble(now time.Time, practices []*practice.Practice, overdue []OverdueClassification, summary AlertSummary, cfg Config) Report {
	return Report{
		GeneratedAt:        now,
		Checked:            len(practices),
		Overdue:            overdue,
		AcceptanceExpiring: ClassifyAcceptanceExpiring(now, practices, cfg),
		Milestones:         ClassifyUpcomingMilestones(now, practices, cfg),
		Summary:            summary,
	}
}
